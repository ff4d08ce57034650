package servicetree

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Health service errors
var (
	ErrProviderNameEmpty     = errors.New("provider name cannot be empty")
	ErrProviderNil           = errors.New("provider cannot be nil")
	ErrProviderAlreadyExists = errors.New("provider already registered")
)

// HealthService collects a health report for every service in a tree plus
// any explicitly registered component providers. Unlike status checks it
// never short-circuits: every service is checked, concurrently, with a
// per-check timeout.
type HealthService struct {
	root Service

	mu        sync.RWMutex
	providers map[string]providerInfo

	cacheTTL   time.Duration
	timeout    time.Duration
	lastResult *AggregatedHealth
	lastCheck  time.Time
}

type providerInfo struct {
	provider HealthProvider
	optional bool
}

// HealthServiceConfig configures a HealthService.
type HealthServiceConfig struct {
	// CacheTTL is how long a collected result is reused. Zero disables caching.
	CacheTTL time.Duration

	// Timeout bounds each individual health check.
	Timeout time.Duration
}

// NewHealthService creates a health service for the tree rooted at root.
func NewHealthService(root Service, config HealthServiceConfig) *HealthService {
	if config.Timeout <= 0 {
		config.Timeout = 200 * time.Millisecond
	}
	return &HealthService{
		root:      root,
		providers: make(map[string]providerInfo),
		cacheTTL:  config.CacheTTL,
		timeout:   config.Timeout,
	}
}

// RegisterProvider adds a component provider. Optional providers are
// reported but do not affect readiness.
func (s *HealthService) RegisterProvider(name string, provider HealthProvider, optional bool) error {
	if name == "" {
		return ErrProviderNameEmpty
	}
	if provider == nil {
		return ErrProviderNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyExists, name)
	}
	s.providers[name] = providerInfo{provider: provider, optional: optional}
	s.lastResult = nil
	return nil
}

type healthTarget struct {
	name     string
	path     string
	provider HealthProvider
	optional bool
}

type healthResult struct {
	index   int
	reports []HealthReport
}

// Collect checks every service and provider and aggregates the results.
// Reports are ordered by tree position, followed by component providers in
// name order.
func (s *HealthService) Collect(ctx context.Context) (AggregatedHealth, error) {
	s.mu.RLock()
	if s.cacheTTL > 0 && s.lastResult != nil && time.Since(s.lastCheck) < s.cacheTTL {
		result := *s.lastResult
		s.mu.RUnlock()
		return result, nil
	}
	targets := s.targets()
	s.mu.RUnlock()

	results := make(chan healthResult, len(targets))
	for i, target := range targets {
		go s.collectFrom(ctx, i, target, results)
	}

	ordered := make([][]HealthReport, len(targets))
	for range targets {
		select {
		case result := <-results:
			ordered[result.index] = result.reports
		case <-ctx.Done():
			return AggregatedHealth{}, fmt.Errorf("collecting health: %w", ctx.Err())
		}
	}

	reports := make([]HealthReport, 0, len(targets))
	for _, batch := range ordered {
		reports = append(reports, batch...)
	}
	aggregated := aggregateHealth(reports)
	aggregated.GeneratedAt = time.Now()

	s.mu.Lock()
	s.lastResult = &aggregated
	s.lastCheck = aggregated.GeneratedAt
	s.mu.Unlock()

	return aggregated, nil
}

// targets lists the tree services and registered providers. Callers hold s.mu.
func (s *HealthService) targets() []healthTarget {
	var targets []healthTarget
	var path []string
	Walk(s.root, func(svc Service, depth int) bool {
		path = append(path[:depth], svc.Name())
		target := healthTarget{name: svc.Name(), path: strings.Join(path, "/")}
		if provider, ok := svc.(HealthProvider); ok {
			target.provider = provider
		}
		targets = append(targets, target)
		return true
	})

	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		info := s.providers[name]
		targets = append(targets, healthTarget{name: name, path: name, provider: info.provider, optional: info.optional})
	}
	return targets
}

func (s *HealthService) collectFrom(ctx context.Context, index int, target healthTarget, results chan<- healthResult) {
	defer func() {
		if r := recover(); r != nil {
			results <- healthResult{index: index, reports: []HealthReport{
				target.errorReport(fmt.Errorf("%w: %v", ErrHealthCheckPanicked, r)),
			}}
		}
	}()

	if target.provider == nil {
		results <- healthResult{index: index, reports: []HealthReport{{
			Node:      target.name,
			Path:      target.path,
			Status:    HealthStatusUnknown,
			Message:   "service does not report health",
			CheckedAt: time.Now(),
			Optional:  target.optional,
		}}}
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reports, err := target.provider.HealthCheck(checkCtx)
	if err != nil {
		results <- healthResult{index: index, reports: []HealthReport{target.errorReport(err)}}
		return
	}

	now := time.Now()
	for i := range reports {
		if reports[i].Node == "" {
			reports[i].Node = target.name
		}
		reports[i].Path = target.path
		if reports[i].Component != "" {
			reports[i].Path = target.path + "#" + reports[i].Component
		}
		reports[i].Optional = reports[i].Optional || target.optional
		if reports[i].CheckedAt.IsZero() {
			reports[i].CheckedAt = now
		}
		if reports[i].ObservedSince.IsZero() {
			reports[i].ObservedSince = now
		}
	}
	results <- healthResult{index: index, reports: reports}
}

func (t healthTarget) errorReport(err error) HealthReport {
	status := HealthStatusUnhealthy
	if temp, ok := err.(interface{ Temporary() bool }); ok && temp.Temporary() {
		status = HealthStatusDegraded
	}
	now := time.Now()
	return HealthReport{
		Node:          t.name,
		Path:          t.path,
		Status:        status,
		Message:       fmt.Sprintf("Health check failed: %v", err),
		CheckedAt:     now,
		ObservedSince: now,
		Optional:      t.optional,
		Details:       map[string]any{"error": err.Error()},
	}
}

func aggregateHealth(reports []HealthReport) AggregatedHealth {
	readiness := HealthStatusHealthy
	health := HealthStatusHealthy
	for _, report := range reports {
		health = worstStatus(health, report.Status)
		if !report.Optional {
			readiness = worstStatus(readiness, report.Status)
		}
	}
	if reports == nil {
		reports = []HealthReport{}
	}
	return AggregatedHealth{
		Readiness: readiness,
		Health:    health,
		Reports:   reports,
	}
}

// ServeHTTP renders the aggregated health: 200 when the tree is ready,
// 503 otherwise.
func (s *HealthService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health, err := s.Collect(r.Context())
	if err != nil {
		WriteError(w, NewErrorSignal(http.StatusServiceUnavailable, HTTPMessageServiceUnavailable, "Health check failed", err.Error()))
		return
	}
	status := http.StatusOK
	if !health.IsReady() {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, health)
}
