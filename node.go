package servicetree

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Service is a unit that can be mounted into a tree. Node is the standard
// implementation; the interface exists so readiness aggregation and
// mounting work over any conforming service.
type Service interface {
	http.Handler

	// Name is the normalized service name reported in status responses.
	Name() string

	// IsReady reports whether the service and all its descendants can
	// serve requests.
	IsReady() bool

	// Children returns the mounted children in mount order.
	Children() []Service
}

// attachable is implemented by services that track single ownership.
// Types embedding *Node satisfy it through promotion.
type attachable interface {
	attach(depth int) error
	detach()
	setDepth(depth int)
	node() *Node
}

// MountPoint records where a child is mounted.
type MountPoint struct {
	Path        string  `json:"path"`
	DisplayName string  `json:"displayName"`
	Service     Service `json:"-"`
}

// Node is a service with its own lifecycle, HTTP routes, and delayed
// initialization routine. A node is ready once its own initialization has
// completed and every mounted descendant is ready.
//
// The state field is written only by the node itself. READY is a
// projection written by status checks, never by the initialization job.
type Node struct {
	id         string
	name       string
	label      string
	jobID      string
	retryJobID string

	logger          Logger
	scheduler       JobScheduler
	initializer     Initializer
	initializeAfter time.Duration
	retrySchedule   string
	maxDepth        int
	subject         Subject
	metrics         MetricsRecorder
	middlewares     []func(http.Handler) http.Handler
	routes          []func(r chi.Router)
	router          *chi.Mux

	// initMu serializes initialization runs.
	initMu sync.Mutex

	mu          sync.RWMutex
	state       ServiceState
	stateSince  time.Time
	initialized bool
	running     bool
	lastErr     error
	children    []Service
	mounts      []MountPoint
	attached    bool
	depth       int
}

// NormalizeName converts a display label to a service name: upper-cased
// with spaces replaced by underscores.
func NormalizeName(label string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(label)), " ", "_")
}

// NewNode constructs a node, wires its routes and schedules its
// initialization job. Route wiring or scheduling failures are fatal.
func NewNode(label string, opts ...NodeOption) (*Node, error) {
	if strings.TrimSpace(label) == "" {
		return nil, ErrEmptyLabel
	}

	n := &Node{
		id:              uuid.NewString(),
		label:           label,
		name:            NormalizeName(label),
		logger:          nopLogger{},
		initializer:     noopInitializer{},
		initializeAfter: DefaultInitializeAfter,
		maxDepth:        DefaultMaxDepth,
		state:           StateStarted,
		stateSince:      time.Now(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, fmt.Errorf("configuring %s: %w", n.name, err)
		}
	}
	n.jobID = fmt.Sprintf("initialize_app/%s/%s", n.name, n.id)
	n.retryJobID = fmt.Sprintf("retry_initialize/%s/%s", n.name, n.id)

	ctx := context.Background()
	if err := n.transition(ctx, StateInitializingApp); err != nil {
		return nil, err
	}
	if err := n.buildRouter(); err != nil {
		return nil, fmt.Errorf("wiring routes for %s: %w", n.name, err)
	}
	if err := n.transition(ctx, StateInitializingServices); err != nil {
		return nil, err
	}

	if n.scheduler == nil {
		n.logger.Warn("No scheduler configured, initialization must be triggered manually", "node", n.name)
		return n, nil
	}

	runAt := time.Now().Add(n.initializeAfter)
	if _, err := n.scheduler.Schedule(n.jobID, n.Initialize, n.initializeAfter); err != nil {
		return nil, fmt.Errorf("scheduling initialization for %s: %w", n.name, err)
	}
	n.logger.Info("Scheduled initialization job", "node", n.name, "job", n.jobID, "runAt", runAt)

	if n.retrySchedule != "" {
		if _, err := n.scheduler.ScheduleRecurring(n.retryJobID, n.retrySchedule, n.retryIfUnhealthy); err != nil {
			_ = n.scheduler.Cancel(n.jobID)
			return nil, fmt.Errorf("scheduling initialization retries for %s: %w", n.name, err)
		}
		n.logger.Debug("Scheduled initialization retries", "node", n.name, "schedule", n.retrySchedule)
	}
	return n, nil
}

func (n *Node) buildRouter() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRouteConflict, r)
		}
	}()

	r := chi.NewRouter()
	r.Use(Recoverer(n.logger))
	r.Use(n.middlewares...)
	r.Get("/status", n.handleStatus)
	for _, register := range n.routes {
		register(r)
	}
	n.router = r
	return nil
}

// ID returns the unique node id.
func (n *Node) ID() string { return n.id }

// Name returns the normalized service name.
func (n *Node) Name() string { return n.name }

// Label returns the label the node was constructed with.
func (n *Node) Label() string { return n.label }

// JobID returns the id of the node's initialization job.
func (n *Node) JobID() string { return n.jobID }

// ServeHTTP dispatches to the node router.
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.router.ServeHTTP(w, r)
}

// State returns the current lifecycle state.
func (n *Node) State() ServiceState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// StateSince returns when the node entered its current state.
func (n *Node) StateSince() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stateSince
}

// IsInitialized reports whether an initialization run has completed
// successfully.
func (n *Node) IsInitialized() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.initialized
}

// LastError returns the error of the most recent failed initialization run,
// or nil after a successful one.
func (n *Node) LastError() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastErr
}

// Depth returns the distance from the root of the tree the node is
// currently mounted in.
func (n *Node) Depth() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.depth
}

// Children returns a copy of the mounted children in mount order.
func (n *Node) Children() []Service {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Service(nil), n.children...)
}

// Mounts returns a copy of the mount points in mount order.
func (n *Node) Mounts() []MountPoint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]MountPoint(nil), n.mounts...)
}

// Mount attaches child under path on this node's router and appends it to
// the children consulted by readiness checks. Mounting is expected to
// complete before the tree starts serving requests.
func (n *Node) Mount(path string, child Service, displayName string) error {
	if child == nil {
		return ErrMountNilService
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidMountPath, path)
	}
	if sameService(child, n) {
		return ErrMountSelf
	}
	if containsService(child, n) {
		return fmt.Errorf("%w: %s is an ancestor of %s", ErrMountCycle, child.Name(), n.name)
	}

	depth := n.Depth() + 1
	if height := subtreeHeight(child); depth+height > n.maxDepth {
		return fmt.Errorf("%w: mounting %s at depth %d with height %d exceeds %d", ErrMountDepthExceeded, child.Name(), depth, height, n.maxDepth)
	}

	owned, tracked := child.(attachable)
	if tracked {
		if err := owned.attach(depth); err != nil {
			return err
		}
	}
	if err := n.mountRoute(path, child); err != nil {
		if tracked {
			owned.detach()
		}
		return err
	}

	if displayName == "" {
		displayName = child.Name()
	}
	n.mu.Lock()
	n.children = append(n.children, child)
	n.mounts = append(n.mounts, MountPoint{Path: path, DisplayName: displayName, Service: child})
	n.mu.Unlock()

	n.logger.Info("Mounted service", "node", n.name, "child", child.Name(), "path", path, "displayName", displayName)
	n.emit(context.Background(), EventTypeNodeMounted, MountedData{Parent: n.name, Child: child.Name(), Path: path})
	return nil
}

func (n *Node) mountRoute(path string, child http.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRouteConflict, r)
		}
	}()
	n.router.Mount(path, child)
	return nil
}

func (n *Node) attach(depth int) error {
	n.mu.Lock()
	if n.attached {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyMounted, n.name)
	}
	n.attached = true
	n.mu.Unlock()

	n.setDepth(depth)
	return nil
}

func (n *Node) detach() {
	n.mu.Lock()
	n.attached = false
	n.mu.Unlock()

	n.setDepth(0)
}

func (n *Node) setDepth(depth int) {
	n.mu.Lock()
	n.depth = depth
	children := append([]Service(nil), n.children...)
	n.mu.Unlock()

	for _, child := range children {
		if c, ok := child.(attachable); ok {
			c.setDepth(depth + 1)
		}
	}
}

func (n *Node) node() *Node { return n }

// Initialize runs the node's initialization routine. It is the body of the
// scheduled initialization job and may also be called directly. Runs are
// serialized; a failure moves the node to UNHEALTHY until a later run
// succeeds. A successful run leaves the node in INITIALIZING_SERVICES: the
// READY projection is only written by status checks.
func (n *Node) Initialize(ctx context.Context) error {
	n.initMu.Lock()
	defer n.initMu.Unlock()

	n.mu.Lock()
	if n.state.IsTerminal() {
		n.mu.Unlock()
		return fmt.Errorf("initializing %s: %w", n.name, ErrNodeTerminated)
	}
	from, changed, err := n.transitionLocked(StateInitializingServices)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	n.running = true
	n.mu.Unlock()
	if changed {
		n.stateChanged(ctx, from, StateInitializingServices)
	}

	n.logger.Info("Begin initialize routine", "node", n.name)
	start := time.Now()
	runErr := n.runInitializer(ctx)
	elapsed := time.Since(start)

	n.mu.Lock()
	n.running = false
	if n.state.IsTerminal() {
		n.mu.Unlock()
		return fmt.Errorf("initializing %s: %w", n.name, ErrNodeTerminated)
	}
	changed = false
	if runErr != nil {
		n.lastErr = runErr
		from, changed, _ = n.transitionLocked(StateUnhealthy)
	} else {
		n.initialized = true
		n.lastErr = nil
	}
	n.mu.Unlock()
	if changed {
		n.stateChanged(ctx, from, StateUnhealthy)
	}

	if n.metrics != nil {
		n.metrics.RecordInitialization(n.name, elapsed, runErr)
	}
	if runErr != nil {
		n.logger.Error("Initialize routine failed", "node", n.name, "duration", elapsed, "error", runErr)
		n.emit(ctx, EventTypeNodeInitializeFailed, InitializationData{Node: n.name, Duration: elapsed, Error: runErr.Error()})
		return fmt.Errorf("initializing %s: %w", n.name, runErr)
	}
	n.logger.Info("Initialize routine completed", "node", n.name, "duration", elapsed)
	n.emit(ctx, EventTypeNodeInitialized, InitializationData{Node: n.name, Duration: elapsed})
	return nil
}

func (n *Node) runInitializer(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initializer panicked: %v", r)
		}
	}()
	return n.initializer.Initialize(ctx)
}

// Reinitialize schedules a new initialization run after delay, replacing
// any pending run of this node's job.
func (n *Node) Reinitialize(delay time.Duration) error {
	if n.scheduler == nil {
		return ErrNoScheduler
	}
	if n.State().IsTerminal() {
		return ErrNodeTerminated
	}
	if _, err := n.scheduler.Schedule(n.jobID, n.Initialize, delay); err != nil {
		return fmt.Errorf("rescheduling initialization for %s: %w", n.name, err)
	}
	n.logger.Info("Rescheduled initialization job", "node", n.name, "job", n.jobID, "delay", delay)
	return nil
}

func (n *Node) retryIfUnhealthy(ctx context.Context) error {
	if n.State() != StateUnhealthy {
		return nil
	}
	n.logger.Info("Retrying initialization of unhealthy node", "node", n.name)
	return n.Reinitialize(0)
}

// IsReady reports whether the node and every descendant can serve. A ready
// node is projected to READY; a READY node whose descendants stopped being
// ready is demoted to INITIALIZING_SERVICES.
func (n *Node) IsReady() bool {
	if !n.selfReady() {
		return false
	}
	if ok, _ := AggregateReadiness(n.Children(), n.logger); !ok {
		n.demote()
		return false
	}
	return n.promote()
}

// Status answers a status check: children first, then the node itself.
func (n *Node) Status(ctx context.Context) (StatusMessage, error) {
	children := n.Children()
	if ok, _ := AggregateReadiness(children, n.logger); !ok {
		n.demote()
		return n.notReady()
	}
	if !n.selfReady() || !n.promote() {
		n.logger.Info("Endpoint not ready", "node", n.name, "state", n.State())
		return n.notReady()
	}

	n.recordStatus(true)
	subapps := make([]string, 0, len(children))
	for _, child := range children {
		subapps = append(subapps, child.Name())
	}
	return StatusMessage{Subapps: subapps, APIState: StateReady}, nil
}

func (n *Node) notReady() (StatusMessage, error) {
	n.recordStatus(false)
	return StatusMessage{}, NotReadyError(n.State())
}

func (n *Node) recordStatus(ready bool) {
	if n.metrics != nil {
		n.metrics.RecordStatusCheck(n.name, ready)
	}
}

func (n *Node) selfReady() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.selfReadyLocked()
}

func (n *Node) selfReadyLocked() bool {
	return n.initialized && !n.running && !n.state.IsSticky()
}

func (n *Node) promote() bool {
	n.mu.Lock()
	if !n.selfReadyLocked() {
		n.mu.Unlock()
		return false
	}
	from, changed, err := n.transitionLocked(StateReady)
	n.mu.Unlock()
	if err != nil {
		return false
	}
	if changed {
		n.stateChanged(context.Background(), from, StateReady)
	}
	return true
}

func (n *Node) demote() {
	n.mu.Lock()
	if n.state != StateReady {
		n.mu.Unlock()
		return
	}
	from, changed, _ := n.transitionLocked(StateInitializingServices)
	n.mu.Unlock()
	if changed {
		n.stateChanged(context.Background(), from, StateInitializingServices)
	}
}

// BuildError creates an error signal carrying the node's current state.
func (n *Node) BuildError(httpStatusCode int, httpMessage, description, details string) *ErrorSignal {
	sig := NewErrorSignal(httpStatusCode, httpMessage, description, details)
	sig.APIState = n.State()
	return sig
}

// RespondError logs a handler failure and renders it. Errors that are not
// signals become the default internal error.
func (n *Node) RespondError(w http.ResponseWriter, r *http.Request, err error) {
	sig, ok := AsErrorSignal(err)
	if !ok {
		sig = n.BuildError(http.StatusInternalServerError, HTTPMessageInternalServerError, HTTPMessageInternalServerError, err.Error())
	} else if sig.APIState == "" {
		sig = sig.WithState(n.State())
	}

	if sig.IsServerError() {
		n.logger.Error("Request failed", "node", n.name, "path", r.URL.Path, "status", sig.HTTPStatusCode, "error", err)
	} else {
		n.logger.Info("Request rejected", "node", n.name, "path", r.URL.Path, "status", sig.HTTPStatusCode, "details", sig.Details)
	}
	WriteJSON(w, sig.HTTPStatusCode, ErrorResponse{Error: sig})
}

// Terminate decommissions the node and its subtree. Pending initialization
// jobs are cancelled; a run already in progress finishes but its outcome
// is discarded.
func (n *Node) Terminate(ctx context.Context) error {
	n.mu.Lock()
	if n.state.IsTerminal() {
		n.mu.Unlock()
		return nil
	}
	from, _, err := n.transitionLocked(StatePendingTermination)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	children := append([]Service(nil), n.children...)
	n.mu.Unlock()
	n.stateChanged(ctx, from, StatePendingTermination)

	if n.scheduler != nil {
		for _, jobID := range []string{n.jobID, n.retryJobID} {
			if err := n.scheduler.Cancel(jobID); err != nil {
				n.logger.Debug("Cancel job", "node", n.name, "job", jobID, "error", err)
			}
		}
	}

	var errs []error
	for _, child := range children {
		if t, ok := child.(interface{ Terminate(context.Context) error }); ok {
			if err := t.Terminate(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}

	n.mu.Lock()
	from, _, _ = n.transitionLocked(StateTerminated)
	n.mu.Unlock()
	n.stateChanged(ctx, from, StateTerminated)

	n.logger.Info("Node terminated", "node", n.name)
	n.emit(ctx, EventTypeNodeTerminated, StateChangedData{Node: n.name, From: from, To: StateTerminated})
	return errors.Join(errs...)
}

// transition moves the node to a new state and publishes the change.
func (n *Node) transition(ctx context.Context, to ServiceState) error {
	n.mu.Lock()
	from, changed, err := n.transitionLocked(to)
	n.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		n.stateChanged(ctx, from, to)
	}
	return nil
}

// transitionLocked validates and applies a state change. Callers hold n.mu.
func (n *Node) transitionLocked(to ServiceState) (ServiceState, bool, error) {
	from := n.state
	if from == to {
		return from, false, nil
	}
	if !CanTransition(from, to) {
		return from, false, fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, n.name, from, to)
	}
	n.state = to
	n.stateSince = time.Now()
	return from, true, nil
}

func (n *Node) stateChanged(ctx context.Context, from, to ServiceState) {
	n.logger.Debug("State changed", "node", n.name, "from", from, "to", to)
	if n.metrics != nil {
		n.metrics.RecordState(n.name, string(to))
	}
	n.emit(ctx, EventTypeNodeStateChanged, StateChangedData{Node: n.name, From: from, To: to})
}

func (n *Node) emit(ctx context.Context, eventType string, data any) {
	if n.subject == nil {
		return
	}
	event := NewCloudEvent(eventType, "servicetree/"+n.name, data, nil)
	if err := n.subject.NotifyObservers(ctx, event); err != nil {
		n.logger.Debug("Failed to emit event", "node", n.name, "eventType", eventType, "error", err)
	}
}
