// Package app assembles the prediction service tree: a root "Prediction
// API" node with the query service mounted under it, served over HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/GoCodeAlone/servicetree"
	"github.com/GoCodeAlone/servicetree/config"
	"github.com/GoCodeAlone/servicetree/fetch"
	"github.com/GoCodeAlone/servicetree/metrics"
	"github.com/GoCodeAlone/servicetree/query"
	"github.com/GoCodeAlone/servicetree/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Tree layout
const (
	RootLabel      = "Prediction API"
	QueryMountPath = "/api/v1/query"
)

// ErrAlreadyStarted is returned by Start on a running application.
var ErrAlreadyStarted = errors.New("application already started")

// App owns the service tree and its supporting infrastructure.
type App struct {
	cfg       *config.Config
	logger    servicetree.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
	events    *servicetree.EventBus
	root      *servicetree.Node
	query     *query.Service
	health    *servicetree.HealthService
	fetcher   fetch.Fetcher

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	watchWg sync.WaitGroup
}

// Option configures an App.
type Option func(*App)

// WithFetcher replaces the artifact fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(a *App) {
		a.fetcher = f
	}
}

// New builds the tree described by cfg. Nodes schedule their
// initialization immediately; jobs start running once Start is called.
func New(ctx context.Context, cfg *config.Config, logger servicetree.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	a.scheduler = scheduler.NewScheduler(
		scheduler.WithWorkerCount(cfg.Scheduler.Workers),
		scheduler.WithQueueSize(cfg.Scheduler.QueueSize),
		scheduler.WithCheckInterval(cfg.Scheduler.CheckInterval),
		scheduler.WithMisfireGrace(cfg.Scheduler.MisfireGrace),
		scheduler.WithRetention(cfg.Scheduler.Retention),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(a.metrics),
	)

	a.events = servicetree.NewEventBus(logger)
	if err := a.events.RegisterObserver(servicetree.NewFunctionalObserver("lifecycle-log", a.logEvent)); err != nil {
		return nil, err
	}

	if a.fetcher == nil {
		f, err := a.defaultFetcher(ctx)
		if err != nil {
			return nil, err
		}
		a.fetcher = f
	}

	nodeOpts := []servicetree.NodeOption{
		servicetree.WithLogger(logger),
		servicetree.WithScheduler(a.scheduler),
		servicetree.WithInitializeAfter(cfg.Service.InitializeAfter),
		servicetree.WithMaxDepth(cfg.Service.MaxDepth),
		servicetree.WithRetrySchedule(cfg.Service.RetrySchedule),
		servicetree.WithSubject(a.events),
		servicetree.WithMetrics(a.metrics),
	}

	root, err := servicetree.NewNode(RootLabel, append(nodeOpts,
		servicetree.WithMiddleware(middleware.RequestID, requestLogger(logger)),
		servicetree.WithRoutes(func(r chi.Router) {
			r.Get("/health", func(w http.ResponseWriter, r *http.Request) { a.health.ServeHTTP(w, r) })
			r.Handle("/metrics", metrics.Handler(a.registry))
		}),
	)...)
	if err != nil {
		return nil, err
	}
	a.root = root

	a.query, err = query.New(query.Config{
		ModelURL:      cfg.Query.ModelURL,
		ModelPath:     cfg.Query.ModelPath,
		TopK:          cfg.Query.TopK,
		RateLimit:     cfg.Query.RateLimit,
		Burst:         cfg.Query.Burst,
		WatchArtifact: cfg.Query.WatchArtifact,
	},
		query.WithLogger(logger),
		query.WithFetcher(a.fetcher),
		query.WithMetrics(a.metrics),
		query.WithNodeOptions(nodeOpts...),
	)
	if err != nil {
		_ = root.Terminate(ctx)
		return nil, err
	}
	if err := root.Mount(QueryMountPath, a.query, query.Label); err != nil {
		_ = root.Terminate(ctx)
		_ = a.query.Terminate(ctx)
		return nil, err
	}

	a.health = servicetree.NewHealthService(root, servicetree.HealthServiceConfig{})
	return a, nil
}

func (a *App) defaultFetcher(ctx context.Context) (fetch.Fetcher, error) {
	router := fetch.NewRouter(a.logger)
	httpFetcher := fetch.NewHTTPFetcher(fetch.WithHTTPLogger(a.logger))
	router.Register("http", httpFetcher)
	router.Register("https", httpFetcher)

	if strings.HasPrefix(a.cfg.Query.ModelURL, "s3://") {
		client, err := fetch.NewS3Client(ctx, fetch.S3Options{
			Region:   a.cfg.Query.S3Region,
			Endpoint: a.cfg.Query.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		router.Register("s3", fetch.NewS3Fetcher(client))
	}
	return router, nil
}

func (a *App) logEvent(ctx context.Context, event servicetree.CloudEvent) error {
	a.logger.Debug("Lifecycle event", "type", event.Type(), "source", event.Source(), "id", event.ID())
	return nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.root }

// Root returns the root node.
func (a *App) Root() *servicetree.Node { return a.root }

// Query returns the query service node.
func (a *App) Query() *query.Service { return a.query }

// Events returns the lifecycle event bus.
func (a *App) Events() *servicetree.EventBus { return a.events }

// Start starts the scheduler and, when configured, the artifact watcher.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAlreadyStarted
	}
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.cfg.Query.WatchArtifact {
		a.watchWg.Add(1)
		go func() {
			defer a.watchWg.Done()
			if err := a.query.Watch(watchCtx); err != nil {
				a.logger.Warn("Artifact watcher stopped", "error", err)
			}
		}()
	}
	a.started = true
	a.logger.Info("Application started", "root", a.root.Name(), "initializeAfter", a.cfg.Service.InitializeAfter)
	return nil
}

// Serve serves HTTP on ln until ctx is cancelled, then shuts the server
// down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.root,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", "address", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Stopping HTTP server", "timeout", a.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	a.logger.Info("HTTP server stopped successfully")
	return nil
}

// Shutdown terminates the tree and stops the scheduler.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if err := a.root.Terminate(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.cancel != nil {
		a.cancel()
		a.watchWg.Wait()
	}
	if a.started {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
		}
		a.started = false
	}
	return errors.Join(errs...)
}

// Run starts the application, serves on the configured address and shuts
// down on SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("listening on %s: %w", a.cfg.Server.Addr, err)
	}

	serveErr := a.Serve(ctx, ln)
	a.logger.Info("Received shutdown, terminating service tree")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}

// requestLogger logs each request with its status and latency.
func requestLogger(logger servicetree.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"requestID", middleware.GetReqID(r.Context()),
			)
		})
	}
}
