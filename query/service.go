// Package query provides the prediction service node. Its initialization
// downloads and loads a model artifact; once ready it answers top-k
// category predictions for text queries.
package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/GoCodeAlone/servicetree"
	"github.com/GoCodeAlone/servicetree/fetch"
	"github.com/GoCodeAlone/servicetree/inference"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// Label is the display label of the query service node.
const Label = "Query Service"

// NodeName is the normalized name of the query service node.
var NodeName = servicetree.NormalizeName(Label)

// DefaultTopK is the number of predictions returned when a request does
// not set top_k.
const DefaultTopK = 10

// ErrModelPathRequired is returned when no local model path is configured.
var ErrModelPathRequired = errors.New("model path is required")

// Config configures the query service.
type Config struct {
	// ModelURL is the remote artifact location. When empty the artifact at
	// ModelPath is loaded as is.
	ModelURL string

	// ModelPath is where the artifact is stored locally.
	ModelPath string

	TopK      int
	RateLimit float64
	Burst     int

	// WatchArtifact reloads the model when the local artifact changes.
	WatchArtifact bool
}

// Loader reads a model artifact into a classifier.
type Loader func(path string) (inference.Classifier, error)

// Recorder receives predict request measurements.
type Recorder interface {
	ObservePrediction(code int, latency time.Duration)
}

// Service is the query service node.
type Service struct {
	*servicetree.Node

	cfg      Config
	logger   servicetree.Logger
	fetcher  fetch.Fetcher
	load     Loader
	metrics  Recorder
	limiter  *rate.Limiter
	nodeOpts []servicetree.NodeOption

	mu         sync.RWMutex
	classifier inference.Classifier
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service and node logger.
func WithLogger(logger servicetree.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFetcher sets the artifact fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithLoader replaces the model loader.
func WithLoader(load Loader) Option {
	return func(s *Service) {
		if load != nil {
			s.load = load
		}
	}
}

// WithMetrics sets the predict request recorder.
func WithMetrics(m Recorder) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNodeOptions passes options through to the underlying node.
func WithNodeOptions(opts ...servicetree.NodeOption) Option {
	return func(s *Service) {
		s.nodeOpts = append(s.nodeOpts, opts...)
	}
}

func loadNaiveBayes(path string) (inference.Classifier, error) {
	return inference.LoadFile(path)
}

// New creates the query service and schedules its initialization.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.ModelPath == "" {
		return nil, ErrModelPathRequired
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}

	s := &Service{
		cfg:    cfg,
		logger: nopLogger{},
		load:   loadNaiveBayes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = fetch.NewRouter(s.logger)
	}
	if cfg.RateLimit > 0 {
		burst := max(cfg.Burst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	nodeOpts := append([]servicetree.NodeOption{
		servicetree.WithLogger(s.logger),
		servicetree.WithInitializer(servicetree.Initializers(
			servicetree.InitializerFunc(s.ensureArtifact),
			servicetree.InitializerFunc(s.loadModel),
		)),
		servicetree.WithRoutes(func(r chi.Router) {
			r.Post("/predict", s.handlePredict)
		}),
	}, s.nodeOpts...)

	node, err := servicetree.NewNode(Label, nodeOpts...)
	if err != nil {
		return nil, err
	}
	s.Node = node
	return s, nil
}

// ensureArtifact downloads the artifact when a remote location is
// configured, otherwise checks that the local one exists.
func (s *Service) ensureArtifact(ctx context.Context) error {
	if s.cfg.ModelURL == "" {
		if _, err := os.Stat(s.cfg.ModelPath); err != nil {
			return fmt.Errorf("model artifact: %w", err)
		}
		return nil
	}
	if err := s.fetcher.Fetch(ctx, s.cfg.ModelURL, s.cfg.ModelPath); err != nil {
		return fmt.Errorf("downloading model: %w", err)
	}
	return nil
}

func (s *Service) loadModel(ctx context.Context) error {
	classifier, err := s.load(s.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	s.mu.Lock()
	s.classifier = classifier
	s.mu.Unlock()
	s.logger.Info("Model loaded", "node", NodeName, "path", s.cfg.ModelPath)
	return nil
}

func (s *Service) currentClassifier() inference.Classifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classifier
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
