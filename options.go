package servicetree

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Node defaults
const (
	DefaultInitializeAfter = 5 * time.Second
	DefaultMaxDepth        = 16
)

// Option errors
var (
	ErrNegativeInitializeAfter = errors.New("initialize delay cannot be negative")
	ErrInvalidMaxDepth         = errors.New("max depth must be at least 1")
	ErrNilRoutes               = errors.New("route registration function cannot be nil")
)

// JobScheduler runs a node's initialization routine off the request path.
// The scheduler package provides the standard implementation.
type JobScheduler interface {
	// Schedule runs routine once after delay, replacing any pending run
	// registered under the same job id.
	Schedule(jobID string, routine func(ctx context.Context) error, delay time.Duration) (string, error)

	// ScheduleRecurring runs routine on a cron schedule.
	ScheduleRecurring(jobID, cronExpr string, routine func(ctx context.Context) error) (string, error)

	// Cancel cancels a job.
	Cancel(jobID string) error
}

// MetricsRecorder receives node lifecycle measurements.
type MetricsRecorder interface {
	RecordState(node, state string)
	RecordInitialization(node string, duration time.Duration, err error)
	RecordStatusCheck(node string, ready bool)
}

// NodeOption configures a Node during construction.
type NodeOption func(*Node) error

// WithLogger sets the node logger.
func WithLogger(logger Logger) NodeOption {
	return func(n *Node) error {
		if logger != nil {
			n.logger = logger
		}
		return nil
	}
}

// WithScheduler sets the scheduler that runs the initialization job.
// Without one, initialization must be triggered with Initialize.
func WithScheduler(scheduler JobScheduler) NodeOption {
	return func(n *Node) error {
		n.scheduler = scheduler
		return nil
	}
}

// WithInitializer sets the routine run by the initialization job.
func WithInitializer(initializer Initializer) NodeOption {
	return func(n *Node) error {
		if initializer != nil {
			n.initializer = initializer
		}
		return nil
	}
}

// WithInitializeAfter sets the delay between construction and the first
// initialization run.
func WithInitializeAfter(delay time.Duration) NodeOption {
	return func(n *Node) error {
		if delay < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeInitializeAfter, delay)
		}
		n.initializeAfter = delay
		return nil
	}
}

// WithRetrySchedule registers a cron schedule on which an UNHEALTHY node
// re-runs its initialization. An empty expression disables retries.
func WithRetrySchedule(cronExpr string) NodeOption {
	return func(n *Node) error {
		n.retrySchedule = cronExpr
		return nil
	}
}

// WithMaxDepth bounds the depth of the tree below this node.
func WithMaxDepth(depth int) NodeOption {
	return func(n *Node) error {
		if depth < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidMaxDepth, depth)
		}
		n.maxDepth = depth
		return nil
	}
}

// WithRoutes registers additional routes on the node router. Routes are
// added after the status route.
func WithRoutes(register func(r chi.Router)) NodeOption {
	return func(n *Node) error {
		if register == nil {
			return ErrNilRoutes
		}
		n.routes = append(n.routes, register)
		return nil
	}
}

// WithMiddleware adds middleware to the node router.
func WithMiddleware(middlewares ...func(http.Handler) http.Handler) NodeOption {
	return func(n *Node) error {
		n.middlewares = append(n.middlewares, middlewares...)
		return nil
	}
}

// WithSubject sets the subject lifecycle events are published to.
func WithSubject(subject Subject) NodeOption {
	return func(n *Node) error {
		n.subject = subject
		return nil
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) NodeOption {
	return func(n *Node) error {
		n.metrics = metrics
		return nil
	}
}
