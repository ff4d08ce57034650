package servicetree

import (
	"context"
	"time"
)

// HealthProvider reports the health of a service. Services in a tree that
// implement it are consulted by the HealthService; other components can be
// registered explicitly.
type HealthProvider interface {
	// HealthCheck returns reports for the provider. Node and Path are filled
	// in by the caller when empty.
	HealthCheck(ctx context.Context) ([]HealthReport, error)
}

// HealthProviderFunc adapts a function to the HealthProvider interface.
type HealthProviderFunc func(ctx context.Context) ([]HealthReport, error)

// HealthCheck calls f(ctx).
func (f HealthProviderFunc) HealthCheck(ctx context.Context) ([]HealthReport, error) {
	return f(ctx)
}

// HealthCheck reports the node's own condition without consulting its
// children; the HealthService walks the tree for those.
func (n *Node) HealthCheck(ctx context.Context) ([]HealthReport, error) {
	n.mu.RLock()
	state := n.state
	since := n.stateSince
	initialized := n.initialized
	running := n.running
	lastErr := n.lastErr
	n.mu.RUnlock()

	report := HealthReport{
		Node:          n.name,
		State:         state,
		CheckedAt:     time.Now(),
		ObservedSince: since,
		Details:       map[string]any{"initialized": initialized},
	}

	switch {
	case state == StateUnhealthy:
		report.Status = HealthStatusUnhealthy
		report.Message = "initialization failed"
		if lastErr != nil {
			report.Details["error"] = lastErr.Error()
		}
	case state.IsTerminal():
		report.Status = HealthStatusUnhealthy
		report.Message = "node is decommissioned"
	case initialized && !running:
		report.Status = HealthStatusHealthy
		report.Message = "initialized"
	default:
		report.Status = HealthStatusUnknown
		report.Message = "initialization pending"
	}
	return []HealthReport{report}, nil
}
