package servicetree

import (
	"encoding/json"
	"fmt"
	"time"
)

// HealthStatus represents the health status of a service in the tree.
type HealthStatus int

const (
	// HealthStatusUnknown indicates that the health status cannot be determined,
	// typically because initialization has not completed yet.
	HealthStatusUnknown HealthStatus = iota

	// HealthStatusHealthy indicates that the service is operating normally.
	HealthStatusHealthy

	// HealthStatusDegraded indicates that the service is operating with reduced
	// functionality.
	HealthStatusDegraded

	// HealthStatusUnhealthy indicates that the service is not operating correctly.
	HealthStatusUnhealthy
)

// String returns the string representation of the health status.
func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status by name.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a status name.
func (s *HealthStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseHealthStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseHealthStatus parses a status name.
func ParseHealthStatus(name string) (HealthStatus, error) {
	switch name {
	case "healthy":
		return HealthStatusHealthy, nil
	case "degraded":
		return HealthStatusDegraded, nil
	case "unhealthy":
		return HealthStatusUnhealthy, nil
	case "unknown":
		return HealthStatusUnknown, nil
	default:
		return HealthStatusUnknown, fmt.Errorf("invalid health status: %s", name)
	}
}

// IsHealthy returns true if the status represents a healthy state.
func (s HealthStatus) IsHealthy() bool {
	return s == HealthStatusHealthy
}

// HealthReport is the health of one service or component in the tree.
type HealthReport struct {
	// Node is the name of the service the report belongs to.
	Node string `json:"node"`

	// Path is the slash-joined chain of service names from the root.
	Path string `json:"path"`

	// Component optionally narrows the report to part of the service.
	Component string `json:"component,omitempty"`

	Status HealthStatus `json:"status"`

	// State is the lifecycle state of the node, when the service is a node.
	State ServiceState `json:"state,omitempty"`

	Message string `json:"message,omitempty"`

	CheckedAt time.Time `json:"checkedAt"`

	// ObservedSince is when the service entered its current condition.
	ObservedSince time.Time `json:"observedSince"`

	// Optional reports do not affect readiness.
	Optional bool `json:"optional"`

	Details map[string]any `json:"details,omitempty"`
}

// AggregatedHealth is the combined health of a whole tree.
type AggregatedHealth struct {
	// Readiness is the worst status across required reports.
	Readiness HealthStatus `json:"readiness"`

	// Health is the worst status across all reports.
	Health HealthStatus `json:"health"`

	Reports []HealthReport `json:"reports"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// IsReady reports whether the tree can serve traffic.
func (h AggregatedHealth) IsReady() bool {
	return h.Readiness == HealthStatusHealthy || h.Readiness == HealthStatusDegraded
}

// Unhealthy returns the paths of reports that are not healthy.
func (h AggregatedHealth) Unhealthy() []string {
	var paths []string
	for _, report := range h.Reports {
		if report.Status != HealthStatusHealthy {
			paths = append(paths, report.Path)
		}
	}
	return paths
}

// worstStatus returns the more severe of two statuses. Unknown ranks worst.
func worstStatus(a, b HealthStatus) HealthStatus {
	statusPriority := map[HealthStatus]int{
		HealthStatusHealthy:   0,
		HealthStatusDegraded:  1,
		HealthStatusUnhealthy: 2,
		HealthStatusUnknown:   3,
	}
	if statusPriority[a] >= statusPriority[b] {
		return a
	}
	return b
}
