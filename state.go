package servicetree

import (
	"fmt"
	"strings"
)

// ServiceState is the lifecycle status of a node. States are ordered by
// occurrence, not by severity.
type ServiceState string

const (
	// StateStarted is the state of a node that has been allocated but not wired.
	StateStarted ServiceState = "STARTED"

	// StateInitializingApp is held while a node registers its routes and
	// prepares its child slots. Failures here abort construction.
	StateInitializingApp ServiceState = "INITIALIZING_APP"

	// StateInitializingServices is held from the end of construction until a
	// status check projects the node to READY, and again during every
	// initialization run.
	StateInitializingServices ServiceState = "INITIALIZING_SERVICES"

	// StateUnhealthy is entered when the initialization routine fails. It is
	// sticky until a later initialization run succeeds.
	StateUnhealthy ServiceState = "UNHEALTHY"

	// StateReady is the projection a status check writes when the node and
	// every descendant are ready.
	StateReady ServiceState = "READY"

	// StatePendingTermination marks a node that is being decommissioned.
	StatePendingTermination ServiceState = "PENDING_TERMINATION"

	// StateTerminated is the final state of a decommissioned node.
	StateTerminated ServiceState = "TERMINATED"
)

// transitions is the lifecycle transition table. A state maps to the states
// it may move to.
var transitions = map[ServiceState][]ServiceState{
	StateStarted:              {StateInitializingApp},
	StateInitializingApp:      {StateInitializingServices, StatePendingTermination},
	StateInitializingServices: {StateInitializingServices, StateReady, StateUnhealthy, StatePendingTermination},
	StateReady:                {StateReady, StateInitializingServices, StatePendingTermination},
	StateUnhealthy:            {StateInitializingServices, StatePendingTermination},
	StatePendingTermination:   {StateTerminated},
	StateTerminated:           {},
}

// AllStates returns every known state in lifecycle order.
func AllStates() []ServiceState {
	return []ServiceState{
		StateStarted,
		StateInitializingApp,
		StateInitializingServices,
		StateUnhealthy,
		StateReady,
		StatePendingTermination,
		StateTerminated,
	}
}

// String returns the wire representation of the state.
func (s ServiceState) String() string {
	return string(s)
}

// IsValid reports whether s is one of the declared states.
func (s ServiceState) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsSticky reports whether the state blocks readiness regardless of the
// initialized flag and the state of any children.
func (s ServiceState) IsSticky() bool {
	switch s {
	case StateUnhealthy, StatePendingTermination, StateTerminated:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the node is being or has been decommissioned.
func (s ServiceState) IsTerminal() bool {
	return s == StatePendingTermination || s == StateTerminated
}

// CanTransition reports whether the lifecycle table allows moving from one
// state to another.
func CanTransition(from, to ServiceState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParseServiceState parses a state name. Spaces are accepted in place of
// underscores and matching is case-insensitive.
func ParseServiceState(s string) (ServiceState, error) {
	candidate := ServiceState(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	if !candidate.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return candidate, nil
}
