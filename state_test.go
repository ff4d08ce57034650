package servicetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]ServiceState]bool{}
	for _, pair := range [][2]ServiceState{
		{StateStarted, StateInitializingApp},
		{StateInitializingApp, StateInitializingServices},
		{StateInitializingApp, StatePendingTermination},
		{StateInitializingServices, StateInitializingServices},
		{StateInitializingServices, StateReady},
		{StateInitializingServices, StateUnhealthy},
		{StateInitializingServices, StatePendingTermination},
		{StateReady, StateReady},
		{StateReady, StateInitializingServices},
		{StateReady, StatePendingTermination},
		{StateUnhealthy, StateInitializingServices},
		{StateUnhealthy, StatePendingTermination},
		{StatePendingTermination, StateTerminated},
	} {
		allowed[pair] = true
	}

	for _, from := range AllStates() {
		for _, to := range AllStates() {
			want := allowed[[2]ServiceState{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatePredicates(t *testing.T) {
	for _, state := range AllStates() {
		assert.True(t, state.IsValid(), state)
	}
	assert.False(t, ServiceState("SLEEPING").IsValid())

	assert.True(t, StateUnhealthy.IsSticky())
	assert.True(t, StatePendingTermination.IsSticky())
	assert.True(t, StateTerminated.IsSticky())
	assert.False(t, StateReady.IsSticky())
	assert.False(t, StateInitializingServices.IsSticky())

	assert.True(t, StateTerminated.IsTerminal())
	assert.False(t, StateUnhealthy.IsTerminal())
}

func TestParseServiceState(t *testing.T) {
	for input, want := range map[string]ServiceState{
		"READY":                 StateReady,
		"initializing services": StateInitializingServices,
		" INITIALIZING APP ":    StateInitializingApp,
		"pending_termination":   StatePendingTermination,
	} {
		got, err := ParseServiceState(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := ParseServiceState("asleep")
	assert.ErrorIs(t, err, ErrInvalidState)
}
