package servicetree

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusFiltersByType(t *testing.T) {
	bus := NewEventBus(&testLogger{})
	var all, mounts []string

	require.NoError(t, bus.RegisterObserver(NewFunctionalObserver("all", func(ctx context.Context, event CloudEvent) error {
		all = append(all, event.Type())
		return nil
	})))
	require.NoError(t, bus.RegisterObserver(NewFunctionalObserver("mounts", func(ctx context.Context, event CloudEvent) error {
		mounts = append(mounts, event.Type())
		return nil
	}), EventTypeNodeMounted))

	ctx := context.Background()
	require.NoError(t, bus.NotifyObservers(ctx, NewCloudEvent(EventTypeNodeStateChanged, "servicetree/ROOT", nil, nil)))
	require.NoError(t, bus.NotifyObservers(ctx, NewCloudEvent(EventTypeNodeMounted, "servicetree/ROOT", MountedData{Parent: "ROOT", Child: "Q", Path: "/q"}, nil)))

	assert.Equal(t, []string{EventTypeNodeStateChanged, EventTypeNodeMounted}, all)
	assert.Equal(t, []string{EventTypeNodeMounted}, mounts)
	assert.Len(t, bus.GetObservers(), 2)
}

func TestEventBusContainsObserverFailures(t *testing.T) {
	logger := &testLogger{}
	bus := NewEventBus(logger)
	delivered := 0

	failing := NewFunctionalObserver("failing", func(ctx context.Context, event CloudEvent) error {
		return errors.New("sink offline")
	})
	panicking := NewFunctionalObserver("panicking", func(ctx context.Context, event CloudEvent) error {
		panic("observer bug")
	})
	counting := NewFunctionalObserver("counting", func(ctx context.Context, event CloudEvent) error {
		delivered++
		return nil
	})
	for _, o := range []Observer{failing, panicking, counting} {
		require.NoError(t, bus.RegisterObserver(o))
	}

	require.NoError(t, bus.NotifyObservers(context.Background(), NewCloudEvent(EventTypeNodeTerminated, "servicetree/ROOT", nil, nil)))
	assert.Equal(t, 1, delivered)
	assert.Len(t, logger.find("Observer error"), 1)
	assert.Len(t, logger.find("Observer panicked"), 1)

	require.NoError(t, bus.UnregisterObserver(counting))
	require.NoError(t, bus.NotifyObservers(context.Background(), NewCloudEvent(EventTypeNodeTerminated, "servicetree/ROOT", nil, nil)))
	assert.Equal(t, 1, delivered)

	assert.ErrorIs(t, bus.RegisterObserver(nil), ErrObserverNil)
}

func TestEventBusRejectsInvalidEvents(t *testing.T) {
	bus := NewEventBus(nil)
	event := NewCloudEvent(EventTypeNodeInitialized, "servicetree/ROOT", nil, nil)
	event.SetID("")
	assert.Error(t, bus.NotifyObservers(context.Background(), event))
}

func TestNewCloudEvent(t *testing.T) {
	event := NewCloudEvent(EventTypeNodeInitialized, "servicetree/QUERY_SERVICE", InitializationData{Node: "QUERY_SERVICE"}, map[string]any{"tree": "prediction"})
	require.NoError(t, ValidateCloudEvent(event))
	assert.NotEmpty(t, event.ID())
	assert.Equal(t, "prediction", event.Extensions()["tree"])

	var data InitializationData
	require.NoError(t, event.DataAs(&data))
	assert.Equal(t, "QUERY_SERVICE", data.Node)
}
