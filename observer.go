package servicetree

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer receives lifecycle events emitted by nodes.
type Observer interface {
	// OnEvent processes an event. Errors are logged by the subject and never
	// affect the node that emitted the event.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// Subject is the event source nodes publish to.
type Subject interface {
	// RegisterObserver adds an observer. With no event types the observer
	// receives every event.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to every interested observer.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about the registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent calls the handler.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID returns the observer id.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// EventBus is an in-process Subject. Events are delivered synchronously on
// the emitting goroutine in registration order, so observers must not block.
type EventBus struct {
	mu        sync.RWMutex
	observers []*observerRegistration
	logger    Logger
}

// NewEventBus creates an event bus that reports observer failures to logger.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = nopLogger{}
	}
	return &EventBus{logger: logger}
}

// RegisterObserver adds or replaces an observer.
func (b *EventBus) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}

	types := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		types[eventType] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	registration := &observerRegistration{observer: observer, eventTypes: types, registeredAt: time.Now()}
	for i, existing := range b.observers {
		if existing.observer.ObserverID() == observer.ObserverID() {
			b.observers[i] = registration
			return nil
		}
	}
	b.observers = append(b.observers, registration)
	return nil
}

// UnregisterObserver removes an observer. Unknown observers are ignored.
func (b *EventBus) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrObserverNil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.observers {
		if existing.observer.ObserverID() == observer.ObserverID() {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
	return nil
}

// NotifyObservers validates the event and delivers it. Observer errors and
// panics are logged and swallowed.
func (b *EventBus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		b.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	b.mu.RLock()
	registrations := make([]*observerRegistration, len(b.observers))
	copy(registrations, b.observers)
	b.mu.RUnlock()

	for _, registration := range registrations {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}
		b.deliver(ctx, registration.observer, event)
	}
	return nil
}

func (b *EventBus) deliver(ctx context.Context, observer Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", fmt.Sprint(r))
		}
	}()

	if err := observer.OnEvent(ctx, event); err != nil {
		b.logger.Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}

// GetObservers returns information about the registered observers.
func (b *EventBus) GetObservers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(b.observers))
	for _, registration := range b.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}
