package servicetree

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience
type CloudEvent = cloudevents.Event

// Node lifecycle event types
const (
	EventTypeNodeStateChanged     = "com.servicetree.node.state_changed"
	EventTypeNodeInitialized      = "com.servicetree.node.initialized"
	EventTypeNodeInitializeFailed = "com.servicetree.node.initialize_failed"
	EventTypeNodeMounted          = "com.servicetree.node.mounted"
	EventTypeNodeTerminated       = "com.servicetree.node.terminated"
)

// StateChangedData is the payload of EventTypeNodeStateChanged.
type StateChangedData struct {
	Node string       `json:"node"`
	From ServiceState `json:"from"`
	To   ServiceState `json:"to"`
}

// InitializationData is the payload of the initialization events.
type InitializationData struct {
	Node     string        `json:"node"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// MountedData is the payload of EventTypeNodeMounted.
type MountedData struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Path   string `json:"path"`
}

// NewCloudEvent creates a CloudEvent with a time-ordered id.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates that a CloudEvent conforms to the CloudEvents v1.0 rules.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}
