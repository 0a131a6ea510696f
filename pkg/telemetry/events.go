package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one observable occurrence during a leftguard process.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// PolicyName is the associated policy, if applicable.
	PolicyName string `json:"policy,omitempty"`

	// ResourceID is the associated resource address, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`
}

// Event types.
const (
	EventTypeRunStarted   = "run.started"
	EventTypeRunCompleted = "run.completed"
	EventTypeParseFailed  = "parse.failed"
	EventTypeViolation    = "policy.violation"
	EventTypeEvalError    = "policy.eval_error"
	EventTypeReload       = "policy.reloaded"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles published events.
type EventSubscriber func(event Event)

// EventPublisher fans events out to subscribers. Publishing is
// best-effort and synchronous; run evaluation never blocks on a slow
// subscriber because subscribers are required to be non-blocking.
type EventPublisher struct {
	config      EventsConfig
	mu          sync.RWMutex
	subscribers []EventSubscriber
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	return &EventPublisher{config: cfg}, nil
}

// Subscribe registers a subscriber for all subsequent events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Publish delivers an event to every subscriber.
func (ep *EventPublisher) Publish(event Event) {
	if !ep.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, sub := range ep.subscribers {
		sub(event)
	}
}

// PublishRunStarted publishes a run-started event.
func (ep *EventPublisher) PublishRunStarted(runID, workspace string) {
	ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: "evaluation run started in workspace " + workspace,
	})
}

// PublishRunCompleted publishes a run-completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string) {
	ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Level:   EventLevelInfo,
		Message: "evaluation run " + status,
	})
}

// PublishViolation publishes a policy violation event.
func (ep *EventPublisher) PublishViolation(runID, policyName, resourceID string) {
	ep.Publish(Event{
		Type:       EventTypeViolation,
		RunID:      runID,
		PolicyName: policyName,
		ResourceID: resourceID,
		Level:      EventLevelWarning,
		Message:    "policy violation",
	})
}

// Shutdown releases publisher resources.
func (ep *EventPublisher) Shutdown() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = nil
}
