// Package bus fans orchestration events out to in-process observers: the
// metrics collector, the WebSocket monitor and anything else that wants to
// watch requests flow through the coordinator without slowing it down.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies an orchestration event.
type EventType string

// Event types published by the coordinator and its background work.
const (
	// Request lifecycle
	EventRequestReceived   EventType = "request_received"
	EventThreadCreated     EventType = "thread_created"
	EventRouted            EventType = "routed"
	EventAgentStarted      EventType = "agent_started"
	EventResponseCompleted EventType = "response_completed"
	EventRequestFailed     EventType = "request_failed"

	// Tools and models
	EventToolExecuted  EventType = "tool_executed"
	EventModelFallback EventType = "model_fallback"
	EventHandoff       EventType = "handoff"

	// Background work
	EventQualityScored   EventType = "quality_scored"
	EventFeedbackApplied EventType = "feedback_applied"
	EventMemoriesStored  EventType = "memories_stored"
)

// AllEventTypes lists every event type in publication order of a request.
var AllEventTypes = []EventType{
	EventRequestReceived,
	EventThreadCreated,
	EventRouted,
	EventAgentStarted,
	EventToolExecuted,
	EventModelFallback,
	EventHandoff,
	EventResponseCompleted,
	EventRequestFailed,
	EventQualityScored,
	EventFeedbackApplied,
	EventMemoriesStored,
}

// Event is a single orchestration event. Only the fields relevant to its
// type are set.
type Event struct {
	// Core identification
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Request tracking
	RequestID string `json:"request_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	// Agent context
	Agent     string `json:"agent,omitempty"`
	FromAgent string `json:"from_agent,omitempty"`

	// Routing
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Tool calls
	Tool string `json:"tool,omitempty"`

	// Outcome
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Content    string `json:"content,omitempty"`
	Details    string `json:"details,omitempty"`
	Error      string `json:"error,omitempty"`

	// Model context
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`

	// Quality
	Score     float64 `json:"score,omitempty"`
	Cacheable bool    `json:"cacheable,omitempty"`

	// Count is a generic tally (memories stored, tools used).
	Count int `json:"count,omitempty"`
}

// NewEvent creates an event with a fresh id and the current timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}

// Matches reports whether the event is one of types. No types matches all.
func (e Event) Matches(types []EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == e.Type {
			return true
		}
	}
	return false
}
