// Package orchestrator runs a user message through the full request
// pipeline: thread resolution, context assembly, routing, model resolution,
// the provider call with its optional tool round, voice wrapping, hand-off
// detection, persistence, telemetry and topic bookkeeping.
//
// Blocking and streaming callers share one pipeline. Streaming callers see
// each step as an Event; blocking callers get the aggregate Result.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/persona"
	"github.com/normanking/concierge/internal/router"
	"github.com/normanking/concierge/internal/tools"
	"github.com/normanking/concierge/internal/topic"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESULT
// ═══════════════════════════════════════════════════════════════════════════════

// Request is one user message.
type Request struct {
	Message string `json:"message"`

	// ThreadID continues an existing thread. Empty starts a new one.
	ThreadID string `json:"threadId,omitempty"`
	UserID   string `json:"userId,omitempty"`

	// ForceAgent bypasses routing.
	ForceAgent agents.Agent `json:"agent,omitempty"`

	// ShowTools overrides the configured tool visibility for this request.
	ShowTools *bool `json:"showTools,omitempty"`
}

// ToolCall records one tool invocation made while answering. Timestamp is
// when the tool round started.
type ToolCall struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Result    *tools.Result  `json:"result"`
	Success   bool           `json:"success"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result is the aggregate outcome of a blocking request.
type Result struct {
	ThreadID      string            `json:"threadId"`
	ThreadCreated bool              `json:"threadCreated"`
	Content       string            `json:"content"`
	Agent         agents.Agent      `json:"agent"`
	Routing       *router.Decision  `json:"routing"`
	Provider      string            `json:"provider"`
	Model         string            `json:"model"`
	ToolCalls     []ToolCall        `json:"toolCalls,omitempty"`
	Handoff       *persona.Handoff  `json:"handoff,omitempty"`
	Suggestion    *topic.Suggestion `json:"switchBackSuggestion,omitempty"`
	Wrapped       bool              `json:"wrapped"`
	FallbackUsed  bool              `json:"fallbackUsed"`
	Duration      time.Duration     `json:"duration"`

	// States lists the pipeline states the request passed through.
	States []State `json:"-"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATE MACHINE
// ═══════════════════════════════════════════════════════════════════════════════

// State is a step of the request pipeline.
type State int

const (
	StateReceived State = iota
	StateThreadResolved
	StateContextBuilt
	StateRouted
	StateModelResolved
	StatePromptBuilt
	StateToolLoop
	StateResponseFinalized
	StatePersisted
	StateTelemetryLogged
	StateTopicUpdated
	StateDone
	StateError
)

var stateNames = map[State]string{
	StateReceived:          "RECEIVED",
	StateThreadResolved:    "THREAD_RESOLVED",
	StateContextBuilt:      "CONTEXT_BUILT",
	StateRouted:            "ROUTED",
	StateModelResolved:     "MODEL_RESOLVED",
	StatePromptBuilt:       "PROMPT_BUILT",
	StateToolLoop:          "TOOL_LOOP",
	StateResponseFinalized: "RESPONSE_FINALIZED",
	StatePersisted:         "PERSISTED",
	StateTelemetryLogged:   "TELEMETRY_LOGGED",
	StateTopicUpdated:      "TOPIC_UPDATED",
	StateDone:              "DONE",
	StateError:             "ERROR",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ═══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ═══════════════════════════════════════════════════════════════════════════════

// ErrorCode classifies a failed request.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	CodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodePersistenceError  ErrorCode = "PERSISTENCE_ERROR"
	CodeCancelled         ErrorCode = "CANCELLED"
)

// Error is a request failure surfaced to the caller.
type Error struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts an *Error from err, wrapping anything else as a
// non-recoverable provider error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeProviderError, Message: err.Error(), Err: err}
}

// ═══════════════════════════════════════════════════════════════════════════════
// STREAM EVENTS
// ═══════════════════════════════════════════════════════════════════════════════

// EventType discriminates stream events.
type EventType string

const (
	EventThreadCreated EventType = "thread_created"
	EventRouting       EventType = "routing"
	EventAgentStart    EventType = "agent_start"
	EventToolStart     EventType = "tool_start"
	EventToolEnd       EventType = "tool_end"
	EventContent       EventType = "content"
	EventHandoff       EventType = "handoff"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one element of a streamed response. Only the fields belonging to
// Type are meaningful; MarshalJSON writes exactly those.
type Event struct {
	Type EventType

	ThreadID string
	Decision *router.Decision
	Agent    agents.Agent

	// Tool events
	Tool     string
	ToolID   string
	Args     map[string]any
	Success  bool
	Result   *tools.Result
	Duration time.Duration

	// Content delta or, for done, the full content.
	Content string

	Handoff    *persona.Handoff
	Suggestion *topic.Suggestion

	// Error events
	Message     string
	Recoverable bool
}

// Terminal reports whether no event follows this one.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// MarshalJSON writes the wire shape for the event's type.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case EventThreadCreated:
		payload = struct {
			Type     EventType `json:"type"`
			ThreadID string    `json:"threadId"`
		}{e.Type, e.ThreadID}
	case EventRouting:
		payload = struct {
			Type     EventType        `json:"type"`
			Decision *router.Decision `json:"decision"`
		}{e.Type, e.Decision}
	case EventAgentStart:
		payload = struct {
			Type  EventType    `json:"type"`
			Agent agents.Agent `json:"agent"`
		}{e.Type, e.Agent}
	case EventToolStart:
		payload = struct {
			Type EventType      `json:"type"`
			Tool string         `json:"tool"`
			Args map[string]any `json:"args"`
			ID   string         `json:"id"`
		}{e.Type, e.Tool, e.Args, e.ToolID}
	case EventToolEnd:
		payload = struct {
			Type     EventType     `json:"type"`
			Tool     string        `json:"tool"`
			Success  bool          `json:"success"`
			Result   *tools.Result `json:"result"`
			ID       string        `json:"id"`
			Duration int64         `json:"duration"`
		}{e.Type, e.Tool, e.Success, e.Result, e.ToolID, e.Duration.Milliseconds()}
	case EventContent:
		payload = struct {
			Type  EventType `json:"type"`
			Delta string    `json:"delta"`
		}{e.Type, e.Content}
	case EventHandoff:
		h := e.Handoff
		if h == nil {
			h = &persona.Handoff{}
		}
		payload = struct {
			Type   EventType    `json:"type"`
			From   agents.Agent `json:"from"`
			To     agents.Agent `json:"to"`
			Reason string       `json:"reason"`
		}{e.Type, h.From, h.To, h.Reason}
	case EventDone:
		payload = struct {
			Type        EventType         `json:"type"`
			FullContent string            `json:"fullContent"`
			Agent       agents.Agent      `json:"agent"`
			ThreadID    string            `json:"threadId"`
			Suggestion  *topic.Suggestion `json:"switchBackSuggestion,omitempty"`
		}{e.Type, e.Content, e.Agent, e.ThreadID, e.Suggestion}
	case EventError:
		payload = struct {
			Type        EventType `json:"type"`
			Message     string    `json:"message"`
			Recoverable bool      `json:"recoverable"`
		}{e.Type, e.Message, e.Recoverable}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return json.Marshal(payload)
}
