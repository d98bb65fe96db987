// Package tools provides the tool execution layer: a per-agent dispatch
// table, timeout enforcement, error classification and confirmation gating
// for model-requested tool calls.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is a capability an agent can invoke. Implementations must honour ctx
// cancellation; the executor cancels ctx when the tool's timeout expires.
type Tool interface {
	// Name returns the tool identifier the model uses.
	Name() string

	// Description is shown to the model.
	Description() string

	// Parameters returns the JSON schema of the arguments.
	Parameters() map[string]any

	// Execute runs the tool.
	Execute(ctx context.Context, args map[string]any) (*Output, error)
}

// Output is what a tool returns on success.
type Output struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Func adapts a function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Schema   map[string]any
	Fn       func(ctx context.Context, args map[string]any) (*Output, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Parameters() map[string]any {
	if f.Schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return f.Schema
}

func (f *Func) Execute(ctx context.Context, args map[string]any) (*Output, error) {
	return f.Fn(ctx, args)
}

type callerKey struct{}

// WithCaller attaches the id of the user a tool runs on behalf of.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey{}, callerID)
}

// CallerFrom returns the caller id attached by the executor, or "".
func CallerFrom(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// Call is one model-requested invocation.
type Call struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ErrorInfo describes a failed tool call.
type ErrorInfo struct {
	Code        ErrorCode `json:"code"`
	Details     string    `json:"details"`
	Recoverable bool      `json:"recoverable"`
}

// Meta carries correlation data attached to every result.
type Meta struct {
	DurationMs int64  `json:"durationMs"`
	Source     string `json:"source"`
	TraceID    string `json:"traceId"`
}

// Result is the normalized outcome of a tool call.
type Result struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    Meta       `json:"meta"`
}

// ModelContent renders the result as the tool message fed back to the model.
func (r *Result) ModelContent() string {
	b, err := json.Marshal(r)
	if err != nil {
		return r.Message
	}
	return string(b)
}

// RiskLevel indicates how dangerous a tool invocation is.
type RiskLevel int

const (
	RiskNone     RiskLevel = iota // read-only lookups
	RiskLow                       // local state changes
	RiskMedium                    // device control, external writes that are easy to undo
	RiskHigh                      // outbound messages, code hosting changes, data mutation
	RiskCritical                  // destructive schema changes
)

// String returns a human-readable risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskNone:
		return "none"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}
