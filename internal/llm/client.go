// Package llm provides the OpenAI-compatible chat completion client used for
// every provider. Providers differ only by base URL and credential.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/concierge/internal/models"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolChoiceAuto lets the model decide whether to call tools.
const ToolChoiceAuto = "auto"

// Client is a chat completion backend.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream is like Complete but calls onDelta for each content fragment as
	// it arrives. The returned response carries the accumulated content and
	// any tool calls.
	Stream(ctx context.Context, req *Request, onDelta func(delta string)) (*Response, error)
}

// Factory builds a client for a resolved model configuration.
type Factory func(mc models.ModelConfig) Client

// Request represents a chat completion request.
type Request struct {
	// Model overrides the client's configured model when set.
	Model string `json:"model,omitempty"`

	Messages []Message `json:"messages"`

	// Tools offered to the model. Empty means a plain completion.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// ToolChoice is "auto", "none" or empty.
	ToolChoice string `json:"tool_choice,omitempty"`

	MaxTokens int `json:"max_tokens,omitempty"`
	// Temperature is nil to use the client default. A pointer to 0 asks for
	// deterministic output.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Temperature returns a pointer to v for Request.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

// Message is one conversation entry.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Args decodes the JSON argument string. Empty arguments decode to an empty map.
func (tc ToolCall) Args() (map[string]any, error) {
	args := map[string]any{}
	raw := strings.TrimSpace(tc.Arguments)
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", tc.Name, err)
	}
	return args, nil
}

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Response contains the model's answer.
type Response struct {
	Content          string        `json:"content"`
	Model            string        `json:"model"`
	Provider         string        `json:"provider"`
	ToolCalls        []ToolCall    `json:"tool_calls,omitempty"`
	FinishReason     string        `json:"finish_reason,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// HasToolCalls reports whether the model asked for tools.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}
