package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/normanking/concierge/internal/models"
)

// Defaults applied when neither the request nor the client sets a value.
const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.7
	DefaultTimeout     = 2 * time.Minute
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client      *openai.Client
	provider    string
	model       string
	apiKey      string
	maxTokens   int
	temperature float64
}

// ClientOption configures an OpenAIClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient  *http.Client
	timeout     time.Duration
	maxTokens   int
	temperature float64
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithDefaults sets the completion length and temperature used when a
// request leaves them unset.
func WithDefaults(maxTokens int, temperature float64) ClientOption {
	return func(o *clientOptions) {
		o.maxTokens = maxTokens
		o.temperature = temperature
	}
}

// NewOpenAIClient creates a client for a resolved model configuration. An
// empty API key is allowed here; calls fail with ErrMissingCredential.
func NewOpenAIClient(mc models.ModelConfig, opts ...ClientOption) *OpenAIClient {
	o := clientOptions{
		timeout:     DefaultTimeout,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := openai.DefaultConfig(mc.APIKey)
	if mc.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(mc.BaseURL, "/")
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: o.timeout}
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		provider:    mc.Provider,
		model:       mc.Model,
		apiKey:      mc.APIKey,
		maxTokens:   o.maxTokens,
		temperature: o.temperature,
	}
}

// NewFactory returns a Factory producing OpenAI-compatible clients with the
// given options.
func NewFactory(opts ...ClientOption) Factory {
	return func(mc models.ModelConfig) Client {
		return NewOpenAIClient(mc, opts...)
	}
}

// Complete sends a non-streaming chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", c.provider, models.ErrMissingCredential)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat completion: no choices in response", c.provider)
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:          choice.Message.Content,
		Model:            resp.Model,
		Provider:         c.provider,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Stream sends a streaming chat completion. Tool call fragments are
// accumulated by index and returned on the final response.
func (c *OpenAIClient) Stream(ctx context.Context, req *Request, onDelta func(string)) (*Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w", c.provider, models.ErrMissingCredential)
	}

	start := time.Now()
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("%s stream: %w", c.provider, err)
	}
	defer stream.Close()

	var (
		content strings.Builder
		calls   = make(map[int]*ToolCall)
		out     = &Response{Provider: c.provider}
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s stream: %w", c.provider, err)
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			out.FinishReason = string(choice.FinishReason)
		}
		if delta := choice.Delta.Content; delta != "" {
			content.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &ToolCall{}
				calls[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}
	}

	out.Content = content.String()
	out.ToolCalls = orderedCalls(calls)
	out.Duration = time.Since(start)
	return out, nil
}

func orderedCalls(calls map[int]*ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	keys := make([]int, 0, len(calls))
	for k := range calls {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]ToolCall, 0, len(keys))
	for _, k := range keys {
		out = append(out, *calls[k])
	}
	return out
}

func (c *OpenAIClient) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := float32(c.temperature)
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}
	// The wire field is omitempty, so a literal zero would be dropped.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	out := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]openai.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		if req.ToolChoice != "" {
			out.ToolChoice = req.ToolChoice
		}
	}
	return out
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}
