package persona

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/llm"
	"github.com/normanking/concierge/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VOICE WRAPPING
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultMinWrapLength is the shortest response worth rewriting.
	DefaultMinWrapLength = 50
	// DefaultWrapTimeout bounds the rewrite call.
	DefaultWrapTimeout = 15 * time.Second
)

// ShouldWrap reports whether content from agent needs the unified voice.
// The default agent already speaks in it, and short replies are left alone.
func ShouldWrap(agent agents.Agent, content string, minLen int) bool {
	if minLen <= 0 {
		minLen = DefaultMinWrapLength
	}
	if agent.IsDefault() || !agent.Valid() {
		return false
	}
	return len([]rune(strings.TrimSpace(content))) >= minLen
}

// ModelSource resolves the model used for an agent.
type ModelSource interface {
	Resolve(agent agents.Agent) models.ModelConfig
}

// Wrapper rewrites specialist answers through the default agent's model.
type Wrapper struct {
	persona *Persona
	models  ModelSource
	factory llm.Factory
	minLen  int
	timeout time.Duration
}

// WrapperOption configures a Wrapper.
type WrapperOption func(*Wrapper)

// WithMinLength sets the shortest response that gets rewritten.
func WithMinLength(n int) WrapperOption {
	return func(w *Wrapper) {
		if n > 0 {
			w.minLen = n
		}
	}
}

// WithWrapTimeout bounds a single rewrite.
func WithWrapTimeout(d time.Duration) WrapperOption {
	return func(w *Wrapper) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// NewWrapper creates a wrapper. A nil persona uses the built-in one.
func NewWrapper(p *Persona, src ModelSource, factory llm.Factory, opts ...WrapperOption) *Wrapper {
	if p == nil {
		p = New()
	}
	w := &Wrapper{
		persona: p,
		models:  src,
		factory: factory,
		minLen:  DefaultMinWrapLength,
		timeout: DefaultWrapTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Persona returns the voice in use.
func (w *Wrapper) Persona() *Persona { return w.persona }

// Wrap returns content rewritten in the persona's voice. Any failure returns
// content unchanged.
func (w *Wrapper) Wrap(ctx context.Context, agent agents.Agent, content string) string {
	if !ShouldWrap(agent, content, w.minLen) {
		return content
	}

	mc := w.models.Resolve(agents.Default)
	if !mc.HasCredential() {
		log.Debug().Str("agent", agent.String()).Msg("voice wrap skipped: no credential for default agent")
		return content
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	resp, err := w.factory(mc).Complete(ctx, &llm.Request{
		Model: mc.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: w.persona.VoicePrompt()},
			{Role: llm.RoleUser, Content: content},
		},
		Temperature: llm.Temperature(0.3),
	})
	if err != nil {
		log.Warn().Err(err).Str("agent", agent.String()).Msg("voice wrap failed, using original content")
		return content
	}

	wrapped := strings.TrimSpace(resp.Content)
	if wrapped == "" {
		log.Warn().Str("agent", agent.String()).Msg("voice wrap returned empty content, using original")
		return content
	}

	log.Debug().
		Str("agent", agent.String()).
		Int("original_len", len(content)).
		Int("wrapped_len", len(wrapped)).
		Dur("duration", time.Since(start)).
		Msg("voice wrapped")
	return wrapped
}
