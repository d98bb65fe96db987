// Package models resolves an agent to the concrete model, endpoint and
// credential used to serve it, walking an override → primary → fallback chain.
package models

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/config"
)

// ErrMissingCredential is returned by callers that try to use a ModelConfig
// without an API key.
var ErrMissingCredential = errors.New("missing credential")

// OverrideEnvPrefix prefixes the per-agent override variables,
// e.g. CONCIERGE_MODEL_CODING=openai:gpt-4o.
const OverrideEnvPrefix = "CONCIERGE_MODEL_"

// ModelConfig is the concrete target for one agent. Derived, never persisted.
type ModelConfig struct {
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"-"`
	Provider   string `json:"provider"`
	IsFallback bool   `json:"is_fallback"`
}

// HasCredential reports whether an API key is present.
func (m ModelConfig) HasCredential() bool {
	return m.APIKey != ""
}

// String renders provider:model.
func (m ModelConfig) String() string {
	return m.Provider + ":" + m.Model
}

// CandidateSource records where a chain entry came from.
type CandidateSource string

const (
	SourceOverride CandidateSource = "override"
	SourcePrimary  CandidateSource = "primary"
	SourceFallback CandidateSource = "fallback"
)

// Candidate is one (provider, model) entry of an agent's chain.
type Candidate struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Source   CandidateSource `json:"source"`
}

// EnvLookup reads an environment variable.
type EnvLookup func(key string) (string, bool)

// Resolver maps agents to model configurations.
type Resolver struct {
	providers map[string]config.ProviderConfig
	agents    map[agents.Agent]config.AgentModelConfig
	env       EnvLookup
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEnv replaces the environment lookup (tests, embedded use).
func WithEnv(env EnvLookup) Option {
	return func(r *Resolver) {
		r.env = env
	}
}

// NewResolver creates a resolver from the llm and agents configuration.
func NewResolver(cfg *config.Config, opts ...Option) *Resolver {
	r := &Resolver{
		providers: make(map[string]config.ProviderConfig, len(cfg.LLM.Providers)),
		agents:    make(map[agents.Agent]config.AgentModelConfig, len(cfg.Agents)),
		env:       os.LookupEnv,
	}
	for name, p := range cfg.LLM.Providers {
		r.providers[strings.ToLower(name)] = p
	}
	for name, a := range cfg.Agents {
		r.agents[agents.Agent(strings.ToLower(name))] = a
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Credential returns the API key for a provider, or "" when none is available.
// Lookup order: explicit api_key, the configured api_key_env, then the
// provider's conventional variable.
func (r *Resolver) Credential(provider string) string {
	p, ok := r.providers[strings.ToLower(provider)]
	if !ok {
		return ""
	}
	if p.APIKey != "" {
		return p.APIKey
	}
	for _, name := range []string{p.APIKeyEnv, conventionalEnv[strings.ToLower(provider)]} {
		if name == "" {
			continue
		}
		if v, ok := r.env(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var conventionalEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"groq":       "GROQ_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"grok":       "XAI_API_KEY",
}

// ParseOverride parses a "provider:model" override. The model part may itself
// contain colons (e.g. "ollama:llama3.2:3b").
func ParseOverride(s string) (provider, model string, ok bool) {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	provider = strings.ToLower(strings.TrimSpace(s[:idx]))
	model = strings.TrimSpace(s[idx+1:])
	if provider == "" || model == "" {
		return "", "", false
	}
	return provider, model, true
}

// agentConfig returns the configuration for an agent, falling back to the
// default agent for unknown identifiers.
func (r *Resolver) agentConfig(agent agents.Agent) config.AgentModelConfig {
	if cfg, ok := r.agents[agent]; ok {
		return cfg
	}
	return r.agents[agents.Default]
}

// override returns the well-formed override candidate for an agent, if any.
func (r *Resolver) override(agent agents.Agent) (Candidate, bool) {
	key := OverrideEnvPrefix + strings.ToUpper(string(agent))
	raw, ok := r.env(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return Candidate{}, false
	}
	provider, model, ok := ParseOverride(raw)
	if !ok {
		log.Warn().Str("agent", string(agent)).Str("override", raw).Msg("ignoring malformed model override")
		return Candidate{}, false
	}
	if _, known := r.providers[provider]; !known {
		log.Warn().Str("agent", string(agent)).Str("provider", provider).Msg("ignoring model override for unknown provider")
		return Candidate{}, false
	}
	return Candidate{Provider: provider, Model: model, Source: SourceOverride}, true
}

// Chain returns the ordered candidate list for an agent with duplicate
// (model, provider) pairs removed; the first occurrence wins.
func (r *Resolver) Chain(agent agents.Agent) []Candidate {
	var raw []Candidate
	if c, ok := r.override(agent); ok {
		raw = append(raw, c)
	}

	cfg := r.agentConfig(agent)
	if cfg.Provider != "" && cfg.Model != "" {
		raw = append(raw, Candidate{Provider: strings.ToLower(cfg.Provider), Model: cfg.Model, Source: SourcePrimary})
	}
	for _, fb := range cfg.Fallbacks {
		if fb.Provider == "" || fb.Model == "" {
			continue
		}
		raw = append(raw, Candidate{Provider: strings.ToLower(fb.Provider), Model: fb.Model, Source: SourceFallback})
	}

	seen := make(map[string]bool, len(raw))
	chain := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		key := c.Provider + "\x00" + c.Model
		if seen[key] {
			continue
		}
		seen[key] = true
		chain = append(chain, c)
	}
	return chain
}

// Resolve returns the model configuration for an agent. The first chain entry
// with a credential wins. When nothing has a credential, the primary
// configuration is returned with an empty APIKey so the caller can fail with a
// clear missing-credential error. Resolve never panics or errors.
func (r *Resolver) Resolve(agent agents.Agent) ModelConfig {
	for _, c := range r.Chain(agent) {
		key := r.Credential(c.Provider)
		if key == "" {
			if c.Source == SourceOverride {
				log.Warn().Str("agent", string(agent)).Str("provider", c.Provider).Msg("model override skipped: no credential for provider")
			}
			continue
		}
		return r.build(c, key)
	}

	cfg := r.agentConfig(agent)
	return ModelConfig{
		Model:    cfg.Model,
		BaseURL:  r.providers[strings.ToLower(cfg.Provider)].BaseURL,
		Provider: strings.ToLower(cfg.Provider),
	}
}

// AvailableModels returns every chain entry that has a credential.
func (r *Resolver) AvailableModels(agent agents.Agent) []ModelConfig {
	var out []ModelConfig
	for _, c := range r.Chain(agent) {
		if key := r.Credential(c.Provider); key != "" {
			out = append(out, r.build(c, key))
		}
	}
	return out
}

// Health reports, per agent, whether any usable credential exists.
func (r *Resolver) Health() map[agents.Agent]bool {
	out := make(map[agents.Agent]bool, len(agents.All()))
	for _, a := range agents.All() {
		out[a] = len(r.AvailableModels(a)) > 0
	}
	return out
}

func (r *Resolver) build(c Candidate, key string) ModelConfig {
	return ModelConfig{
		Model:      c.Model,
		BaseURL:    r.providers[c.Provider].BaseURL,
		APIKey:     key,
		Provider:   c.Provider,
		IsFallback: c.Source == SourceFallback,
	}
}

// MissingCredentialError builds the user-facing error for a ModelConfig without a key.
func MissingCredentialError(agent agents.Agent, mc ModelConfig) error {
	return fmt.Errorf("%w: no API key configured for provider %q (agent %s, model %s)", ErrMissingCredential, mc.Provider, agent, mc.Model)
}
