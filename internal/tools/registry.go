package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/llm"
)

// Registry is the dispatch table from agent to tool name to implementation.
type Registry struct {
	mu    sync.RWMutex
	tools map[agents.Agent]map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[agents.Agent]map[string]Tool)}
}

// Register adds a tool for an agent.
func (r *Registry) Register(agent agents.Agent, tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.tools[agent]
	if !ok {
		byName = make(map[string]Tool)
		r.tools[agent] = byName
	}
	if _, exists := byName[tool.Name()]; exists {
		return fmt.Errorf("tool %s already registered for agent %s", tool.Name(), agent)
	}
	byName[tool.Name()] = tool
	return nil
}

// MustRegister is Register for static wiring; it panics on duplicates.
func (r *Registry) MustRegister(agent agents.Agent, tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(agent, t); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the tool registered for an agent.
func (r *Registry) Lookup(agent agents.Agent, name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[agent][name]
	return t, ok
}

// Tools returns an agent's tools sorted by name.
func (r *Registry) Tools(agent agents.Agent) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools[agent]))
	for _, t := range r.tools[agent] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// HasTools reports whether an agent has any tools.
func (r *Registry) HasTools(agent agents.Agent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools[agent]) > 0
}

// Definitions returns the model-facing definitions for an agent's tools.
func (r *Registry) Definitions(agent agents.Agent) []llm.ToolDefinition {
	tools := r.Tools(agent)
	out := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}
