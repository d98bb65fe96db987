package orchestrator

import (
	"strings"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/llm"
)

// buildPrompt assembles the provider messages and the agent's tool list.
func (c *Coordinator) buildPrompt(t *turn) {
	t.messages = BuildMessages(t.res.Agent, t.enrichment, t.history, t.res.Routing.Input)
	if c.deps.Tools != nil {
		t.tools = c.deps.Tools.Registry().Definitions(t.res.Agent)
	}
}

// BuildMessages renders the system prompt, the recent history and the new
// user message. History entries with empty content are skipped.
func BuildMessages(agent agents.Agent, ec *enrich.Context, history []*data.Message, message string) []llm.Message {
	var system strings.Builder
	system.WriteString(agents.SystemPrompt(agent))
	if block := ec.Prompt(); block != "" {
		system.WriteString("\n")
		system.WriteString(block)
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system.String()})

	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case data.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case data.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}

	return append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
}
