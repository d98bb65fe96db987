package memory

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/normanking/concierge/internal/llm"
)

// extractionPrompt asks for YAML so partial answers still parse.
const extractionPrompt = `You extract long-term memories about the user from one conversation turn.

Only keep durable facts the user stated about themselves: identity, people they
mention, places, preferences, health constraints, recurring plans. Ignore
questions, small talk and anything the assistant said.

Output format (YAML), an empty list when there is nothing worth keeping:
---
memories:
  - content: <fact phrased about "User">
    category: <fact|preference|person|place>
    importance: <0.0-1.0>
---`

// LLMExtractor asks a model for facts.
type LLMExtractor struct {
	client llm.Client
	model  string
}

// NewLLMExtractor creates an extractor backed by client.
func NewLLMExtractor(client llm.Client, model string) *LLMExtractor {
	return &LLMExtractor{client: client, model: model}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, turn Turn) ([]Fact, error) {
	resp, err := e.client.Complete(ctx, &llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractionPrompt},
			{Role: llm.RoleUser, Content: "User: " + turn.UserMessage + "\n\nAssistant: " + turn.Response},
		},
		MaxTokens:   400,
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return nil, fmt.Errorf("memory extraction call failed: %w", err)
	}
	return ParseFacts(resp.Content)
}

type factList struct {
	Memories []Fact `yaml:"memories"`
}

// ParseFacts decodes the YAML answer of an extraction call. Code fences and
// document markers are tolerated; facts without content are dropped.
func ParseFacts(text string) ([]Fact, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```yaml")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "---")
	text = strings.TrimSuffix(text, "---")

	var list factList
	if err := yaml.Unmarshal([]byte(text), &list); err != nil {
		return nil, fmt.Errorf("parse extracted memories: %w", err)
	}

	out := make([]Fact, 0, len(list.Memories))
	for _, f := range list.Memories {
		f.Content = tidy(f.Content)
		if f.Content == "" {
			continue
		}
		if f.Category == "" {
			f.Category = CategoryFact
		}
		out = append(out, f)
	}
	return dedupe(out), nil
}
