package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/llm"
)

// DefaultClassifierTimeout bounds one classifier call.
const DefaultClassifierTimeout = 3 * time.Second

// Classifier is the optional model-based routing tier, consulted only when the
// heuristic tiers are inconclusive.
type Classifier interface {
	Classify(ctx context.Context, message string) (agents.Agent, error)
}

// LLMClassifier asks a chat model to name the agent for a message.
type LLMClassifier struct {
	client  llm.Client
	timeout time.Duration
}

// NewLLMClassifier creates a classifier over client. A non-positive timeout
// uses DefaultClassifierTimeout.
func NewLLMClassifier(client llm.Client, timeout time.Duration) *LLMClassifier {
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	return &LLMClassifier{client: client, timeout: timeout}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, message string) (agents.Agent, error) {
	if c.client == nil {
		return "", fmt.Errorf("classifier model not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Complete(ctx, &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: classificationPrompt()},
			{Role: llm.RoleUser, Content: message},
		},
		MaxTokens:   8,
		Temperature: llm.Temperature(0),
	})
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	agent, ok := ParseAgent(resp.Content)
	if !ok {
		return "", fmt.Errorf("classifier returned unknown agent %q", resp.Content)
	}
	return agent, nil
}

func classificationPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are a request router. Choose exactly ONE agent to handle the user's message.\n\nAgents:\n")
	for _, a := range agents.All() {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", a, agents.Description(a)))
	}
	sb.WriteString("\nRespond with ONLY the agent name, nothing else.")
	return sb.String()
}

// ParseAgent converts a classifier reply into an agent, tolerating
// punctuation, case and a leading @.
func ParseAgent(response string) (agents.Agent, bool) {
	name := strings.ToLower(strings.TrimSpace(response))
	name = strings.Trim(name, ".,:;!\"'`* ")
	if i := strings.IndexAny(name, " \n"); i > 0 {
		name = name[:i]
	}
	return agents.Parse(name)
}
