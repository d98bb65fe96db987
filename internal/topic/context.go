// Package topic tracks per-thread conversational topic state: which agent has
// been handling the conversation, for how many turns, on which keywords, and
// which task was interrupted by a change of subject.
package topic

import (
	"fmt"
	"strings"
	"time"

	"github.com/normanking/concierge/internal/agents"
)

// Bounds on persisted topic state.
const (
	MaxRecentAgents = 5
	MaxKeywords     = 10
	SummaryKeywords = 5
	maxLastMessage  = 280
)

// Defaults for the switch-back rules.
const (
	DefaultSwitchBackWindow    = 30 * time.Minute
	DefaultMinInterruptedTurns = 2
)

// InterruptedTask is a snapshot of an agent's work that was set aside when
// the conversation moved to a different specialist.
type InterruptedTask struct {
	Agent           agents.Agent `json:"agent"`
	Topic           string       `json:"topic"`
	Keywords        []string     `json:"keywords"`
	InterruptedAt   time.Time    `json:"interruptedAt"`
	LastUserMessage string       `json:"lastUserMessage"`
	MessageCount    int          `json:"messageCount"`
}

// Context is the topic state stored in a thread's metadata.
type Context struct {
	CurrentTopic string           `json:"currentTopic"`
	LastAgent    agents.Agent     `json:"lastAgent,omitempty"`
	RecentAgents []agents.Agent   `json:"recentAgents"`
	Keywords     []string         `json:"topicKeywords"`
	Continuity   int              `json:"topicContinuity"`
	LastUpdated  time.Time        `json:"lastUpdated"`
	LastMessage  string           `json:"lastMessage,omitempty"`
	Interrupted  *InterruptedTask `json:"interruptedTask,omitempty"`

	// Version is the thread metadata version the context was read at.
	Version int64 `json:"-"`
}

// IsEmpty reports whether no turn has been recorded yet.
func (c *Context) IsEmpty() bool {
	return c == nil || c.LastAgent == ""
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	if c == nil {
		return &Context{}
	}
	out := *c
	out.RecentAgents = append([]agents.Agent(nil), c.RecentAgents...)
	out.Keywords = append([]string(nil), c.Keywords...)
	if c.Interrupted != nil {
		it := *c.Interrupted
		it.Keywords = append([]string(nil), c.Interrupted.Keywords...)
		out.Interrupted = &it
	}
	return &out
}

// IsAgentSwitch reports whether moving from one agent to another counts as a
// topic switch: both are specialists and they differ.
func IsAgentSwitch(from, to agents.Agent) bool {
	return from != "" && to != "" && from != to && !from.IsDefault() && !to.IsDefault()
}

// Advance computes the context after a turn handled by agent. It is pure: the
// receiver is not modified. minTurns is the continuity an outgoing agent
// needs to be remembered as an interrupted task.
func Advance(prev *Context, agent agents.Agent, message string, now time.Time, minTurns int) *Context {
	next := prev.Clone()
	fresh := ExtractKeywords(message, MaxMessageKeywords)

	if IsAgentSwitch(prev.LastAgent, agent) {
		if prev.Continuity >= minTurns {
			next.Interrupted = &InterruptedTask{
				Agent:           prev.LastAgent,
				Topic:           prev.CurrentTopic,
				Keywords:        append([]string(nil), prev.Keywords...),
				InterruptedAt:   now,
				LastUserMessage: prev.LastMessage,
				MessageCount:    prev.Continuity,
			}
		}
		next.Continuity = 1
		next.Keywords = mergeKeywords(fresh, nil, MaxKeywords)
	} else {
		if prev.IsEmpty() {
			next.Continuity = 1
		} else {
			next.Continuity = prev.Continuity + 1
		}
		next.Keywords = mergeKeywords(fresh, prev.Keywords, MaxKeywords)
	}

	if next.Interrupted != nil && next.Interrupted.Agent == agent {
		next.Interrupted = nil
	}

	next.LastAgent = agent
	next.RecentAgents = pushRecent(next.RecentAgents, agent)
	next.CurrentTopic = summarize(next.Keywords)
	next.LastUpdated = now
	next.LastMessage = truncate(message, maxLastMessage)
	return next
}

func pushRecent(list []agents.Agent, a agents.Agent) []agents.Agent {
	list = append(list, a)
	if len(list) > MaxRecentAgents {
		list = list[len(list)-MaxRecentAgents:]
	}
	return list
}

func summarize(keywords []string) string {
	if len(keywords) > SummaryKeywords {
		keywords = keywords[:SummaryKeywords]
	}
	return strings.Join(keywords, ", ")
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

// Suggestion offers to return to an interrupted task.
type Suggestion struct {
	Agent   agents.Agent `json:"agent"`
	Topic   string       `json:"topic"`
	Message string       `json:"message"`
}

// CheckSwitchBackSuggestion returns a suggestion when no switch is happening,
// an interrupted task exists, it is no older than window, and it had at
// least minTurns turns. Otherwise nil.
func CheckSwitchBackSuggestion(c *Context, switching bool, now time.Time, window time.Duration, minTurns int) *Suggestion {
	if switching || c == nil || c.Interrupted == nil {
		return nil
	}
	it := c.Interrupted
	if now.Sub(it.InterruptedAt) > window {
		return nil
	}
	if it.MessageCount < minTurns {
		return nil
	}

	subject := it.Topic
	if subject == "" {
		subject = "your " + it.Agent.String() + " task"
	}
	return &Suggestion{
		Agent:   it.Agent,
		Topic:   it.Topic,
		Message: fmt.Sprintf("Earlier we were working on %s with the %s agent. Would you like to get back to that?", subject, it.Agent),
	}
}
