// Package agents defines the specialist agents a conversation can be routed to.
package agents

import (
	"regexp"
	"strings"
)

// Agent identifies a specialist persona bound to a model/provider pairing.
type Agent string

const (
	// Coding handles programming, repositories and SQL work.
	Coding Agent = "coding"
	// Research handles lookups, explanations and current information.
	Research Agent = "research"
	// Scheduling handles calendars, reminders and email.
	Scheduling Agent = "scheduling"
	// Home handles home-automation devices.
	Home Agent = "home"
	// Finance handles budgets, spending and markets.
	Finance Agent = "finance"
	// Personality is the default conversational agent and the unified voice.
	Personality Agent = "personality"
	// Image handles image generation.
	Image Agent = "image"
)

// Default is the agent used when nothing else claims a message.
const Default = Personality

// All returns every known agent in routing priority order.
func All() []Agent {
	return []Agent{Coding, Research, Scheduling, Home, Finance, Image, Personality}
}

// String returns the string representation of an Agent.
func (a Agent) String() string {
	return string(a)
}

// Valid reports whether a is a known agent.
func (a Agent) Valid() bool {
	for _, known := range All() {
		if a == known {
			return true
		}
	}
	return false
}

// IsDefault reports whether a is the default personality agent.
func (a Agent) IsDefault() bool {
	return a == Default
}

// Parse converts a name (or mention alias) into an Agent.
func Parse(name string) (Agent, bool) {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "@")))
	if a := Agent(name); a.Valid() {
		return a, true
	}
	return FromMention(name)
}

var mentionToAgent = map[string]Agent{
	"code":        Coding,
	"coding":      Coding,
	"dev":         Coding,
	"research":    Research,
	"search":      Research,
	"schedule":    Scheduling,
	"scheduling":  Scheduling,
	"calendar":    Scheduling,
	"home":        Home,
	"house":       Home,
	"finance":     Finance,
	"money":       Finance,
	"image":       Image,
	"draw":        Image,
	"chat":        Personality,
	"personality": Personality,
}

// FromMention returns the agent for an @mention alias.
func FromMention(mention string) (Agent, bool) {
	a, ok := mentionToAgent[strings.ToLower(mention)]
	return a, ok
}

var mentionRegex = regexp.MustCompile(`^@(\w+)\s*(.*)$`)

// ExtractMention checks whether input starts with an @mention.
// Returns the lowercased mention and the remaining input, or "" and the
// original input when there is none.
func ExtractMention(input string) (mention string, remaining string) {
	matches := mentionRegex.FindStringSubmatch(strings.TrimSpace(input))
	if len(matches) == 3 {
		return strings.ToLower(matches[1]), strings.TrimSpace(matches[2])
	}
	return "", input
}
