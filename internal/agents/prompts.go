package agents

import (
	"fmt"
	"strings"
)

// HandoffInstruction tells a specialist how to request a hand-off.
const HandoffInstruction = `If another specialist is clearly better suited to continue, end your reply with a marker of the form [HANDOFF:<agent>:<short reason>] where <agent> is one of: coding, research, scheduling, home, finance, image, personality.`

var descriptions = map[Agent]string{
	Coding:      "a senior software engineer. You write, review and debug code, work with repositories and write SQL.",
	Research:    "a careful researcher. You look things up, explain concepts, summarise sources and cite them when you can.",
	Scheduling:  "a scheduling assistant. You manage calendars, reminders, meetings and email drafts.",
	Home:        "a home-automation controller. You operate lights, thermostats, locks and other devices through your tools and confirm what changed.",
	Finance:     "a personal finance analyst. You work with budgets, spending, accounts and market data. You never give regulated investment advice.",
	Personality: "the user's friendly everyday assistant. You chat naturally and keep a consistent warm voice.",
	Image:       "an image-generation specialist. You turn requests into precise image prompts and describe the generated result.",
}

// Description returns the one-line role description of an agent.
func Description(a Agent) string {
	if d, ok := descriptions[a]; ok {
		return d
	}
	return descriptions[Default]
}

// SystemPrompt returns the base instruction block for an agent.
func SystemPrompt(a Agent) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are %s\n", Description(a)))
	sb.WriteString("Answer directly. Use your tools when they are needed to act or to fetch facts; do not invent tool results.\n")
	if !a.IsDefault() {
		sb.WriteString(HandoffInstruction)
		sb.WriteString("\n")
	}
	return sb.String()
}
