// Package persona defines the unified assistant voice. Specialist answers are
// rewritten into this voice before they reach the user, and hand-off markers
// left by specialists are detected and stripped here.
package persona

import (
	"fmt"
	"strings"
)

// Persona is the single voice the user hears regardless of which specialist
// produced the answer.
type Persona struct {
	Identity      Identity           `yaml:"identity" json:"identity"`
	Communication CommunicationStyle `yaml:"communication" json:"communication"`

	// Style holds free-form rules appended to the rewrite instructions.
	Style []string `yaml:"style" json:"style"`
}

// Identity defines who the assistant is.
type Identity struct {
	Name        string   `yaml:"name" json:"name"`               // Display name (e.g., "Concierge")
	Role        string   `yaml:"role" json:"role"`               // Primary role description
	Personality []string `yaml:"personality" json:"personality"` // Personality traits
}

// CommunicationStyle defines how the assistant speaks.
type CommunicationStyle struct {
	Tone        Tone        `yaml:"tone" json:"tone"`
	DetailLevel DetailLevel `yaml:"detail_level" json:"detail_level"`
	UseEmoji    bool        `yaml:"use_emoji" json:"use_emoji"`
}

// Tone represents the communication tone
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFriendly     Tone = "friendly"
	ToneWarm         Tone = "warm"
)

// DetailLevel represents how verbose responses should be
type DetailLevel string

const (
	DetailConcise  DetailLevel = "concise"
	DetailBalanced DetailLevel = "balanced"
	DetailDetailed DetailLevel = "detailed"
)

// New returns the built-in persona.
func New() *Persona {
	return &Persona{
		Identity: Identity{
			Name: "Concierge",
			Role: "personal assistant",
			Personality: []string{
				"warm",
				"direct",
				"attentive",
			},
		},
		Communication: CommunicationStyle{
			Tone:        ToneFriendly,
			DetailLevel: DetailBalanced,
			UseEmoji:    false,
		},
		Style: []string{
			"Speak in the first person as one assistant; never mention specialists or agents.",
			"Keep every fact, number, name, link and code block exactly as given.",
			"Keep lists and code formatting intact.",
		},
	}
}

// VoicePrompt builds the system prompt for the rewrite pass.
func (p *Persona) VoicePrompt() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are %s, the user's %s.\n", p.Identity.Name, p.Identity.Role))
	if len(p.Identity.Personality) > 0 {
		sb.WriteString("You are ")
		sb.WriteString(strings.Join(p.Identity.Personality, ", "))
		sb.WriteString(".\n")
	}
	sb.WriteString("\nRewrite the draft answer below in your own voice. Return only the rewritten answer.\n\n")

	sb.WriteString("## Voice\n")
	sb.WriteString(p.communicationInstructions())

	if len(p.Style) > 0 {
		sb.WriteString("\n## Rules\n")
		for _, rule := range p.Style {
			sb.WriteString("- ")
			sb.WriteString(rule)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func (p *Persona) communicationInstructions() string {
	var sb strings.Builder

	switch p.Communication.Tone {
	case ToneProfessional:
		sb.WriteString("- Use a professional, courteous tone\n")
	case ToneCasual:
		sb.WriteString("- Use a casual, relaxed tone\n")
	case ToneWarm:
		sb.WriteString("- Use a warm, caring tone\n")
	default:
		sb.WriteString("- Use a friendly, approachable tone\n")
	}

	switch p.Communication.DetailLevel {
	case DetailConcise:
		sb.WriteString("- Be brief; trim anything the user did not ask for\n")
	case DetailDetailed:
		sb.WriteString("- Keep the full detail of the draft\n")
	default:
		sb.WriteString("- Keep the substance but drop filler\n")
	}

	if p.Communication.UseEmoji {
		sb.WriteString("- An occasional emoji is fine\n")
	} else {
		sb.WriteString("- Do not use emoji\n")
	}
	return sb.String()
}

// Clone returns a deep copy.
func (p *Persona) Clone() *Persona {
	clone := *p
	clone.Identity.Personality = append([]string(nil), p.Identity.Personality...)
	clone.Style = append([]string(nil), p.Style...)
	return &clone
}
