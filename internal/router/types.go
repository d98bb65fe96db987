// Package router decides which specialist agent handles an incoming message.
//
// Routing runs in tiers: a user-forced agent (API flag or @mention) always
// wins, then the heuristic rule tables, then a bias toward the agent already
// handling the current topic, then an optional model-based classifier, and
// finally the default personality agent.
package router

import (
	"time"

	"github.com/normanking/concierge/internal/agents"
)

// Source names the tier that produced a routing decision.
type Source string

const (
	// SourceForced means the caller named the agent explicitly.
	SourceForced Source = "user-forced"
	// SourceHeuristic means a rule table or the topic-continuity bias decided.
	SourceHeuristic Source = "heuristic"
	// SourceLLM means the model-based classifier decided.
	SourceLLM Source = "llm"
	// SourceFallback means nothing claimed the message.
	SourceFallback Source = "fallback"
)

// String returns the string representation of a Source.
func (s Source) String() string {
	return string(s)
}

// Decision is the outcome of routing one message.
type Decision struct {
	// Agent selected to handle the message.
	Agent agents.Agent `json:"agent"`

	// Confidence in [0,1]. Values are heuristic constants, not calibrated
	// probabilities.
	Confidence float64 `json:"confidence"`

	// Rationale is a short human-readable explanation.
	Rationale string `json:"rationale"`

	// Source is the tier that decided.
	Source Source `json:"source"`

	// Input is the message with any @mention prefix removed.
	Input string `json:"input"`

	// Matches lists the rule values that fired for the chosen agent.
	Matches []string `json:"matches,omitempty"`

	// Continuation is true when the topic-continuity bias decided.
	Continuation bool `json:"continuation,omitempty"`

	// Duration is how long routing took.
	Duration time.Duration `json:"duration"`
}

// Confidences holds the confidence assigned by each tier. They are tunable
// parameters, not fixed contracts.
type Confidences struct {
	// Forced is used for API-forced and @mention routing.
	Forced float64 `yaml:"forced"`
	// Heuristic is used when exactly one agent's rules matched.
	Heuristic float64 `yaml:"heuristic"`
	// HeuristicPerMatch is added per additional matching rule.
	HeuristicPerMatch float64 `yaml:"heuristic_per_match"`
	// HeuristicMax caps heuristic confidence.
	HeuristicMax float64 `yaml:"heuristic_max"`
	// ExplicitSwitch is used when a switch phrase accompanies a rule match.
	ExplicitSwitch float64 `yaml:"explicit_switch"`
	// Ambiguous is used when several agents matched and priority broke the tie.
	Ambiguous float64 `yaml:"ambiguous"`
	// ContinuationMin and ContinuationMax bound the continuity bias,
	// scaled by keyword overlap.
	ContinuationMin float64 `yaml:"continuation_min"`
	ContinuationMax float64 `yaml:"continuation_max"`
	// LLM is used when the classifier decides.
	LLM float64 `yaml:"llm"`
	// Fallback is used for the default agent when nothing matched.
	Fallback float64 `yaml:"fallback"`
}

// DefaultConfidences returns the stock confidence table.
func DefaultConfidences() Confidences {
	return Confidences{
		Forced:            1.0,
		Heuristic:         0.75,
		HeuristicPerMatch: 0.05,
		HeuristicMax:      0.95,
		ExplicitSwitch:    0.8,
		Ambiguous:         0.4,
		ContinuationMin:   0.6,
		ContinuationMax:   0.9,
		LLM:               0.7,
		Fallback:          0.3,
	}
}

// RouterStats tracks routing statistics for monitoring and tuning.
type RouterStats struct {
	// TotalRequests is the total number of routing requests.
	TotalRequests int64 `json:"total_requests"`

	// ForcedHits counts API-forced and @mention decisions.
	ForcedHits int64 `json:"forced_hits"`

	// HeuristicHits counts rule-table decisions.
	HeuristicHits int64 `json:"heuristic_hits"`

	// ContinuityHits counts decisions made by the topic-continuity bias.
	ContinuityHits int64 `json:"continuity_hits"`

	// ClassifierHits counts model-classifier decisions.
	ClassifierHits int64 `json:"classifier_hits"`

	// FallbackHits counts default-agent fallbacks.
	FallbackHits int64 `json:"fallback_hits"`

	// AmbiguousCount counts messages matching more than one agent.
	AmbiguousCount int64 `json:"ambiguous_count"`

	// ClassifierErrors counts failed classifier calls.
	ClassifierErrors int64 `json:"classifier_errors"`

	// AverageConfidence is the running average confidence score.
	AverageConfidence float64 `json:"average_confidence"`

	// AgentDistribution tracks how often each agent is selected.
	AgentDistribution map[agents.Agent]int64 `json:"agent_distribution"`
}

// HeuristicRatio returns the percentage of requests decided by rules.
func (s *RouterStats) HeuristicRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.HeuristicHits+s.ContinuityHits) / float64(s.TotalRequests) * 100
}
