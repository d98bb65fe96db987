package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/topic"
)

// Options carries per-message routing inputs.
type Options struct {
	// Topic is the thread's current topic context, if any.
	Topic *topic.Context

	// ForceAgent routes straight to an agent, as an API flag would.
	ForceAgent agents.Agent
}

// Router routes messages to agents.
type Router struct {
	rules      []Rule
	priority   []agents.Agent
	conf       Confidences
	phrases    []string
	threshold  float64
	classifier Classifier

	// Statistics (thread-safe)
	stats RouterStats
	mu    sync.RWMutex
}

// Option is a functional option for configuring Router.
type Option func(*Router)

// WithRules replaces the rule tables.
func WithRules(rules []Rule) Option {
	return func(r *Router) {
		r.rules = rules
	}
}

// WithPriority replaces the tie-break order.
func WithPriority(priority []agents.Agent) Option {
	return func(r *Router) {
		r.priority = priority
	}
}

// WithConfidences replaces the confidence table.
func WithConfidences(c Confidences) Option {
	return func(r *Router) {
		r.conf = c
	}
}

// WithSwitchPhrases sets the explicit topic-switch phrases.
func WithSwitchPhrases(phrases []string) Option {
	return func(r *Router) {
		if len(phrases) > 0 {
			r.phrases = phrases
		}
	}
}

// WithContinuityThreshold sets the keyword overlap above which the current
// topic's agent is preferred.
func WithContinuityThreshold(threshold float64) Option {
	return func(r *Router) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// WithClassifier enables the model-based tier.
func WithClassifier(c Classifier) Option {
	return func(r *Router) {
		r.classifier = c
	}
}

// New creates a Router with the default rules and confidences.
func New(opts ...Option) *Router {
	r := &Router{
		rules:     DefaultRules(),
		priority:  DefaultPriority(),
		conf:      DefaultConfidences(),
		phrases:   topic.DefaultSwitchPhrases,
		threshold: topic.DefaultContinuityThreshold,
		stats: RouterStats{
			AgentDistribution: make(map[agents.Agent]int64),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route selects the agent for message. Without a classifier the result is a
// pure function of (message, opts).
func (r *Router) Route(ctx context.Context, message string, opts Options) *Decision {
	start := time.Now()

	input := message
	mentioned := agents.Agent("")
	if mention, rest := agents.ExtractMention(message); mention != "" {
		if a, ok := agents.FromMention(mention); ok {
			mentioned, input = a, rest
		}
	}

	// 1. Forced routing
	if opts.ForceAgent != "" {
		if opts.ForceAgent.Valid() {
			return r.finish(start, false, &Decision{
				Agent:      opts.ForceAgent,
				Confidence: r.conf.Forced,
				Rationale:  fmt.Sprintf("forced to %s by caller", opts.ForceAgent),
				Source:     SourceForced,
				Input:      input,
			})
		}
		log.Warn().Str("agent", opts.ForceAgent.String()).Msg("ignoring unknown forced agent")
	}
	if mentioned != "" {
		return r.finish(start, false, &Decision{
			Agent:      mentioned,
			Confidence: r.conf.Forced,
			Rationale:  fmt.Sprintf("@mention routes to %s", mentioned),
			Source:     SourceForced,
			Input:      input,
		})
	}

	cls := Classify(input, r.rules, r.priority)
	sw := topic.DetectTopicSwitch(input, opts.Topic, r.phrases, r.threshold)
	var last agents.Agent
	if !opts.Topic.IsEmpty() {
		last = opts.Topic.LastAgent
	}

	// 2. Heuristic pass. Several matches are settled by priority.
	if cls.Matched() {
		d := &Decision{
			Agent:      cls.Agent,
			Confidence: r.heuristicConfidence(len(cls.Matches[cls.Agent])),
			Rationale:  fmt.Sprintf("matched %s vocabulary: %s", cls.Agent, strings.Join(cls.Matches[cls.Agent], ", ")),
			Source:     SourceHeuristic,
			Input:      input,
			Matches:    cls.Matches[cls.Agent],
		}
		if cls.Ambiguous() {
			d.Confidence = r.conf.Ambiguous
			d.Rationale = fmt.Sprintf("matched %s; %s wins by priority", joinAgents(cls.Candidates), cls.Agent)
		}
		if sw.Switched {
			d.Confidence = max(d.Confidence, r.conf.ExplicitSwitch)
			d.Rationale = fmt.Sprintf("explicit topic switch (%q) to %s: %s", sw.Phrase, cls.Agent, strings.Join(cls.Matches[cls.Agent], ", "))
		}
		return r.finish(start, cls.Ambiguous(), d)
	}

	// 3. Topic-continuity bias
	if sw.Continuation && last != "" {
		return r.finish(start, false, &Decision{
			Agent:        last,
			Confidence:   r.continuationConfidence(sw.Overlap),
			Rationale:    fmt.Sprintf("continuing %s topic (keyword overlap %.0f%%)", last, sw.Overlap*100),
			Source:       SourceHeuristic,
			Input:        input,
			Continuation: true,
		})
	}

	// 4. Model classifier
	if r.classifier != nil {
		agent, err := r.classifier.Classify(ctx, input)
		if err == nil {
			return r.finish(start, false, &Decision{
				Agent:      agent,
				Confidence: r.conf.LLM,
				Rationale:  fmt.Sprintf("classifier chose %s", agent),
				Source:     SourceLLM,
				Input:      input,
			})
		}
		log.Warn().Err(err).Msg("routing classifier failed, using heuristics")
		r.mu.Lock()
		r.stats.ClassifierErrors++
		r.mu.Unlock()
	}

	// 5. Fallback
	rationale := fmt.Sprintf("no specialist matched; using %s", agents.Default)
	if sw.Switched {
		rationale = fmt.Sprintf("explicit topic switch (%q) with no specialist match; using %s", sw.Phrase, agents.Default)
	}
	return r.finish(start, false, &Decision{
		Agent:      agents.Default,
		Confidence: r.conf.Fallback,
		Rationale:  rationale,
		Source:     SourceFallback,
		Input:      input,
	})
}

func (r *Router) heuristicConfidence(matches int) float64 {
	c := r.conf.Heuristic + r.conf.HeuristicPerMatch*float64(matches-1)
	if c > r.conf.HeuristicMax {
		c = r.conf.HeuristicMax
	}
	return c
}

func (r *Router) continuationConfidence(overlap float64) float64 {
	if overlap > 1 {
		overlap = 1
	}
	return r.conf.ContinuationMin + (r.conf.ContinuationMax-r.conf.ContinuationMin)*overlap
}

// finish records statistics for d and stamps its duration.
func (r *Router) finish(start time.Time, ambiguous bool, d *Decision) *Decision {
	d.Duration = time.Since(start)

	r.mu.Lock()
	r.stats.TotalRequests++
	switch {
	case d.Source == SourceForced:
		r.stats.ForcedHits++
	case d.Continuation:
		r.stats.ContinuityHits++
	case d.Source == SourceHeuristic:
		r.stats.HeuristicHits++
	case d.Source == SourceLLM:
		r.stats.ClassifierHits++
	case d.Source == SourceFallback:
		r.stats.FallbackHits++
	}
	if ambiguous {
		r.stats.AmbiguousCount++
	}
	r.stats.AgentDistribution[d.Agent]++
	total := float64(r.stats.TotalRequests)
	r.stats.AverageConfidence = (r.stats.AverageConfidence*(total-1) + d.Confidence) / total
	r.mu.Unlock()

	log.Debug().
		Str("agent", d.Agent.String()).
		Str("source", d.Source.String()).
		Float64("confidence", d.Confidence).
		Str("rationale", d.Rationale).
		Msg("message routed")
	return d
}

// Stats returns a copy of the current routing statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.stats
	s.AgentDistribution = make(map[agents.Agent]int64, len(r.stats.AgentDistribution))
	for k, v := range r.stats.AgentDistribution {
		s.AgentDistribution[k] = v
	}
	return s
}

// ResetStats resets all routing statistics.
func (r *Router) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = RouterStats{AgentDistribution: make(map[agents.Agent]int64)}
}

func joinAgents(list []agents.Agent) string {
	names := make([]string, len(list))
	for i, a := range list {
		names[i] = a.String()
	}
	return strings.Join(names, ", ")
}
