package quality

import (
	"sort"
	"sync"
	"time"

	"github.com/normanking/concierge/internal/agents"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PER-AGENT METRICS
// ═══════════════════════════════════════════════════════════════════════════════

// Trend describes the direction of an agent's quality.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Defaults for the tracker.
const (
	DefaultTrendWindow = 7 * 24 * time.Hour
	DefaultMaxSamples  = 500
	// minTrendSamples is the fewest samples that can show a trend.
	minTrendSamples = 4
	// trendDelta is the half-to-half change needed to leave "stable".
	trendDelta = 0.05
)

// AgentMetrics summarises one agent's recent quality.
type AgentMetrics struct {
	Agent            agents.Agent  `json:"agent"`
	AvgQuality       float64       `json:"avgQuality"`
	AvgLatency       time.Duration `json:"avgLatency"`
	Samples          int           `json:"samples"`
	Trend            Trend         `json:"trend"`
	PositiveFeedback int           `json:"positiveFeedback"`
	NegativeFeedback int           `json:"negativeFeedback"`
}

type sample struct {
	score   QualityScore
	latency time.Duration
	at      time.Time
}

type agentSamples struct {
	samples  []sample
	positive int
	negative int
}

// Tracker keeps a time-bounded window of scores per agent. It is safe for
// concurrent use.
type Tracker struct {
	mu         sync.Mutex
	agents     map[agents.Agent]*agentSamples
	window     time.Duration
	maxSamples int
	now        func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithWindow bounds the samples considered by age.
func WithWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithMaxSamples bounds the samples kept per agent.
func WithMaxSamples(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxSamples = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		agents:     make(map[agents.Agent]*agentSamples),
		window:     DefaultTrendWindow,
		maxSamples: DefaultMaxSamples,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record adds a scored response.
func (t *Tracker) Record(agent agents.Agent, score QualityScore, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	as := t.agents[agent]
	if as == nil {
		as = &agentSamples{}
		t.agents[agent] = as
	}
	as.samples = append(as.samples, sample{score: score, latency: latency, at: t.now()})
	t.prune(as)
}

// ApplyFeedback adjusts the agent's most recent score by signal. It returns
// false when the agent has no samples.
func (t *Tracker) ApplyFeedback(agent agents.Agent, signal *FeedbackSignal) bool {
	if signal == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	as := t.agents[agent]
	if as == nil || len(as.samples) == 0 {
		return false
	}
	last := &as.samples[len(as.samples)-1]
	last.score = AdjustScoreWithFeedback(last.score, signal)
	switch signal.Signal {
	case SignalPositive:
		as.positive++
	case SignalNegative:
		as.negative++
	}
	return true
}

// Metrics returns the agent's metrics over the window.
func (t *Tracker) Metrics(agent agents.Agent) AgentMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsLocked(agent)
}

// All returns metrics for every agent with samples, sorted by agent.
func (t *Tracker) All() []AgentMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]AgentMetrics, 0, len(t.agents))
	for a := range t.agents {
		if m := t.metricsLocked(a); m.Samples > 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

func (t *Tracker) metricsLocked(agent agents.Agent) AgentMetrics {
	m := AgentMetrics{Agent: agent, Trend: TrendStable}
	as := t.agents[agent]
	if as == nil {
		return m
	}
	m.PositiveFeedback, m.NegativeFeedback = as.positive, as.negative

	cutoff := t.now().Add(-t.window)
	var recent []sample
	for _, s := range as.samples {
		if !s.at.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	if len(recent) == 0 {
		return m
	}

	var quality float64
	var latency time.Duration
	for _, s := range recent {
		quality += s.score.Overall
		latency += s.latency
	}
	m.Samples = len(recent)
	m.AvgQuality = quality / float64(len(recent))
	m.AvgLatency = latency / time.Duration(len(recent))
	m.Trend = trendOf(recent)
	return m
}

// trendOf compares the mean quality of the older and newer halves.
func trendOf(samples []sample) Trend {
	if len(samples) < minTrendSamples {
		return TrendStable
	}
	mid := len(samples) / 2
	first, second := mean(samples[:mid]), mean(samples[mid:])
	switch {
	case second-first > trendDelta:
		return TrendImproving
	case first-second > trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(samples []sample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.score.Overall
	}
	return sum / float64(len(samples))
}

// prune drops samples past the window and beyond maxSamples.
func (t *Tracker) prune(as *agentSamples) {
	cutoff := t.now().Add(-t.window)
	i := 0
	for i < len(as.samples) && as.samples[i].at.Before(cutoff) {
		i++
	}
	if over := len(as.samples) - i - t.maxSamples; over > 0 {
		i += over
	}
	if i > 0 {
		as.samples = append([]sample(nil), as.samples[i:]...)
	}
}
