package topic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/data"
)

// MetadataKey is the thread metadata key holding the topic context.
const MetadataKey = "topic_context"

// maxUpdateAttempts bounds compare-and-swap retries on concurrent writers.
const maxUpdateAttempts = 3

// MetadataStore persists thread metadata with optimistic concurrency.
// data.Store implements it.
type MetadataStore interface {
	// GetMetadata returns the metadata bag and its version. Unknown threads
	// return data.ErrNotFound.
	GetMetadata(ctx context.Context, threadID string) (map[string]json.RawMessage, int64, error)

	// SetMetadataKey writes one key if the stored version still equals
	// expectedVersion, returning the new version or data.ErrConflict.
	SetMetadataKey(ctx context.Context, threadID, key string, value json.RawMessage, expectedVersion int64) (int64, error)
}

// RoutingContext is what the router needs to know about a thread's topic.
type RoutingContext struct {
	Context    *Context    `json:"topicContext"`
	Switch     Switch      `json:"topicSwitch"`
	Suggestion *Suggestion `json:"switchBackSuggestion,omitempty"`
}

// Tracker reads and advances per-thread topic state.
type Tracker struct {
	store     MetadataStore
	phrases   []string
	threshold float64
	window    time.Duration
	minTurns  int
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithSwitchPhrases replaces the explicit switch phrases.
func WithSwitchPhrases(phrases []string) Option {
	return func(t *Tracker) {
		if len(phrases) > 0 {
			t.phrases = phrases
		}
	}
}

// WithContinuityThreshold sets the overlap needed for a continuation.
func WithContinuityThreshold(v float64) Option {
	return func(t *Tracker) {
		if v > 0 {
			t.threshold = v
		}
	}
}

// WithSwitchBackWindow sets how long an interrupted task stays eligible.
func WithSwitchBackWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithMinInterruptedTurns sets the continuity needed to snapshot a task.
func WithMinInterruptedTurns(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.minTurns = n
		}
	}
}

// NewTracker creates a tracker backed by store.
func NewTracker(store MetadataStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		phrases:   DefaultSwitchPhrases,
		threshold: DefaultContinuityThreshold,
		window:    DefaultSwitchBackWindow,
		minTurns:  DefaultMinInterruptedTurns,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Phrases returns the configured switch phrases.
func (t *Tracker) Phrases() []string { return t.phrases }

// Threshold returns the continuity threshold.
func (t *Tracker) Threshold() float64 { return t.threshold }

// Load reads a thread's topic context. Threads without one, including
// unknown threads, yield an empty context at version 0.
func (t *Tracker) Load(ctx context.Context, threadID string) (*Context, error) {
	meta, version, err := t.store.GetMetadata(ctx, threadID)
	if errors.Is(err, data.ErrNotFound) {
		return &Context{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load topic context: %w", err)
	}

	c := &Context{}
	if raw, ok := meta[MetadataKey]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, c); err != nil {
			// A corrupt blob must not wedge the thread; start fresh.
			log.Warn().Err(err).Str("thread_id", threadID).Msg("discarding unreadable topic context")
			c = &Context{}
		}
	}
	c.Version = version
	return c, nil
}

// GetRoutingContext loads the thread's topic, detects an explicit switch in
// message and computes any switch-back suggestion.
func (t *Tracker) GetRoutingContext(ctx context.Context, threadID, message string) (*RoutingContext, error) {
	c, err := t.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	sw := DetectTopicSwitch(message, c, t.phrases, t.threshold)
	return &RoutingContext{
		Context:    c,
		Switch:     sw,
		Suggestion: CheckSwitchBackSuggestion(c, sw.Switched, t.now(), t.window, t.minTurns),
	}, nil
}

// CheckSwitchBackSuggestion applies the tracker's window and turn rules.
func (t *Tracker) CheckSwitchBackSuggestion(c *Context, switching bool) *Suggestion {
	return CheckSwitchBackSuggestion(c, switching, t.now(), t.window, t.minTurns)
}

// Update records a turn handled by agent and persists the result. prev is the
// context read for this request (may be nil); if another writer got there
// first, the turn is re-applied on top of the fresh state.
func (t *Tracker) Update(ctx context.Context, threadID string, agent agents.Agent, message string, prev *Context) (*Context, error) {
	base := prev
	var lastErr error

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if base == nil {
			loaded, err := t.Load(ctx, threadID)
			if err != nil {
				return nil, err
			}
			base = loaded
		}

		next := Advance(base, agent, message, t.now(), t.minTurns)
		raw, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode topic context: %w", err)
		}

		version, err := t.store.SetMetadataKey(ctx, threadID, MetadataKey, raw, base.Version)
		if err == nil {
			next.Version = version
			return next, nil
		}
		if !errors.Is(err, data.ErrConflict) {
			return nil, fmt.Errorf("save topic context: %w", err)
		}

		log.Debug().Str("thread_id", threadID).Int("attempt", attempt+1).Msg("topic context changed concurrently, retrying")
		lastErr = err
		base = nil
	}
	return nil, fmt.Errorf("save topic context: %w", lastErr)
}
