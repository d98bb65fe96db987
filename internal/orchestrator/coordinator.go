package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/bus"
	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/enrich"
	"github.com/normanking/concierge/internal/llm"
	"github.com/normanking/concierge/internal/memory"
	"github.com/normanking/concierge/internal/metrics"
	"github.com/normanking/concierge/internal/models"
	"github.com/normanking/concierge/internal/quality"
	"github.com/normanking/concierge/internal/router"
	"github.com/normanking/concierge/internal/tools"
	"github.com/normanking/concierge/internal/topic"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ═══════════════════════════════════════════════════════════════════════════════

// ThreadStore persists threads and messages.
type ThreadStore interface {
	EnsureThread(ctx context.Context, id, userID string) (*data.Thread, bool, error)
	AppendMessage(ctx context.Context, msg *data.Message) error
	RecentMessages(ctx context.Context, threadID string, limit int) ([]*data.Message, error)
	LastAssistantMessage(ctx context.Context, threadID string) (*data.Message, error)
}

// ModelResolver maps agents to concrete model configurations.
type ModelResolver interface {
	Resolve(agent agents.Agent) models.ModelConfig
	AvailableModels(agent agents.Agent) []models.ModelConfig
}

// ContextBuilder assembles the enrichment block for a prompt.
type ContextBuilder interface {
	Build(ctx context.Context, userID, message string) *enrich.Context
}

// Wrapper rewrites specialist answers in the unified voice.
type Wrapper interface {
	Wrap(ctx context.Context, agent agents.Agent, content string) string
}

// TelemetryRecorder records one finished turn.
type TelemetryRecorder interface {
	Record(ctx context.Context, t metrics.Turn) error
}

// MemoryProcessor extracts durable facts from a finished turn.
type MemoryProcessor interface {
	Process(ctx context.Context, turn memory.Turn) (int, error)
}

// Deps are the coordinator's collaborators. Store, Router, Topics, Models and
// LLM are required; the rest are optional and their steps are skipped when nil.
type Deps struct {
	Store   ThreadStore
	Router  *router.Router
	Topics  *topic.Tracker
	Models  ModelResolver
	LLM     llm.Factory
	Tools   *tools.Executor
	Context ContextBuilder
	Wrapper Wrapper
	Quality *quality.Tracker
	Memory  MemoryProcessor
	Metrics TelemetryRecorder
	Bus     *bus.Bus
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultBackgroundTimeout bounds quality scoring and memory extraction.
	DefaultBackgroundTimeout = 30 * time.Second
	// DefaultStreamBuffer is the event channel size for streaming requests.
	DefaultStreamBuffer = 64
)

// Config tunes the pipeline.
type Config struct {
	HistoryLimit      int
	ShowTools         bool
	VoiceWrapping     bool
	CacheThreshold    float64
	FollowupWindow    time.Duration
	MaxTokens         int
	Temperature       float64
	BackgroundTimeout time.Duration
}

// ConfigFrom extracts the pipeline settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		HistoryLimit:      cfg.Orchestrator.HistoryLimit,
		ShowTools:         cfg.Orchestrator.ShowTools,
		VoiceWrapping:     cfg.Orchestrator.VoiceWrapping,
		CacheThreshold:    cfg.Quality.CacheThreshold,
		FollowupWindow:    cfg.Quality.FollowupWindow,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		BackgroundTimeout: DefaultBackgroundTimeout,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// COORDINATOR
// ═══════════════════════════════════════════════════════════════════════════════

// Coordinator runs requests through the pipeline. It is safe for concurrent
// use; requests on the same thread race only on topic state, which is
// guarded by compare-and-swap in the tracker.
type Coordinator struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	background sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a coordinator.
func New(deps Deps, cfg Config, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: thread store is required")
	case deps.Router == nil:
		return nil, errors.New("orchestrator: router is required")
	case deps.Topics == nil:
		return nil, errors.New("orchestrator: topic tracker is required")
	case deps.Models == nil:
		return nil, errors.New("orchestrator: model resolver is required")
	case deps.LLM == nil:
		return nil, errors.New("orchestrator: llm factory is required")
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = data.DefaultHistoryLimit
	}
	if cfg.CacheThreshold <= 0 {
		cfg.CacheThreshold = quality.DefaultCacheThreshold
	}
	if cfg.FollowupWindow <= 0 {
		cfg.FollowupWindow = quality.DefaultFollowupWindow
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = DefaultBackgroundTimeout
	}

	c := &Coordinator{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Process runs a request to completion and returns the aggregate result.
func (c *Coordinator) Process(ctx context.Context, req *Request) (*Result, error) {
	res, err := c.run(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ProcessStream runs a request and streams its events. The channel is closed
// after the terminal done or error event. If ctx is cancelled while the
// consumer is not reading, remaining events are dropped.
func (c *Coordinator) ProcessStream(ctx context.Context, req *Request) <-chan Event {
	out := make(chan Event, DefaultStreamBuffer)

	go func() {
		defer close(out)
		emit := func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
				if ev.Terminal() {
					// The consumer may still be draining; give it the terminal event
					// if there is room.
					select {
					case out <- ev:
					default:
					}
				}
			}
		}
		// run emits the terminal event itself.
		_, _ = c.run(ctx, req, emit)
	}()

	return out
}

// Wait blocks until background work started by finished requests completes.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

// ApplyFeedback records explicit user feedback on an agent's last answer.
// It reports whether the quality tracker had anything to adjust.
func (c *Coordinator) ApplyFeedback(agent agents.Agent, positive bool) (bool, error) {
	if !agent.Valid() {
		return false, fmt.Errorf("unknown agent %q", agent)
	}
	if c.deps.Quality == nil {
		return false, nil
	}
	signal := quality.ExplicitFeedback(positive)
	signal.Timestamp = c.now()
	applied := c.deps.Quality.ApplyFeedback(agent, signal)

	ev := bus.NewEvent(bus.EventFeedbackApplied)
	ev.Agent = agent.String()
	ev.Score = signal.Direction()
	ev.Details = string(signal.Source)
	ev.Success = applied
	c.publish(ev)
	return applied, nil
}

func (c *Coordinator) publish(ev bus.Event) {
	if err := c.deps.Bus.Publish(ev); err != nil {
		log.Debug().Err(err).Str("event", string(ev.Type)).Msg("event not published")
	}
}
