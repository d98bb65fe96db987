package orchestrator

import (
	"context"

	"github.com/normanking/concierge/internal/bus"
	"github.com/normanking/concierge/internal/logging"
	"github.com/normanking/concierge/internal/memory"
	"github.com/normanking/concierge/internal/quality"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BACKGROUND WORK
// Runs after the reply has been delivered; failures are only logged.
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Coordinator) startBackground(ctx context.Context, t *turn) {
	if c.deps.Quality != nil {
		c.goBackground(ctx, func(ctx context.Context) {
			c.scoreAnswer(ctx, t)
		})
	}
	if c.deps.Memory != nil {
		c.goBackground(ctx, func(ctx context.Context) {
			c.extractMemories(ctx, t)
		})
	}
}

func (c *Coordinator) goBackground(parent context.Context, fn func(ctx context.Context)) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := logging.DetachContextWithTimeout(parent, c.cfg.BackgroundTimeout)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logging.From(ctx).Error().Interface("panic", p).Msg("background task panicked")
			}
		}()
		fn(ctx)
	}()
}

func (c *Coordinator) scoreAnswer(_ context.Context, t *turn) {
	score := quality.Score(t.res.Content, t.req.Message)
	cacheable := quality.IsWorthCaching(score, c.cfg.CacheThreshold)
	c.deps.Quality.Record(t.res.Agent, score, t.res.Duration)

	ev := bus.NewEvent(bus.EventQualityScored)
	ev.RequestID = t.id
	ev.ThreadID = t.res.ThreadID
	ev.Agent = t.res.Agent.String()
	ev.Score = score.Overall
	ev.Cacheable = cacheable
	c.publish(ev)

	t.logger.Debug().
		Float64("overall", score.Overall).
		Bool("cacheable", cacheable).
		Msg("answer scored")
}

func (c *Coordinator) extractMemories(ctx context.Context, t *turn) {
	n, err := c.deps.Memory.Process(ctx, memory.Turn{
		UserID:      t.userID,
		ThreadID:    t.res.ThreadID,
		Agent:       t.res.Agent.String(),
		UserMessage: t.req.Message,
		Response:    t.res.Content,
	})
	if err != nil {
		t.logger.Warn().Err(err).Msg("memory extraction failed")
		return
	}
	if n == 0 {
		return
	}

	ev := bus.NewEvent(bus.EventMemoriesStored)
	ev.RequestID = t.id
	ev.ThreadID = t.res.ThreadID
	ev.UserID = t.userID
	ev.Agent = t.res.Agent.String()
	ev.Count = n
	ev.Success = true
	c.publish(ev)
}
