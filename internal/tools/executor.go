package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/concierge/internal/agents"
)

// DefaultMaxParallel bounds concurrent tool calls in ExecuteAll.
const DefaultMaxParallel = 4

// ConfirmationHandler approves or rejects an invocation flagged by
// RequiresConfirmation.
type ConfirmationHandler func(ctx context.Context, agent agents.Agent, tool string, args map[string]any) (bool, error)

// Executor runs tools from a registry under per-tool timeouts.
type Executor struct {
	registry    *Registry
	timeouts    *TimeoutTable
	maxParallel int
	confirm     ConfirmationHandler
	now         func() time.Time

	statsMu sync.Mutex
	stats   ExecutorStats
}

// ExecutorStats tracks tool execution metrics.
type ExecutorStats struct {
	TotalExecutions  int64
	SuccessCount     int64
	FailureCount     int64
	TimeoutCount     int64
	ConfirmationReqs int64
	TotalDuration    time.Duration
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithTimeouts sets the per-tool timeout table.
func WithTimeouts(t *TimeoutTable) ExecutorOption {
	return func(e *Executor) {
		e.timeouts = t
	}
}

// WithMaxParallel bounds ExecuteAll concurrency.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithConfirmationHandler gates flagged invocations behind a callback.
func WithConfirmationHandler(h ConfirmationHandler) ExecutorOption {
	return func(e *Executor) {
		e.confirm = h
	}
}

// WithClock overrides the time source used for trace ids.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates a new tool executor.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		timeouts:    NewTimeoutTable(nil, DefaultTimeout),
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the dispatch table.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// TimeoutFor returns the timeout applied to a tool.
func (e *Executor) TimeoutFor(tool string) time.Duration {
	return e.timeouts.Lookup(tool)
}

type outcome struct {
	out *Output
	err error
}

// Execute runs one tool call. It never returns nil and never panics: every
// failure becomes a Result with Success=false and a classified error.
func (e *Executor) Execute(ctx context.Context, agent agents.Agent, tool string, args map[string]any, callerID string) *Result {
	start := e.now()
	traceID := fmt.Sprintf("%s-%s-%d", agent, tool, start.UnixMilli())
	logger := log.With().Str("trace_id", traceID).Str("caller", callerID).Logger()

	finish := func(r *Result) *Result {
		r.Meta = Meta{
			DurationMs: e.now().Sub(start).Milliseconds(),
			Source:     string(agent),
			TraceID:    traceID,
		}
		e.record(r)
		return r
	}

	impl, ok := e.registry.Lookup(agent, tool)
	if !ok {
		logger.Warn().Str("tool", tool).Msg("unknown tool requested")
		return finish(&Result{
			Message: fmt.Sprintf("Tool %s is not available for the %s agent", tool, agent),
			Error:   newErrorInfo(ErrNotFound, fmt.Sprintf("unknown tool: %s", tool)),
		})
	}

	if e.confirm != nil && RequiresConfirmation(tool, args) {
		e.statsMu.Lock()
		e.stats.ConfirmationReqs++
		e.statsMu.Unlock()

		approved, err := e.confirm(ctx, agent, tool, args)
		if err != nil || !approved {
			details := "operation cancelled by user"
			if err != nil {
				details = fmt.Sprintf("confirmation failed: %v", err)
			}
			return finish(&Result{
				Message: fmt.Sprintf("%s was not run: %s", tool, details),
				Error:   newErrorInfo(ErrValidation, details),
			})
		}
	}

	timeout := e.timeouts.Lookup(tool)
	execCtx, cancel := context.WithTimeout(WithCaller(ctx, callerID), timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := impl.Execute(execCtx, args)
		done <- outcome{out: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-execCtx.Done():
		// The tool saw the same cancellation; a late result is discarded.
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res = outcome{err: fmt.Errorf("cancelled: %w", ctx.Err())}
		} else {
			res = outcome{err: fmt.Errorf("%s timed out after %s: %w", tool, timeout, context.DeadlineExceeded)}
		}
	}

	if res.err != nil {
		code := Classify(res.err)
		if errors.Is(res.err, context.Canceled) {
			code = ErrUnknown
		}
		logger.Warn().Err(res.err).Str("tool", tool).Str("code", string(code)).Msg("tool call failed")
		return finish(&Result{
			Message: fmt.Sprintf("%s failed: %v", tool, res.err),
			Error:   newErrorInfo(code, res.err.Error()),
		})
	}

	out := res.out
	if out == nil {
		out = &Output{Message: "done"}
	}
	logger.Debug().Str("tool", tool).Msg("tool call succeeded")
	return finish(&Result{Success: true, Message: out.Message, Data: out.Data})
}

// ExecuteAll runs calls concurrently with bounded parallelism. Each call keeps
// its own timeout; results are returned in call order.
func (e *Executor) ExecuteAll(ctx context.Context, agent agents.Agent, calls []Call, callerID string) []*Result {
	results := make([]*Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, agent, call.Name, call.Args, callerID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Executor) record(r *Result) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.stats.TotalExecutions++
	e.stats.TotalDuration += time.Duration(r.Meta.DurationMs) * time.Millisecond
	if r.Success {
		e.stats.SuccessCount++
		return
	}
	e.stats.FailureCount++
	if r.Error != nil && r.Error.Code == ErrTimeout {
		e.stats.TimeoutCount++
	}
}

// Stats returns execution statistics.
func (e *Executor) Stats() ExecutorStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// SuccessRate returns the success rate as a percentage.
func (s ExecutorStats) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalExecutions) * 100
}

// AvgDuration returns the average execution duration.
func (s ExecutorStats) AvgDuration() time.Duration {
	if s.TotalExecutions == 0 {
		return 0
	}
	return time.Duration(int64(s.TotalDuration) / s.TotalExecutions)
}
