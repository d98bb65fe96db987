// Package scheduler runs the periodic maintenance jobs: publishing per-agent
// quality averages, pruning old telemetry and sweeping expired cache entries.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/quality"
)

// Job names.
const (
	JobQualityRollup   = "quality_rollup"
	JobTelemetryPrune  = "telemetry_prune"
	JobCacheSweep      = "cache_sweep"
	defaultJobDeadline = 2 * time.Minute
)

// QualitySource reports per-agent quality.
type QualitySource interface {
	All() []quality.AgentMetrics
}

// QualitySink receives per-agent quality averages.
type QualitySink interface {
	SetAgentQuality(agent string, avg float64)
}

// TelemetryPruner deletes telemetry older than a cutoff.
type TelemetryPruner interface {
	PruneTelemetry(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper drops expired cache entries.
type Sweeper interface {
	Sweep() int
}

// Jobs are the collaborators the scheduled jobs act on. A job whose
// collaborators are nil is not scheduled.
type Jobs struct {
	Quality   QualitySource
	Metrics   QualitySink
	Telemetry TelemetryPruner
	Retention time.Duration
	Cache     Sweeper
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
	trends  map[string]quality.Trend
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler and registers the jobs from cfg. Empty specs
// disable their job.
func New(cfg config.SchedulerConfig, jobs Jobs, opts ...Option) (*Scheduler, error) {
	logger := cronLogger{}
	s := &Scheduler{
		cron:    cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		jobs:    jobs,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
		trends:  make(map[string]quality.Trend),
	}
	for _, opt := range opts {
		opt(s)
	}

	if jobs.Quality != nil {
		if err := s.add(JobQualityRollup, cfg.MetricsSpec, func() { s.RollupQuality() }); err != nil {
			return nil, err
		}
	}
	if jobs.Telemetry != nil && jobs.Retention > 0 {
		if err := s.add(JobTelemetryPrune, cfg.RetentionSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), defaultJobDeadline)
			defer cancel()
			_, _ = s.PruneTelemetry(ctx)
		}); err != nil {
			return nil, err
		}
	}
	if jobs.Cache != nil {
		if err := s.add(JobCacheSweep, cfg.SweepSpec, func() { s.SweepCache() }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	if spec == "" {
		log.Debug().Str("job", name).Msg("job disabled: no schedule")
		return nil
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.entries[name] = id
	return nil
}

// Jobs returns the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	out := make([]string, 0, len(s.entries))
	for _, name := range []string{JobQualityRollup, JobTelemetryPrune, JobCacheSweep} {
		if _, ok := s.entries[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Next returns the next run time of a job, or the zero time if it is not
// scheduled or the scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Strs("jobs", s.Jobs()).Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ═══════════════════════════════════════════════════════════════════════════════
// JOBS
// ═══════════════════════════════════════════════════════════════════════════════

// RollupQuality publishes each agent's average quality and logs trend
// changes. It returns the number of agents published.
func (s *Scheduler) RollupQuality() int {
	all := s.jobs.Quality.All()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range all {
		if m.Samples == 0 {
			continue
		}
		agent := m.Agent.String()
		if s.jobs.Metrics != nil {
			s.jobs.Metrics.SetAgentQuality(agent, m.AvgQuality)
		}
		n++

		if prev, ok := s.trends[agent]; ok && prev != m.Trend {
			ev := log.Info()
			if m.Trend == quality.TrendDeclining {
				ev = log.Warn()
			}
			ev.Str("agent", agent).
				Str("from", string(prev)).
				Str("to", string(m.Trend)).
				Float64("avg_quality", m.AvgQuality).
				Int("samples", m.Samples).
				Msg("agent quality trend changed")
		}
		s.trends[agent] = m.Trend
	}
	log.Debug().Int("agents", n).Msg("quality rollup complete")
	return n
}

// PruneTelemetry deletes telemetry older than the retention period.
func (s *Scheduler) PruneTelemetry(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.jobs.Retention)
	n, err := s.jobs.Telemetry.PruneTelemetry(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Time("cutoff", cutoff).Msg("telemetry prune failed")
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("telemetry pruned")
	}
	return n, nil
}

// SweepCache drops expired cache entries.
func (s *Scheduler) SweepCache() int {
	n := s.jobs.Cache.Sweep()
	if n > 0 {
		log.Debug().Int("expired", n).Msg("cache swept")
	}
	return n
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
