package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/cache"
	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/quality"
)

type fakeQuality struct {
	metrics []quality.AgentMetrics
}

func (f *fakeQuality) All() []quality.AgentMetrics { return f.metrics }

type fakeSink struct {
	got map[string]float64
}

func (f *fakeSink) SetAgentQuality(agent string, avg float64) {
	if f.got == nil {
		f.got = map[string]float64{}
	}
	f.got[agent] = avg
}

type failingPruner struct{}

func (failingPruner) PruneTelemetry(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestNewSchedulesConfiguredJobs(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SchedulerConfig
		jobs Jobs
		want []string
	}{
		{
			name: "all jobs",
			cfg:  config.Default().Scheduler,
			jobs: Jobs{Quality: &fakeQuality{}, Telemetry: failingPruner{}, Retention: time.Hour, Cache: cache.NewMemoryCache()},
			want: []string{JobQualityRollup, JobTelemetryPrune, JobCacheSweep},
		},
		{
			name: "missing collaborators",
			cfg:  config.Default().Scheduler,
			jobs: Jobs{Cache: cache.NewMemoryCache()},
			want: []string{JobCacheSweep},
		},
		{
			name: "no retention",
			cfg:  config.Default().Scheduler,
			jobs: Jobs{Telemetry: failingPruner{}},
			want: []string{},
		},
		{
			name: "empty spec disables job",
			cfg:  config.SchedulerConfig{MetricsSpec: "*/15 * * * *"},
			jobs: Jobs{Quality: &fakeQuality{}, Cache: cache.NewMemoryCache()},
			want: []string{JobQualityRollup},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, tt.jobs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Jobs())
		})
	}
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New(config.SchedulerConfig{SweepSpec: "every tuesday"}, Jobs{Cache: cache.NewMemoryCache()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobCacheSweep)
}

func TestStartStop(t *testing.T) {
	s, err := New(config.Default().Scheduler, Jobs{Cache: cache.NewMemoryCache()})
	require.NoError(t, err)

	s.Start()
	assert.False(t, s.Next(JobCacheSweep).IsZero())
	assert.True(t, s.Next(JobQualityRollup).IsZero())
	s.Stop()
}

func TestRollupQuality(t *testing.T) {
	q := &fakeQuality{metrics: []quality.AgentMetrics{
		{Agent: agents.Home, AvgQuality: 0.82, Samples: 10, Trend: quality.TrendStable},
		{Agent: agents.Finance, AvgQuality: 0.64, Samples: 4, Trend: quality.TrendImproving},
		{Agent: agents.Coding, Samples: 0},
	}}
	sink := &fakeSink{}
	s, err := New(config.SchedulerConfig{}, Jobs{Quality: q, Metrics: sink})
	require.NoError(t, err)

	assert.Equal(t, 2, s.RollupQuality())
	assert.Equal(t, map[string]float64{"home": 0.82, "finance": 0.64}, sink.got)

	q.metrics[0].Trend = quality.TrendDeclining
	q.metrics[0].AvgQuality = 0.55
	assert.Equal(t, 2, s.RollupQuality())
	assert.Equal(t, 0.55, sink.got["home"])
	assert.Equal(t, quality.TrendDeclining, s.trends["home"])
}

func TestPruneTelemetry(t *testing.T) {
	store, err := data.Open(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	now := time.Now()
	for _, age := range []time.Duration{72 * time.Hour, 49 * time.Hour, time.Hour} {
		require.NoError(t, store.RecordTelemetry(ctx, &data.Telemetry{
			ThreadID:  "t1",
			Agent:     "home",
			Success:   true,
			CreatedAt: now.Add(-age),
		}))
	}

	s, err := New(config.SchedulerConfig{}, Jobs{Telemetry: store, Retention: 48 * time.Hour}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	n, err := s.PruneTelemetry(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	summary, err := store.AgentTelemetrySummary(ctx, now.Add(-365*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, int64(1), summary[0].Requests)

	s, err = New(config.SchedulerConfig{}, Jobs{Telemetry: failingPruner{}, Retention: time.Hour})
	require.NoError(t, err)
	_, err = s.PruneTelemetry(ctx)
	assert.Error(t, err)
}

func TestSweepCache(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := cache.NewMemoryCache(cache.WithClock(clock))
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))

	s, err := New(config.SchedulerConfig{}, Jobs{Cache: c})
	require.NoError(t, err)
	assert.Equal(t, 0, s.SweepCache())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.SweepCache())
	assert.Equal(t, 1, c.Len())
}
