package metrics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/concierge/internal/bus"
	"github.com/normanking/concierge/internal/data"
)

func openStore(t *testing.T) *data.Store {
	t.Helper()
	store, err := data.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecorderRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := openStore(t)
	rec := NewRecorder(reg, store)
	ctx := context.Background()

	err := rec.Record(ctx, Turn{
		ThreadID:   "t1",
		Agent:      "home",
		Source:     "heuristic",
		Confidence: 0.8,
		Latency:    1500 * time.Millisecond,
		Tools: []ToolUse{
			{Name: "control_device", Success: true, Duration: 120 * time.Millisecond},
			{Name: "get_weather", Success: false},
		},
		FallbackUsed: true,
		Provider:     "groq",
		Model:        "llama-3.3-70b-versatile",
		Success:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.requests.WithLabelValues("home", "heuristic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.toolCalls.WithLabelValues("control_device", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.toolCalls.WithLabelValues("get_weather", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.fallbacks.WithLabelValues("home")))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.latency))

	summary, err := store.AgentTelemetrySummary(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "home", summary[0].Agent)
	assert.Equal(t, 1.0, summary[0].FallbackRate)
}

func TestRecorderWithoutStore(t *testing.T) {
	rec := NewRecorder(nil, nil)
	require.NoError(t, rec.Record(context.Background(), Turn{Agent: "coding", Source: "user-forced"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.requests.WithLabelValues("coding", "user-forced")))
}

type failingStore struct{}

func (failingStore) RecordTelemetry(context.Context, *data.Telemetry) error {
	return errors.New("disk full")
}

func TestRecorderStoreFailureStillCounts(t *testing.T) {
	rec := NewRecorder(nil, failingStore{})
	err := rec.Record(context.Background(), Turn{Agent: "finance", Source: "llm"})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.requests.WithLabelValues("finance", "llm")))
}

func TestRecorderQuality(t *testing.T) {
	rec := NewRecorder(nil, nil)
	rec.ObserveQuality("research", 0.82, true)
	rec.ObserveQuality("research", 0.4, false)
	rec.SetAgentQuality("research", 0.61)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.cacheable.WithLabelValues("research")))
	assert.Equal(t, 0.61, testutil.ToFloat64(rec.agentQuality.WithLabelValues("research")))
}

func TestRecorderRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg, nil)
	assert.Panics(t, func() { NewRecorder(reg, nil) }, "duplicate registration must fail loudly")
}

// ============================================================================
// REPORTS
// ============================================================================

type fakeSummaries []data.AgentSummary

func (f fakeSummaries) AgentTelemetrySummary(context.Context, time.Time) ([]data.AgentSummary, error) {
	return append([]data.AgentSummary(nil), f...), nil
}

func TestBuildReport(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r, err := BuildReport(context.Background(), fakeSummaries{
		{Agent: "coding", Requests: 1, AvgLatencyMs: 4000, FallbackRate: 1, ErrorRate: 0},
		{Agent: "home", Requests: 3, AvgLatencyMs: 800, FallbackRate: 0, ErrorRate: 1.0 / 3},
	}, since)
	require.NoError(t, err)

	assert.Equal(t, int64(4), r.TotalRequests)
	assert.InDelta(t, 1600, r.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.25, r.FallbackRate, 1e-9)
	assert.InDelta(t, 0.25, r.ErrorRate, 1e-9)
	assert.InDelta(t, 75, r.SuccessRate(), 1e-9)
	assert.Equal(t, "home", r.Agents[0].Agent, "busiest agent first")
}

func TestBuildReportEmpty(t *testing.T) {
	r, err := BuildReport(context.Background(), fakeSummaries{}, time.Now())
	require.NoError(t, err)
	assert.Zero(t, r.TotalRequests)
	assert.Equal(t, 100.0, r.SuccessRate())
}

// ============================================================================
// COLLECTOR
// ============================================================================

func TestCollector(t *testing.T) {
	b := bus.NewBus()
	defer b.Close()
	rec := NewRecorder(nil, nil)
	c := NewCollector(b, rec)
	c.Start()
	defer c.Stop()

	publish := func(typ bus.EventType, mutate func(*bus.Event)) {
		e := bus.NewEvent(typ)
		if mutate != nil {
			mutate(&e)
		}
		require.NoError(t, b.Publish(e))
	}

	publish(bus.EventRequestReceived, nil)
	publish(bus.EventToolExecuted, func(e *bus.Event) { e.Tool = "calculate"; e.Success = true })
	publish(bus.EventToolExecuted, func(e *bus.Event) { e.Tool = "get_weather" })
	publish(bus.EventModelFallback, nil)
	publish(bus.EventResponseCompleted, func(e *bus.Event) { e.Agent = "finance"; e.DurationMs = 2000; e.Success = true })
	publish(bus.EventRequestFailed, func(e *bus.Event) { e.DurationMs = 1000 })
	publish(bus.EventQualityScored, func(e *bus.Event) { e.Agent = "finance"; e.Score = 0.8; e.Cacheable = true })
	publish(bus.EventMemoriesStored, func(e *bus.Event) { e.Count = 2 })

	require.Eventually(t, func() bool {
		s := c.GetSessionStats()
		return s.RequestCount == 2 && s.ToolCalls == 2 && s.QualityCount == 1 && s.MemoriesStored == 2 && s.Fallbacks == 1
	}, 2*time.Second, 10*time.Millisecond)

	s := c.GetSessionStats()
	assert.Equal(t, 1, s.SuccessCount)
	assert.Equal(t, 1, s.FailureCount)
	assert.Equal(t, 1, s.ToolFailures)
	assert.Equal(t, 1, s.AgentRequests["finance"])
	assert.Equal(t, 1500*time.Millisecond, s.AvgLatency())
	assert.Equal(t, 50.0, s.SuccessRate())
	assert.InDelta(t, 0.8, s.AvgQuality(), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.cacheable.WithLabelValues("finance")))

	s.AgentRequests["finance"] = 99
	assert.Equal(t, 1, c.GetSessionStats().AgentRequests["finance"], "stats are returned as a copy")
}

func TestCollectorRecentEventsBounded(t *testing.T) {
	c := NewCollector(nil, nil)
	for i := 0; i < 60; i++ {
		e := bus.NewEvent(bus.EventToolExecuted)
		e.Count = i
		c.handleEvent(e)
	}
	recent := c.GetRecentEvents(100)
	require.Len(t, recent, 50)
	assert.Equal(t, 59, recent[len(recent)-1].Count)
	assert.Len(t, c.GetRecentEvents(3), 3)
}

// ============================================================================
// DASHBOARD
// ============================================================================

func TestDashboardRenderReport(t *testing.T) {
	d := NewDashboard()
	out := d.RenderReport(&Report{
		Since:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		TotalRequests: 1200,
		AvgLatencyMs:  1500,
		Agents:        []data.AgentSummary{{Agent: "research", Requests: 1200, AvgLatencyMs: 1500, AvgConfidence: 0.7}},
	})
	assert.Contains(t, out, "2026-03-01 09:00")
	assert.Contains(t, out, "1.2k")
	assert.Contains(t, out, "research")
	assert.Contains(t, out, "1.50s")

	empty := d.RenderReport(&Report{})
	assert.Contains(t, empty, "no requests recorded")
}

func TestDashboardRenderSession(t *testing.T) {
	d := NewDashboard()
	s := &SessionStats{RequestCount: 4, SuccessCount: 3, TotalLatencyMs: 4000, ToolCalls: 2}
	assert.Contains(t, d.RenderSession(s), "none")
	assert.Equal(t, "[Metrics] 4 req │ 75% ok │ 1.00s avg │ 2 tools │ 0 fallbacks │ quality 0.00", d.RenderCompact(s))
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "999", formatCount(999))
	assert.Equal(t, "1.5k", formatCount(1500))
	assert.Equal(t, "2.0M", formatCount(2_000_000))
	assert.Equal(t, "250ms", formatLatency(250))
}
