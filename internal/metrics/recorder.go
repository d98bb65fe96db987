// Package metrics records per-request telemetry: Prometheus collectors for
// scraping, a SQLite row per orchestrated request for historical reports, and
// in-process session statistics fed from the event bus.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/normanking/concierge/internal/data"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECORDER
// ═══════════════════════════════════════════════════════════════════════════════

// ToolUse is one tool call made while answering a request.
type ToolUse struct {
	Name     string
	Success  bool
	Duration time.Duration
}

// Turn is the telemetry for one orchestrated request.
type Turn struct {
	ThreadID     string
	Agent        string
	Source       string
	Confidence   float64
	Latency      time.Duration
	Tools        []ToolUse
	FallbackUsed bool
	Provider     string
	Model        string
	Success      bool
}

// ToolNames returns the names of the tools used, in call order.
func (t Turn) ToolNames() []string {
	names := make([]string, 0, len(t.Tools))
	for _, tu := range t.Tools {
		names = append(names, tu.Name)
	}
	return names
}

// Recorder writes request telemetry to Prometheus and, when a store is
// configured, to the telemetry table.
type Recorder struct {
	store TelemetryStore

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	fallbacks    *prometheus.CounterVec
	quality      *prometheus.HistogramVec
	cacheable    *prometheus.CounterVec
	agentQuality *prometheus.GaugeVec
}

// NewRecorder registers the collectors on reg. A nil reg uses a private
// registry, which keeps tests from colliding on the global one.
func NewRecorder(reg prometheus.Registerer, store TelemetryStore) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Recorder{
		store: store,
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_requests_total",
				Help: "Orchestrated requests by agent and routing source",
			},
			[]string{"agent", "source"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_request_latency_seconds",
				Help:    "End-to-end request latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"agent"},
		),
		toolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_tool_calls_total",
				Help: "Tool calls by tool and outcome",
			},
			[]string{"tool", "success"},
		),
		toolLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_tool_latency_seconds",
				Help:    "Tool call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_model_fallback_total",
				Help: "Requests served by a fallback model",
			},
			[]string{"agent"},
		),
		quality: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "concierge_response_quality",
				Help:    "Heuristic quality score of final responses",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"agent"},
		),
		cacheable: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "concierge_cacheable_responses_total",
				Help: "Responses scoring above the caching threshold",
			},
			[]string{"agent"},
		),
		agentQuality: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "concierge_agent_quality",
				Help: "Rolling average response quality per agent",
			},
			[]string{"agent"},
		),
	}
}

// Record observes a finished request. Prometheus collectors are always
// updated; the returned error only reports a failed telemetry write.
func (r *Recorder) Record(ctx context.Context, t Turn) error {
	r.requests.WithLabelValues(t.Agent, t.Source).Inc()
	r.latency.WithLabelValues(t.Agent).Observe(t.Latency.Seconds())
	for _, tu := range t.Tools {
		r.toolCalls.WithLabelValues(tu.Name, fmt.Sprint(tu.Success)).Inc()
		if tu.Duration > 0 {
			r.toolLatency.WithLabelValues(tu.Name).Observe(tu.Duration.Seconds())
		}
	}
	if t.FallbackUsed {
		r.fallbacks.WithLabelValues(t.Agent).Inc()
	}

	if r.store == nil {
		return nil
	}
	err := r.store.RecordTelemetry(ctx, &data.Telemetry{
		ThreadID:      t.ThreadID,
		Agent:         t.Agent,
		RoutingSource: t.Source,
		Confidence:    t.Confidence,
		LatencyMs:     t.Latency.Milliseconds(),
		ToolsUsed:     t.ToolNames(),
		FallbackUsed:  t.FallbackUsed,
		Provider:      t.Provider,
		Model:         t.Model,
		Success:       t.Success,
	})
	if err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	return nil
}

// ObserveQuality records a response's quality score.
func (r *Recorder) ObserveQuality(agent string, score float64, cacheable bool) {
	r.quality.WithLabelValues(agent).Observe(score)
	if cacheable {
		r.cacheable.WithLabelValues(agent).Inc()
	}
}

// SetAgentQuality publishes an agent's rolling average quality.
func (r *Recorder) SetAgentQuality(agent string, avg float64) {
	r.agentQuality.WithLabelValues(agent).Set(avg)
}
