package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/normanking/concierge/internal/data"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEMETRY STORAGE
// ═══════════════════════════════════════════════════════════════════════════════

// TelemetryStore persists request telemetry. data.Store implements it.
type TelemetryStore interface {
	RecordTelemetry(ctx context.Context, t *data.Telemetry) error
}

// SummaryStore aggregates stored telemetry. data.Store implements it.
type SummaryStore interface {
	AgentTelemetrySummary(ctx context.Context, since time.Time) ([]data.AgentSummary, error)
}

// Report contains aggregated telemetry since a point in time.
type Report struct {
	Since         time.Time           `json:"since"`
	TotalRequests int64               `json:"total_requests"`
	AvgLatencyMs  float64             `json:"avg_latency_ms"`
	FallbackRate  float64             `json:"fallback_rate"`
	ErrorRate     float64             `json:"error_rate"`
	Agents        []data.AgentSummary `json:"agents"`
}

// BuildReport aggregates per-agent telemetry since the given time. Totals are
// weighted by each agent's request count; agents are listed busiest first.
func BuildReport(ctx context.Context, store SummaryStore, since time.Time) (*Report, error) {
	summaries, err := store.AgentTelemetrySummary(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load telemetry summary: %w", err)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Requests != summaries[j].Requests {
			return summaries[i].Requests > summaries[j].Requests
		}
		return summaries[i].Agent < summaries[j].Agent
	})

	r := &Report{Since: since, Agents: summaries}
	var latency, fallback, errs float64
	for _, s := range summaries {
		n := float64(s.Requests)
		r.TotalRequests += s.Requests
		latency += s.AvgLatencyMs * n
		fallback += s.FallbackRate * n
		errs += s.ErrorRate * n
	}
	if r.TotalRequests > 0 {
		total := float64(r.TotalRequests)
		r.AvgLatencyMs = latency / total
		r.FallbackRate = fallback / total
		r.ErrorRate = errs / total
	}
	return r, nil
}

// SuccessRate returns the share of requests that succeeded, as a percentage.
func (r *Report) SuccessRate() float64 {
	if r.TotalRequests == 0 {
		return 100
	}
	return (1 - r.ErrorRate) * 100
}
