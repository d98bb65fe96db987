package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Telemetry is one orchestrated request's routing and latency record.
type Telemetry struct {
	ThreadID      string    `json:"threadId"`
	Agent         string    `json:"agent"`
	RoutingSource string    `json:"routingSource"`
	Confidence    float64   `json:"confidence"`
	LatencyMs     int64     `json:"latencyMs"`
	ToolsUsed     []string  `json:"toolsUsed"`
	FallbackUsed  bool      `json:"fallbackUsed"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Success       bool      `json:"success"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AgentSummary aggregates telemetry for one agent.
type AgentSummary struct {
	Agent         string  `json:"agent"`
	Requests      int64   `json:"requests"`
	AvgLatencyMs  float64 `json:"avgLatencyMs"`
	AvgConfidence float64 `json:"avgConfidence"`
	FallbackRate  float64 `json:"fallbackRate"`
	ErrorRate     float64 `json:"errorRate"`
}

// RecordTelemetry stores a telemetry row.
func (s *Store) RecordTelemetry(ctx context.Context, t *Telemetry) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	tools := t.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telemetry (thread_id, agent, routing_source, confidence, latency_ms, tools_used,
			fallback_used, provider, model, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ThreadID, t.Agent, t.RoutingSource, t.Confidence, t.LatencyMs, string(toolsJSON),
		boolToInt(t.FallbackUsed), t.Provider, t.Model, boolToInt(t.Success), toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	return nil
}

// PruneTelemetry deletes rows created before cutoff and returns the count.
func (s *Store) PruneTelemetry(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telemetry WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune telemetry: %w", err)
	}
	return res.RowsAffected()
}

// AgentTelemetrySummary aggregates telemetry since the given time, per agent.
func (s *Store) AgentTelemetrySummary(ctx context.Context, since time.Time) ([]AgentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, COUNT(*), AVG(latency_ms), AVG(confidence),
			AVG(CAST(fallback_used AS REAL)), AVG(CAST(1 - success AS REAL))
		FROM telemetry WHERE created_at >= ?
		GROUP BY agent ORDER BY agent`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("summarize telemetry: %w", err)
	}
	defer rows.Close()

	var out []AgentSummary
	for rows.Next() {
		var a AgentSummary
		if err := rows.Scan(&a.Agent, &a.Requests, &a.AvgLatencyMs, &a.AvgConfidence, &a.FallbackRate, &a.ErrorRate); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
