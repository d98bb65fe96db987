package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/normanking/concierge/internal/metrics"
)

// DefaultStatsWindow is the report window when ?since is absent.
const DefaultStatsWindow = 24 * time.Hour

// registerMetricsRoutes registers all metrics-related routes on the given mux.
func registerMetricsRoutes(mux *http.ServeMux, s *Server, protect func(http.Handler) http.Handler) {
	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.deps.Telemetry != nil || s.deps.Collector != nil {
		mux.Handle("GET /v1/stats", protect(http.HandlerFunc(s.statsHandler)))
	}
}

// statsHandler returns the stored telemetry report and live session stats.
// GET /v1/stats?since=24h
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	window := DefaultStatsWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, badRequest("since must be a positive duration such as 24h"))
			return
		}
		window = d
	}

	now := s.now()
	resp := StatsResponse{Timestamp: now.UTC()}

	if s.deps.Telemetry != nil {
		report, err := metrics.BuildReport(r.Context(), s.deps.Telemetry, now.Add(-window))
		if err != nil {
			e := *ErrInternal
			e.Message = err.Error()
			writeError(w, &e)
			return
		}
		resp.Report = report
	}
	if s.deps.Collector != nil {
		resp.Session = s.deps.Collector.GetSessionStats()
	}

	writeJSON(w, http.StatusOK, resp)
}
