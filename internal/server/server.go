package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/auth"
	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/logging"
	"github.com/normanking/concierge/internal/metrics"
	"github.com/normanking/concierge/internal/models"
	"github.com/normanking/concierge/internal/orchestrator"
)

// Chatter runs conversation turns. *orchestrator.Coordinator implements it.
type Chatter interface {
	Process(ctx context.Context, req *orchestrator.Request) (*orchestrator.Result, error)
	ProcessStream(ctx context.Context, req *orchestrator.Request) <-chan orchestrator.Event
	ApplyFeedback(agent agents.Agent, positive bool) (bool, error)
}

// ModelCatalog describes model chains. *models.Resolver implements it.
type ModelCatalog interface {
	Chain(agent agents.Agent) []models.Candidate
	AvailableModels(agent agents.Agent) []models.ModelConfig
	Resolve(agent agents.Agent) models.ModelConfig
	Health() map[agents.Agent]bool
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the collaborators the handlers use. Chat and Models are
// required; the rest disable their endpoint when nil.
type Deps struct {
	Chat      Chatter
	Models    ModelCatalog
	Store     HealthChecker
	Telemetry metrics.SummaryStore
	Collector *metrics.Collector
	Observer  http.Handler
	Gatherer  prometheus.Gatherer
	Auth      *auth.Keyring
	Version   string
}

// Server is the HTTP front end of the coordinator.
type Server struct {
	deps       Deps
	httpServer *http.Server
	startTime  time.Time
	now        func() time.Time
}

// New creates a new server.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Chat == nil || deps.Models == nil {
		return nil, errors.New("server: chat and models are required")
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		deps:      deps,
		startTime: time.Now(),
		now:       time.Now,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
	return s, nil
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	protect := s.deps.Auth.RequireKey

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("POST /v1/chat", protect(http.HandlerFunc(s.chatHandler)))
	mux.Handle("GET /v1/chat/ws", protect(http.HandlerFunc(s.chatStreamHandler)))
	mux.Handle("POST /v1/feedback", protect(http.HandlerFunc(s.feedbackHandler)))
	mux.Handle("GET /v1/models/{agent}", protect(http.HandlerFunc(s.modelsHandler)))
	registerMetricsRoutes(mux, s, protect)
	if s.deps.Observer != nil {
		mux.Handle("GET /v1/events", protect(s.deps.Observer))
	}

	return s.withRequestLog(mux)
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HANDLERS
// ═══════════════════════════════════════════════════════════════════════════════

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]ServiceHealth)
	healthy := true

	if s.deps.Store != nil {
		if err := s.deps.Store.Health(r.Context()); err != nil {
			services["store"] = ServiceHealth{Healthy: false, Message: err.Error()}
			healthy = false
		} else {
			services["store"] = ServiceHealth{Healthy: true}
		}
	}

	agentHealth := s.deps.Models.Health()
	configured := 0
	for _, ok := range agentHealth {
		if ok {
			configured++
		}
	}
	providers := ServiceHealth{Healthy: configured > 0}
	if configured < len(agentHealth) {
		providers.Message = fmt.Sprintf("%d of %d agents have credentials", configured, len(agentHealth))
	}
	services["providers"] = providers

	status := "ok"
	code := http.StatusOK
	switch {
	case !healthy:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case configured < len(agentHealth):
		status = "degraded"
	}

	writeJSON(w, code, HealthResponse{
		Status:    status,
		Version:   s.deps.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Services:  services,
		Agents:    agentHealth,
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}

	normalizeAgent(&req)
	res, err := s.deps.Chat.Process(r.Context(), &req)
	if err != nil {
		writeError(w, fromOrchestrator(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	agent, ok := agents.Parse(req.Agent.String())
	if !ok {
		writeError(w, badRequest(fmt.Sprintf("unknown agent %q", req.Agent)))
		return
	}

	applied, err := s.deps.Chat.ApplyFeedback(agent, req.Positive)
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, FeedbackResponse{Agent: agent, Applied: applied})
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	agent, ok := agents.Parse(r.PathValue("agent"))
	if !ok {
		writeError(w, ErrNotFound)
		return
	}

	available := s.deps.Models.AvailableModels(agent)
	if available == nil {
		available = []models.ModelConfig{}
	}
	writeJSON(w, http.StatusOK, ModelsResponse{
		Agent:     agent,
		Chain:     s.deps.Models.Chain(agent),
		Available: available,
		Resolved:  s.deps.Models.Resolve(agent),
		Healthy:   len(available) > 0,
	})
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// normalizeAgent accepts aliases such as "@code" for a forced agent. Unknown
// names are left for the coordinator to reject.
func normalizeAgent(req *orchestrator.Request) {
	if req.ForceAgent == "" {
		return
	}
	if a, ok := agents.Parse(req.ForceAgent.String()); ok {
		req.ForceAgent = a
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, e *APIError) {
	writeJSON(w, e.Status, map[string]*APIError{"error": e})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes WebSocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		ctx := logging.WithFields(r.Context(), map[string]interface{}{"http_request_id": reqID})
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.Debug().
			Str("http_request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
