// Package server exposes the coordinator over HTTP and WebSocket.
package server

import (
	"net/http"
	"time"

	"github.com/normanking/concierge/internal/agents"
	"github.com/normanking/concierge/internal/metrics"
	"github.com/normanking/concierge/internal/models"
	"github.com/normanking/concierge/internal/orchestrator"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════

// Timeouts for the HTTP server. Chat requests can run through a tool round and
// a provider failover, so the write timeout is generous.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 2 * time.Minute
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	maxRequestBody         = 1 << 20
)

// ═══════════════════════════════════════════════════════════════════════════════
// API RESPONSE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	Services  map[string]ServiceHealth `json:"services"`
	Agents    map[agents.Agent]bool    `json:"agents"`
	Timestamp time.Time                `json:"timestamp"`
}

// ServiceHealth is the health of one dependency.
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// ModelsResponse is returned by GET /v1/models/{agent}.
type ModelsResponse struct {
	Agent     agents.Agent         `json:"agent"`
	Chain     []models.Candidate   `json:"chain"`
	Available []models.ModelConfig `json:"available"`
	Resolved  models.ModelConfig   `json:"resolved"`
	Healthy   bool                 `json:"healthy"`
}

// FeedbackRequest is the body of POST /v1/feedback.
type FeedbackRequest struct {
	Agent    agents.Agent `json:"agent"`
	Positive bool         `json:"positive"`
}

// FeedbackResponse reports whether the signal changed the agent's score.
type FeedbackResponse struct {
	Agent   agents.Agent `json:"agent"`
	Applied bool         `json:"applied"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Timestamp time.Time             `json:"timestamp"`
	Report    *metrics.Report       `json:"report,omitempty"`
	Session   *metrics.SessionStats `json:"session,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// API ERROR TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// APIError represents a structured API error response.
type APIError struct {
	Status      int    `json:"-"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Common API errors.
var (
	ErrNotFound   = &APIError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "not found"}
	ErrBadRequest = &APIError{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "bad request"}
	ErrInternal   = &APIError{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal server error"}
)

// badRequest returns ErrBadRequest with a specific message.
func badRequest(msg string) *APIError {
	e := *ErrBadRequest
	e.Message = msg
	return &e
}

// fromOrchestrator maps a coordinator error onto an HTTP status.
func fromOrchestrator(err error) *APIError {
	oe := orchestrator.AsError(err)

	status := http.StatusInternalServerError
	switch oe.Code {
	case orchestrator.CodeInvalidRequest:
		status = http.StatusBadRequest
	case orchestrator.CodeMissingCredential:
		status = http.StatusServiceUnavailable
	case orchestrator.CodeProviderError:
		status = http.StatusBadGateway
	case orchestrator.CodeCancelled:
		status = http.StatusRequestTimeout
	}
	return &APIError{
		Status:      status,
		Code:        string(oe.Code),
		Message:     oe.Message,
		Recoverable: oe.Recoverable,
	}
}
