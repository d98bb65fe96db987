package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DetachContext creates a context that won't be cancelled when parent is.
// Values (including the request logger) are preserved.
//
// Background work that must outlive the request (quality scoring, memory
// extraction, telemetry) runs on a detached context.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout creates a detached context with its own timeout.
//
//	bgCtx, cancel := logging.DetachContextWithTimeout(ctx, 30*time.Second)
//	defer cancel()
//	extractor.Extract(bgCtx, turn)
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(parent)
	return context.WithTimeout(detached, timeout)
}

// WithFields returns a context carrying a sub-logger with the given fields.
func WithFields(ctx context.Context, fields map[string]interface{}) context.Context {
	l := From(ctx).With().Fields(fields).Logger()
	return l.WithContext(ctx)
}

// From returns the logger stored in ctx, or the global logger.
func From(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &log.Logger
}
