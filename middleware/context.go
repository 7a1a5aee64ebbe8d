package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context key type to avoid collisions
type contextKey string

const (
	// SessionIDKey is the context key for the chat session ID
	SessionIDKey contextKey = "session_id"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetSessionIDFromContext retrieves the chat session ID from context
func GetSessionIDFromContext(ctx context.Context) uuid.UUID {
	if val := ctx.Value(SessionIDKey); val != nil {
		if id, ok := val.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

// WithSessionID adds a chat session ID to the context
func WithSessionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// LoggerFromContext returns logger annotated with the request and session IDs found in ctx
func LoggerFromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if requestID := GetRequestIDFromContext(ctx); requestID != "" {
		logger = logger.With(zap.String("request_id", requestID))
	}
	if sessionID := GetSessionIDFromContext(ctx); sessionID != uuid.Nil {
		logger = logger.With(zap.String("session_id", sessionID.String()))
	}
	return logger
}
