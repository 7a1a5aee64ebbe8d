package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/chat-relay/services"
	"github.com/upb/chat-relay/utils"
)

// StatusForError returns the HTTP status a domain error maps to
func StatusForError(err error) int {
	switch {
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case services.IsNotFoundError(err):
		return http.StatusNotFound
	case services.IsConflictError(err):
		return http.StatusConflict
	case services.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	case services.IsUpstreamCompletionError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-facing text for err. Server-side
// failures never expose wrapped causes: 500s get a generic message and
// upstream failures only the domain message.
func PublicMessage(err error) string {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		return "An internal error occurred"
	}
	if status >= http.StatusBadGateway {
		var domainErr *services.DomainError
		if errors.As(err, &domainErr) {
			return domainErr.Message
		}
		return http.StatusText(status)
	}
	return err.Error()
}

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusForError(err)
	details := services.GetErrorDetails(err)
	message := PublicMessage(err)

	switch {
	case status == http.StatusInternalServerError:
		// Configuration and internal failures are logged but not exposed
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		details = nil
	case status >= http.StatusBadGateway:
		logger.Warn("upstream failure", zap.Error(err), zap.Int("status", status))
	default:
		logger.Debug("handled service error",
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Any("details", details))
	}

	if err := utils.WriteError(w, status, message, details); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
