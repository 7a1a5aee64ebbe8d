package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/chat-relay/utils"
)

// SessionID parses the {id} URL parameter into a UUID and stores it in the
// request context. Malformed IDs are rejected with 400.
func SessionID(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := utils.ValidateUUID(chi.URLParam(r, "id"))
			if err != nil {
				logger.Debug("rejected session id",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.Error(err))
				_ = utils.WriteBadRequest(w, "Invalid session ID", nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
		})
	}
}
