package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/chat-relay/middleware"
	"github.com/upb/chat-relay/models"
	"github.com/upb/chat-relay/services"
	"github.com/upb/chat-relay/services/chat"
	"github.com/upb/chat-relay/services/rag"
	"github.com/upb/chat-relay/utils"
)

// maxMessageBody caps chat message request bodies
const maxMessageBody = 256 << 10

// SessionStore creates, looks up and ends chat sessions
type SessionStore interface {
	Create() *chat.Session
	Get(id uuid.UUID) (*chat.Session, error)
	End(id uuid.UUID) error
}

// TurnRunner executes one chat turn against a session
type TurnRunner interface {
	Turn(ctx context.Context, sess *chat.Session, prompt string, mode rag.Mode, onToken func(string) error, opts ...chat.TurnOption) (*chat.TurnResult, error)
}

// MessageRequest is the body of POST /api/v1/sessions/{id}/messages
type MessageRequest struct {
	Prompt string `json:"prompt" validate:"required"`
	Mode   string `json:"mode" validate:"omitempty,oneof=chat rag"`
	Stream bool   `json:"stream"`
}

// SessionResponse describes a session and, when requested, its history
type SessionResponse struct {
	ID        uuid.UUID            `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Messages  []models.ChatMessage `json:"messages,omitempty"`
}

// TokenEvent carries one streamed delta
type TokenEvent struct {
	Content string `json:"content"`
}

// ErrorEvent reports a failure after the event stream has started
type ErrorEvent struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	PartialReply string `json:"partial_reply,omitempty"`
}

// ChatHandler handles the sessions API
type ChatHandler struct {
	sessions SessionStore
	driver   TurnRunner
	logger   *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(sessions SessionStore, driver TurnRunner, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		sessions: sessions,
		driver:   driver,
		logger:   logger,
	}
}

// HandleCreateSession handles POST /api/v1/sessions
func (h *ChatHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Create()

	if err := utils.WriteCreated(w, SessionResponse{ID: sess.ID, CreatedAt: sess.CreatedAt}); err != nil {
		h.logger.Error("failed to write session response", zap.Error(err))
	}
}

// HandleGetSession handles GET /api/v1/sessions/{id}
func (h *ChatHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(middleware.GetSessionIDFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, SessionResponse{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		Messages:  sess.History(),
	}); err != nil {
		h.logger.Error("failed to write session response", zap.Error(err))
	}
}

// HandleEndSession handles DELETE /api/v1/sessions/{id}
func (h *ChatHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(middleware.GetSessionIDFromContext(r.Context())); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleSendMessage handles POST /api/v1/sessions/{id}/messages. With
// "stream": true the reply is delivered as server-sent events.
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerFromContext(ctx, h.logger)

	var req MessageRequest
	if err := utils.DecodeJSON(r, maxMessageBody, &req); err != nil {
		logger.Warn("invalid message request", zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	mode, err := rag.ParseMode(req.Mode)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	sess, err := h.sessions.Get(middleware.GetSessionIDFromContext(ctx))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if req.Stream {
		h.streamTurn(w, r, sess, req.Prompt, mode)
		return
	}

	result, err := h.driver.Turn(ctx, sess, req.Prompt, mode, nil)
	if err != nil {
		logger.Error("chat turn failed", zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		logger.Error("failed to write message response", zap.Error(err))
	}
}

// streamTurn runs a turn and forwards notices and tokens as events. The
// event stream is opened on the first event so that failures before any
// output still get a regular status code.
func (h *ChatHandler) streamTurn(w http.ResponseWriter, r *http.Request, sess *chat.Session, prompt string, mode rag.Mode) {
	logger := middleware.LoggerFromContext(r.Context(), h.logger)

	if _, ok := w.(http.Flusher); !ok {
		HandleServiceError(w, services.WrapInternal("streaming unsupported", nil), h.logger)
		return
	}

	var events *utils.EventWriter
	send := func(event string, payload interface{}) error {
		if events == nil {
			ew, err := utils.NewEventWriter(w)
			if err != nil {
				return err
			}
			events = ew
		}
		return events.Send(event, payload)
	}

	result, err := h.driver.Turn(r.Context(), sess, prompt, mode,
		func(token string) error {
			return send("token", TokenEvent{Content: token})
		},
		chat.WithNoticeHandler(func(notice rag.Notice) error {
			return send("notice", notice)
		}),
	)

	if err != nil {
		logger.Error("streamed chat turn failed", zap.Error(err))
		if events == nil {
			HandleServiceError(w, err, h.logger)
			return
		}

		event := ErrorEvent{
			Error:   utils.ErrorCode(StatusForError(err)),
			Message: PublicMessage(err),
		}
		if result != nil {
			event.PartialReply = result.Reply
		}
		if sendErr := send("error", event); sendErr != nil {
			logger.Debug("failed to deliver error event", zap.Error(sendErr))
		}
		return
	}

	if err := send("done", result); err != nil {
		logger.Debug("failed to deliver done event", zap.Error(err))
	}
}
