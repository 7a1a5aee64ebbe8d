package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/chat-relay/middleware"
	"github.com/upb/chat-relay/utils"
)

// maxRelayBody caps request bodies accepted by /relay and /echo
const maxRelayBody = 1 << 20

// RelayService forwards a single prompt to the completion server
type RelayService interface {
	Relay(ctx context.Context, prompt string) (string, error)
}

// RelayRequest is the row-oriented body accepted by /relay: each row is
// [index, prompt]. Only the first row is relayed.
type RelayRequest struct {
	Data [][]json.RawMessage `json:"data" validate:"required,min=1"`
}

// RelayResponse mirrors the request shape with the completion in place of the prompt
type RelayResponse struct {
	Data [][]interface{} `json:"data"`
}

// RelayHandler handles /relay and /echo
type RelayHandler struct {
	service RelayService
	logger  *zap.Logger
}

// NewRelayHandler creates a new RelayHandler
func NewRelayHandler(service RelayService, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{
		service: service,
		logger:  logger,
	}
}

// HandleRelay handles POST /relay
func (h *RelayHandler) HandleRelay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := middleware.LoggerFromContext(ctx, h.logger)

	var req RelayRequest
	if err := utils.DecodeJSON(r, maxRelayBody, &req); err != nil {
		logger.Warn("failed to parse relay body", zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	prompt, err := firstPrompt(req)
	if err != nil {
		logger.Warn("invalid relay row", zap.Error(err))
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	completion, err := h.service.Relay(ctx, prompt)
	if err != nil {
		logger.Error("relay failed", zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, RelayResponse{
		Data: [][]interface{}{{0, completion}},
	}); err != nil {
		logger.Error("failed to write relay response", zap.Error(err))
	}
}

// HandleEcho handles POST /echo by returning the JSON body unchanged
func (h *RelayHandler) HandleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRelayBody))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Failed to read request body", nil)
		return
	}

	if !json.Valid(body) {
		_ = utils.WriteBadRequest(w, "Request body must be valid JSON", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("failed to write echo response", zap.Error(err))
	}
}

var (
	errShortRow        = errors.New("each data row must be [index, prompt]")
	errPromptNotString = errors.New("prompt must be a string")
)

func firstPrompt(req RelayRequest) (string, error) {
	row := req.Data[0]
	if len(row) < 2 {
		return "", errShortRow
	}

	var prompt string
	if err := json.Unmarshal(row[1], &prompt); err != nil {
		return "", errPromptNotString
	}
	return prompt, nil
}
