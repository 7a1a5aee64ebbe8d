// Package chat drives multi-turn conversations: session state, optional
// augmentation of the latest prompt and streaming completion.
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/chat-relay/models"
	"github.com/upb/chat-relay/services"
	"github.com/upb/chat-relay/services/providers"
	"github.com/upb/chat-relay/services/rag"
)

// Augmenter rewrites the latest prompt before it is sent upstream
type Augmenter interface {
	Augment(ctx context.Context, prompt string, history []models.ChatMessage, mode rag.Mode) rag.Result
}

// TurnResult describes a completed (or partially completed) turn
type TurnResult struct {
	Reply     string                   `json:"reply"`
	Augmented bool                     `json:"augmented"`
	Source    *models.SimilarityResult `json:"source,omitempty"`
	Notices   []rag.Notice             `json:"notices"`
	Partial   bool                     `json:"partial,omitempty"`
}

// TurnOption customises a single call to Turn
type TurnOption func(*turnOptions)

type turnOptions struct {
	onNotice func(rag.Notice) error
}

// WithNoticeHandler delivers augmentation notices before the first token
func WithNoticeHandler(fn func(rag.Notice) error) TurnOption {
	return func(o *turnOptions) {
		o.onNotice = fn
	}
}

// DriverConfig holds completion settings for chat turns
type DriverConfig struct {
	Model   string
	Timeout time.Duration
}

// Driver runs chat turns against a streaming provider
type Driver struct {
	provider  providers.StreamingProvider
	augmenter Augmenter
	config    DriverConfig
	logger    *zap.Logger
}

// NewDriver creates a new chat turn driver
func NewDriver(provider providers.StreamingProvider, augmenter Augmenter, config DriverConfig, logger *zap.Logger) *Driver {
	return &Driver{
		provider:  provider,
		augmenter: augmenter,
		config:    config,
		logger:    logger,
	}
}

// Turn appends prompt to the session, augments it according to mode, streams
// the completion for the replayed history and appends the assistant reply.
// Every non-empty delta is passed to onToken as it arrives.
//
// If the stream fails after some tokens were received, the partial reply is
// still appended and returned alongside an upstream completion error.
func (d *Driver) Turn(ctx context.Context, sess *Session, prompt string, mode rag.Mode, onToken func(string) error, opts ...TurnOption) (*TurnResult, error) {
	var options turnOptions
	for _, opt := range opts {
		opt(&options)
	}

	if strings.TrimSpace(prompt) == "" {
		return nil, services.ErrEmptyPrompt
	}

	if !sess.tryBeginTurn() {
		return nil, services.NewDomainError(services.ErrorTypeConflict, "a turn is already in progress for this session", nil).
			WithDetail("session_id", sess.ID.String())
	}
	defer sess.endTurn()

	if sess.Ended() {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "session not found", nil).
			WithDetail("session_id", sess.ID.String())
	}

	start := time.Now()
	sess.Append(models.NewUserMessage(prompt))
	history := sess.History()

	augmented := d.augmenter.Augment(ctx, prompt, history, mode)
	result := &TurnResult{
		Augmented: augmented.Augmented,
		Source:    augmented.Source,
		Notices:   augmented.Notices,
	}
	if result.Notices == nil {
		result.Notices = []rag.Notice{}
	}

	if options.onNotice != nil {
		for _, notice := range augmented.Notices {
			if err := options.onNotice(notice); err != nil {
				return result, services.WrapInternal("failed to deliver notice", err)
			}
		}
	}

	req := &providers.ChatRequest{
		Model:    d.config.Model,
		Messages: buildMessages(history, augmented.Prompt),
		Timeout:  d.config.Timeout,
	}

	var reply strings.Builder
	var sinkErr error
	streamErr := d.provider.ChatCompletionStream(ctx, req, func(chunk *providers.StreamChunk) error {
		if chunk.Content == "" {
			return nil
		}
		reply.WriteString(chunk.Content)
		if onToken != nil {
			if err := onToken(chunk.Content); err != nil {
				sinkErr = err
				return err
			}
		}
		return nil
	})

	result.Reply = reply.String()

	// The consumer stopped reading; the model did not fail.
	if sinkErr != nil {
		sess.Append(models.NewAssistantMessage(result.Reply))
		result.Partial = true

		d.logger.Warn("reply delivery failed, kept partial reply",
			zap.String("session_id", sess.ID.String()),
			zap.Int("partial_len", reply.Len()),
			zap.Error(sinkErr),
		)

		return result, services.NewDomainError(services.ErrorTypeInternal, "failed to deliver reply", sinkErr).
			WithDetail("partial_reply", result.Reply)
	}

	if streamErr != nil {
		if reply.Len() == 0 {
			d.logger.Error("completion stream failed before first token",
				zap.String("session_id", sess.ID.String()),
				zap.Error(streamErr),
			)
			return nil, services.WrapUpstream("completion stream failed", streamErr)
		}

		sess.Append(models.NewAssistantMessage(result.Reply))
		result.Partial = true

		d.logger.Warn("completion stream dropped, kept partial reply",
			zap.String("session_id", sess.ID.String()),
			zap.Int("partial_len", reply.Len()),
			zap.Error(streamErr),
		)

		return result, services.WrapUpstream("completion stream interrupted", streamErr).
			WithDetail("partial_reply", result.Reply)
	}

	sess.Append(models.NewAssistantMessage(result.Reply))

	d.logger.Info("chat turn completed",
		zap.String("session_id", sess.ID.String()),
		zap.String("mode", string(mode)),
		zap.Bool("augmented", result.Augmented),
		zap.Int("history_len", len(history)),
		zap.Duration("latency", time.Since(start)),
	)

	return result, nil
}

// buildMessages replays history verbatim except for the latest user
// message, which is replaced by the (possibly augmented) prompt.
func buildMessages(history []models.ChatMessage, latest string) []providers.Message {
	messages := make([]providers.Message, 0, len(history))
	for _, msg := range history[:len(history)-1] {
		messages = append(messages, providers.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return append(messages, providers.Message{Role: string(models.RoleUser), Content: latest})
}
