// Package relay forwards a single prompt to the completion server and
// returns the first choice, optionally augmenting the prompt first.
package relay

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

// Augmenter rewrites a prompt before it is relayed
type Augmenter interface {
	Augment(ctx context.Context, prompt string, history []models.ChatMessage, mode rag.Mode) rag.Result
}

// Config holds relay settings
type Config struct {
	Model   string
	Mode    rag.Mode
	Timeout time.Duration
}

// Service relays prompts to a non-streaming completion call
type Service struct {
	provider  providers.Provider
	augmenter Augmenter
	config    Config
	logger    *zap.Logger
}

// NewService creates a new relay service
func NewService(provider providers.Provider, augmenter Augmenter, config Config, logger *zap.Logger) *Service {
	if config.Mode == "" {
		config.Mode = rag.ModeChat
	}
	return &Service{
		provider:  provider,
		augmenter: augmenter,
		config:    config,
		logger:    logger,
	}
}

// Relay sends prompt as a single user message and returns the completion text
func (s *Service) Relay(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", services.ErrEmptyPrompt
	}

	augmented := s.augmenter.Augment(ctx, prompt, []models.ChatMessage{models.NewUserMessage(prompt)}, s.config.Mode)
	for _, notice := range augmented.Notices {
		s.logger.Warn("relay augmentation notice",
			zap.String("kind", string(notice.Kind)),
			zap.String("message", notice.Message),
		)
	}

	resp, err := s.provider.ChatCompletion(ctx, &providers.ChatRequest{
		Model:    s.config.Model,
		Messages: []providers.Message{{Role: string(models.RoleUser), Content: augmented.Prompt}},
		Timeout:  s.config.Timeout,
	})
	if err != nil {
		return "", services.WrapUpstream("completion failed", err).
			WithDetail("upstream_status", providers.StatusCode(err))
	}

	if len(resp.Choices) == 0 {
		return "", services.ErrEmptyCompletion
	}

	s.logger.Debug("prompt relayed",
		zap.String("model", resp.Model),
		zap.Bool("augmented", augmented.Augmented),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", resp.Latency),
	)

	return resp.Content(), nil
}
