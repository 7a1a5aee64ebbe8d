// Package rag implements single-shot retrieval augmentation: one embedding,
// one nearest-neighbour lookup, one templated prompt. Retrieval problems
// never fail the caller; they degrade to the raw prompt plus a notice.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/chat-relay/models"
	"github.com/upb/chat-relay/repositories"
	"github.com/upb/chat-relay/services"
	"github.com/upb/chat-relay/services/embedding"
)

// Mode selects whether a prompt is augmented
type Mode string

const (
	ModeChat Mode = "chat"
	ModeRAG  Mode = "rag"
)

// ParseMode parses a mode name; the empty string means ModeChat
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeChat:
		return ModeChat, nil
	case ModeRAG:
		return ModeRAG, nil
	default:
		return "", services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidMode.Message, nil).
			WithDetail("mode", s)
	}
}

// NoticeKind classifies a non-fatal augmentation notice
type NoticeKind string

const (
	NoticeNoRelevantChunk NoticeKind = "no_relevant_chunk"
	NoticeRetrievalError  NoticeKind = "retrieval_error"
)

// Notice is a user-visible, non-fatal message produced while augmenting
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Result is the outcome of Augment. Prompt is always usable.
type Result struct {
	Prompt    string
	Augmented bool
	Source    *models.SimilarityResult
	Notices   []Notice
}

const promptTemplate = "Use the following context to answer the question:\n\nContext:\n%s\n\nQuestion:\n%s"

// ApplyTemplate builds the augmented prompt from a chunk and the raw prompt
func ApplyTemplate(chunk, prompt string) string {
	return fmt.Sprintf(promptTemplate, chunk, prompt)
}

// Config holds augmentation settings
type Config struct {
	// Dimension every query vector must have
	Dimension int

	// RetrievalTimeout bounds the similarity search
	RetrievalTimeout time.Duration

	// MinSimilarity, when set, rejects a best match scoring below it
	MinSimilarity *float64
}

// Augmenter runs the embed, search, template pipeline
type Augmenter struct {
	embedder embedding.Embedder
	searcher repositories.SimilaritySearcher
	config   Config
	logger   *zap.Logger
}

// NewAugmenter creates a new augmenter
func NewAugmenter(embedder embedding.Embedder, searcher repositories.SimilaritySearcher, config Config, logger *zap.Logger) *Augmenter {
	if config.RetrievalTimeout == 0 {
		config.RetrievalTimeout = 5 * time.Second
	}
	if config.Dimension == 0 {
		config.Dimension = models.DefaultEmbeddingDimension
	}
	return &Augmenter{
		embedder: embedder,
		searcher: searcher,
		config:   config,
		logger:   logger,
	}
}

// Augment returns prompt unchanged in ModeChat. In ModeRAG it retrieves the
// single closest chunk and wraps prompt in the context template; if nothing
// is found or retrieval fails, prompt is returned unchanged with exactly one
// notice. history is the conversation so far and does not affect retrieval.
func (a *Augmenter) Augment(ctx context.Context, prompt string, history []models.ChatMessage, mode Mode) Result {
	if mode != ModeRAG {
		return Result{Prompt: prompt}
	}

	start := time.Now()
	source, err := a.retrieve(ctx, prompt)
	if err != nil {
		return a.fallback(prompt, len(history), err)
	}

	a.logger.Debug("prompt augmented",
		zap.Int64("chunk_id", source.ChunkID),
		zap.Float64("score", source.Score),
		zap.Int("history_len", len(history)),
		zap.Duration("latency", time.Since(start)),
	)

	return Result{
		Prompt:    ApplyTemplate(source.Content, prompt),
		Augmented: true,
		Source:    source,
	}
}

func (a *Augmenter) retrieve(ctx context.Context, prompt string) (*models.SimilarityResult, error) {
	vec, err := a.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, services.WrapRetrieval("embedding", err)
	}

	if len(vec) != a.config.Dimension {
		return nil, services.NewDimensionMismatch(a.config.Dimension, len(vec))
	}

	searchCtx, cancel := context.WithTimeout(ctx, a.config.RetrievalTimeout)
	defer cancel()

	source, err := a.searcher.Nearest(searchCtx, vec)
	if err != nil {
		return nil, services.WrapRetrieval("similarity search", err)
	}
	if source == nil {
		return nil, services.ErrNoRelevantChunk
	}

	if threshold := a.config.MinSimilarity; threshold != nil && source.Score < *threshold {
		return nil, services.NewDomainError(services.ErrorTypeEmptyResult,
			fmt.Sprintf("best match scored %.3f, below threshold %.3f", source.Score, *threshold), nil).
			WithDetail("chunk_id", source.ChunkID)
	}

	return source, nil
}

func (a *Augmenter) fallback(prompt string, historyLen int, err error) Result {
	if services.IsEmptyResultError(err) {
		a.logger.Warn("no relevant chunk, using raw prompt",
			zap.Int("history_len", historyLen),
			zap.Error(err),
		)
		return Result{
			Prompt:  prompt,
			Notices: []Notice{{Kind: NoticeNoRelevantChunk, Message: "no relevant chunk found"}},
		}
	}

	a.logger.Error("retrieval failed, using raw prompt",
		zap.String("error_type", string(services.GetErrorType(err))),
		zap.Error(err),
	)
	return Result{
		Prompt:  prompt,
		Notices: []Notice{{Kind: NoticeRetrievalError, Message: retrievalMessage(err)}},
	}
}

func retrievalMessage(err error) string {
	switch {
	case services.IsTimeoutError(err):
		return "retrieval timed out; answering without context"
	case services.IsConfigurationError(err):
		return "retrieval is misconfigured; answering without context"
	default:
		return "retrieval failed; answering without context"
	}
}
