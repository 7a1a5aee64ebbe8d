package embedding

import (
	"context"
	"fmt"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Embedder turns text into a single embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the embedding client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint
type OpenAIEmbedder struct {
	client  *goopenai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIEmbedder creates a new embedding client
func NewOpenAIEmbedder(cfg Config, logger *zap.Logger) *OpenAIEmbedder {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "dummy"
	}
	clientConfig := goopenai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &OpenAIEmbedder{
		client:  goopenai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}
}

// Embed requests exactly one embedding for text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}

	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("create embedding: expected 1 vector, got %d", len(resp.Data))
	}

	e.logger.Debug("embedding created",
		zap.String("model", e.model),
		zap.Int("dimension", len(resp.Data[0].Embedding)),
		zap.Duration("latency", time.Since(start)),
	)

	return resp.Data[0].Embedding, nil
}
