package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/upb/chat-relay/services/providers"
)

const (
	providerName = "openai"
)

// OpenAIAdapter implements providers.StreamingProvider against any
// OpenAI-compatible server (OpenAI itself, vLLM, llama.cpp server).
type OpenAIAdapter struct {
	config providers.ProviderConfig
	client *goopenai.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	defaults := providers.DefaultProviderConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.APIKey == "" {
		config.APIKey = defaults.APIKey
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	clientConfig := goopenai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL

	return &OpenAIAdapter{
		config: config,
		client: goopenai.NewClientWithConfig(clientConfig),
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return providerName
}

// Model returns the default model used when a request leaves it empty
func (a *OpenAIAdapter) Model() string {
	return a.config.Model
}

// ChatCompletion performs a non-streaming chat completion request
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.timeout(req))
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, a.buildRequest(req, false))
	if err != nil {
		return nil, a.convertError(err)
	}

	return a.convertResponse(&resp, time.Since(startTime)), nil
}

// ChatCompletionStream performs a streaming chat completion, invoking
// callback for every delta until the upstream signals the end of stream.
func (a *OpenAIAdapter) ChatCompletionStream(ctx context.Context, req *providers.ChatRequest, callback providers.StreamCallback) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout(req))
	defer cancel()

	stream, err := a.client.CreateChatCompletionStream(ctx, a.buildRequest(req, true))
	if err != nil {
		return a.convertError(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return a.convertError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		chunk := &providers.StreamChunk{
			ID:           resp.ID,
			Content:      choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}
}

// IsAvailable checks if the provider is currently available
func (a *OpenAIAdapter) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.client.ListModels(ctx)
	return err == nil
}

func (a *OpenAIAdapter) timeout(req *providers.ChatRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return a.config.Timeout
}

// buildRequest converts unified request to go-openai format
func (a *OpenAIAdapter) buildRequest(req *providers.ChatRequest, stream bool) goopenai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = a.config.Model
	}

	out := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    make([]goopenai.ChatCompletionMessage, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	for i, msg := range req.Messages {
		out.Messages[i] = goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return out
}

// convertResponse converts go-openai response to unified format
func (a *OpenAIAdapter) convertResponse(resp *goopenai.ChatCompletionResponse, latency time.Duration) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.Name(),
		Choices:  make([]providers.Choice, len(resp.Choices)),
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: latency,
		Created: time.Unix(resp.Created, 0),
	}

	for i, choice := range resp.Choices {
		out.Choices[i] = providers.Choice{
			Index: choice.Index,
			Message: providers.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: string(choice.FinishReason),
		}
	}
	return out
}

// convertError maps go-openai errors onto ProviderError, keeping the
// original error as cause so context deadlines remain detectable.
func (a *OpenAIAdapter) convertError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if code == "" {
			code = "API_ERROR"
		}
		return providers.NewProviderError(a.Name(), code, apiErr.Message, apiErr.HTTPStatusCode, err)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return providers.NewProviderError(a.Name(), "REQUEST_ERROR",
			fmt.Sprintf("upstream returned status %d", reqErr.HTTPStatusCode), reqErr.HTTPStatusCode, err)
	}

	return providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, err)
}
