package providers

import (
	"context"
	"errors"
	"time"
)

// Provider represents an OpenAI-compatible chat completion backend
type Provider interface {
	// Name returns the provider name (e.g., "openai", "vllm")
	Name() string

	// ChatCompletion performs a non-streaming chat completion request
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// IsAvailable checks if the provider is currently reachable
	IsAvailable(ctx context.Context) bool
}

// StreamCallback is called for each delta of a streaming response.
// Returning an error stops consuming the stream.
type StreamCallback func(chunk *StreamChunk) error

// StreamingProvider extends Provider with streaming support
type StreamingProvider interface {
	Provider

	// ChatCompletionStream performs a streaming chat completion. It returns
	// after the upstream stream ends, ctx is cancelled, or callback fails.
	ChatCompletionStream(ctx context.Context, req *ChatRequest, callback StreamCallback) error
}

// ChatRequest represents a chat completion request
type ChatRequest struct {
	// Model identifier (e.g., "deepseek-ai/DeepSeek-R1-Distill-Qwen-32B")
	Model string `json:"model"`

	// Messages in the conversation, oldest first
	Messages []Message `json:"messages"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float32 `json:"temperature,omitempty"`

	// Timeout for the request; zero means the adapter default
	Timeout time.Duration `json:"-"`
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID       string        `json:"id"`
	Model    string        `json:"model"`
	Choices  []Choice      `json:"choices"`
	Usage    Usage         `json:"usage"`
	Provider string        `json:"provider"`
	Latency  time.Duration `json:"latency"`
	Created  time.Time     `json:"created"`
}

// Content returns the text of the first choice, or "" when there is none
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice represents a completion choice
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`

	// FinishReason indicates why the completion finished
	// Values: "stop", "length", "content_filter"
	FinishReason string `json:"finish_reason"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one incremental delta of a streaming completion.
// Content may be empty (role-only or keep-alive deltas).
type StreamChunk struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication; local inference servers accept any value
	APIKey string

	// BaseURL for the API, including the /v1 suffix
	BaseURL string

	// Model is the default model used when a request does not name one
	Model string

	// Timeout bounds each completion call
	Timeout time.Duration
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		APIKey:  "dummy",
		BaseURL: "http://deepseek:8000/v1",
		Model:   "deepseek-ai/DeepSeek-R1-Distill-Qwen-32B",
		Timeout: 120 * time.Second,
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// StatusCode extracts the upstream HTTP status from a provider error, or 0
func StatusCode(err error) int {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.StatusCode
	}
	return 0
}
