// Package llm defines the model invocation port used by the agent pipeline.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when no provider can serve a request.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Request is a single text-generation request.
type Request struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	RequestID    string  `json:"request_id,omitempty"`
}

// Usage reports token consumption of one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the outcome of a Request. Success is false when the provider
// could not produce text; Error then carries the reason.
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Usage        Usage         `json:"usage"`
	ResponseTime time.Duration `json:"response_time"`
	RequestID    string        `json:"request_id,omitempty"`
}

// Client generates text. Implementations return an error for transport
// failures; callers that need "text out" semantics use the service Invoker.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Provider is a Client that can report its own name and reachability.
type Provider interface {
	Client
	Name() string
	Health(ctx context.Context) (bool, error)
}
