// Package anthropic implements the llm port with the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
	"github.com/mhylle/multi-agent-coding-system/internal/resilience"
)

// ProviderName identifies this adapter in responses and routing tables.
const ProviderName = "anthropic"

const defaultMaxTokens = 4096

// ErrMissingAPIKey is returned by NewClient without an API key.
var ErrMissingAPIKey = errors.New("anthropic: api key is not set")

// Config configures the client. BaseURL is optional.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// Client wraps the Anthropic SDK client.
type Client struct {
	inner   anthropic.Client
	model   string
	breaker *resilience.Breaker
}

// NewClient creates an Anthropic client. SDK-level retries are disabled;
// retrying is the invoker's job.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.DefaultModel
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &Client{inner: anthropic.NewClient(opts...), model: model}, nil
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Name returns the provider name.
func (c *Client) Name() string { return ProviderName }

// Generate makes a single Messages API call and concatenates the text blocks.
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	start := time.Now()
	var resp *anthropic.Message
	call := func() error {
		var err error
		resp, err = c.inner.Messages.New(ctx, params)
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &llm.Response{
		Content:  text.String(),
		Model:    string(resp.Model),
		Provider: ProviderName,
		Success:  true,
		Usage: llm.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		ResponseTime: time.Since(start),
		RequestID:    req.RequestID,
	}, nil
}

// Health reports whether the client is configured. The Messages API has no
// free liveness endpoint.
func (c *Client) Health(context.Context) (bool, error) {
	return true, nil
}
