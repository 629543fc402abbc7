package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mhylle/multi-agent-coding-system/internal/logger"
	"github.com/mhylle/multi-agent-coding-system/internal/port/cache"
	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
)

// ErrInvocationFailed is returned when every attempt of a model call failed.
var ErrInvocationFailed = errors.New("model invocation failed")

const cacheNamespace = "llm"

// Provider names used for routing.
const (
	ProviderAnthropic = "anthropic"
	ProviderLiteLLM   = "litellm"
	ProviderOllama    = "ollama"
)

// InvokerConfig controls routing, retries, rate limiting and caching.
type InvokerConfig struct {
	DefaultProvider string
	MaxRetries      int           // total attempts per call
	RetryDelay      time.Duration // base of the exponential backoff
	RateLimitRPM    int           // 0 disables rate limiting
	CacheTTL        time.Duration // 0 disables response caching
}

// InvokerStats are cumulative call counters.
type InvokerStats struct {
	Calls     int64 `json:"calls"`
	Attempts  int64 `json:"attempts"`
	Failures  int64 `json:"failures"`
	CacheHits int64 `json:"cache_hits"`
}

// Invoker is the model invocation service: it routes a request to a
// provider by model name and retries failed attempts with exponential
// backoff under a per-minute rate limit. Successful responses are cached
// when a cache is attached.
type Invoker struct {
	cfg       InvokerConfig
	providers map[string]llm.Client
	limiter   *rate.Limiter
	cache     cache.Cache

	calls     atomic.Int64
	attempts  atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
}

// NewInvoker creates an Invoker over the given providers, keyed by name.
func NewInvoker(cfg InvokerConfig, providers map[string]llm.Client) *Invoker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	inv := &Invoker{cfg: cfg, providers: providers}
	if cfg.RateLimitRPM > 0 {
		inv.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitRPM)), cfg.RateLimitRPM)
	}
	return inv
}

// SetCache attaches a response cache.
func (i *Invoker) SetCache(c cache.Cache) {
	i.cache = c
}

// Route picks a provider name for model.
func (i *Invoker) Route(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"):
		return ProviderAnthropic
	case strings.Contains(m, "gpt"):
		return ProviderLiteLLM
	case strings.Contains(m, "qwen"), strings.Contains(m, "ollama"):
		return ProviderOllama
	default:
		return i.cfg.DefaultProvider
	}
}

// Providers returns the registered provider names.
func (i *Invoker) Providers() []string {
	names := make([]string, 0, len(i.providers))
	for name := range i.providers {
		names = append(names, name)
	}
	return names
}

// Stats returns a snapshot of the call counters.
func (i *Invoker) Stats() InvokerStats {
	return InvokerStats{
		Calls:     i.calls.Load(),
		Attempts:  i.attempts.Load(),
		Failures:  i.failures.Load(),
		CacheHits: i.cacheHits.Load(),
	}
}

// Generate implements llm.Client. It never returns a nil response: on
// failure the response has Success false and the error wraps
// ErrInvocationFailed.
func (i *Invoker) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	i.calls.Add(1)
	if req.RequestID == "" {
		req.RequestID = logger.RequestID(ctx)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	name := i.Route(req.Model)
	client, ok := i.providers[name]
	if !ok {
		name = i.cfg.DefaultProvider
		client, ok = i.providers[name]
	}
	if !ok {
		return i.fail(req, name, start, llm.ErrUnavailable)
	}

	key := i.cacheKey(name, req)
	if resp, ok := i.cached(ctx, key); ok {
		resp.RequestID = req.RequestID
		return resp, nil
	}

	var lastErr error
	for attempt := range i.cfg.MaxRetries {
		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				return i.fail(req, name, start, err)
			}
		}
		i.attempts.Add(1)

		resp, err := client.Generate(ctx, req)
		switch {
		case err != nil:
			lastErr = err
		case resp == nil:
			lastErr = errors.New("empty response")
		case !resp.Success:
			lastErr = fmt.Errorf("provider reported failure: %s", resp.Error)
		default:
			resp.Provider = name
			resp.RequestID = req.RequestID
			i.store(ctx, key, resp)
			slog.Debug("model call succeeded",
				"provider", name, "model", resp.Model, "request_id", req.RequestID,
				"attempt", attempt+1, "response_time", resp.ResponseTime)
			return resp, nil
		}

		slog.Warn("model call attempt failed",
			"provider", name, "model", req.Model, "request_id", req.RequestID,
			"attempt", attempt+1, "error", lastErr)
		if attempt < i.cfg.MaxRetries-1 {
			if err := sleepCtx(ctx, i.cfg.RetryDelay<<attempt); err != nil {
				return i.fail(req, name, start, err)
			}
		}
	}
	return i.fail(req, name, start, lastErr)
}

func (i *Invoker) fail(req llm.Request, provider string, start time.Time, cause error) (*llm.Response, error) {
	i.failures.Add(1)
	slog.Error("model call failed", "provider", provider, "model", req.Model, "request_id", req.RequestID, "error", cause)
	return &llm.Response{
		Model:        req.Model,
		Provider:     provider,
		Success:      false,
		Error:        cause.Error(),
		ResponseTime: time.Since(start),
		RequestID:    req.RequestID,
	}, fmt.Errorf("%w: %w", ErrInvocationFailed, cause)
}

func (i *Invoker) cacheKey(provider string, req llm.Request) string {
	if i.cache == nil || i.cfg.CacheTTL <= 0 {
		return ""
	}
	return cache.Key(cacheNamespace,
		provider, req.Model, req.SystemPrompt, req.Prompt,
		strconv.FormatFloat(req.Temperature, 'g', -1, 64),
		strconv.Itoa(req.MaxTokens),
	)
}

func (i *Invoker) cached(ctx context.Context, key string) (*llm.Response, bool) {
	if key == "" {
		return nil, false
	}
	data, found, err := i.cache.Get(ctx, key)
	if err != nil || !found {
		return nil, false
	}
	var resp llm.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("discarding corrupt cached model response", "key", key, "error", err)
		_ = i.cache.Delete(ctx, key)
		return nil, false
	}
	i.cacheHits.Add(1)
	return &resp, true
}

func (i *Invoker) store(ctx context.Context, key string, resp *llm.Response) {
	if key == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := i.cache.Set(ctx, key, data, i.cfg.CacheTTL); err != nil {
		slog.Warn("model response cache write failed", "key", key, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
