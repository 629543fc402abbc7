package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mhylle/multi-agent-coding-system/internal/adapter/anthropic"
	cfhttp "github.com/mhylle/multi-agent-coding-system/internal/adapter/http"
	"github.com/mhylle/multi-agent-coding-system/internal/adapter/litellm"
	cfnats "github.com/mhylle/multi-agent-coding-system/internal/adapter/nats"
	"github.com/mhylle/multi-agent-coding-system/internal/adapter/natskv"
	"github.com/mhylle/multi-agent-coding-system/internal/adapter/ollama"
	"github.com/mhylle/multi-agent-coding-system/internal/adapter/ristretto"
	"github.com/mhylle/multi-agent-coding-system/internal/adapter/tiered"
	"github.com/mhylle/multi-agent-coding-system/internal/config"
	"github.com/mhylle/multi-agent-coding-system/internal/port/cache"
	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
	"github.com/mhylle/multi-agent-coding-system/internal/resilience"
	"github.com/mhylle/multi-agent-coding-system/internal/service"
)

type providerSet struct {
	clients map[string]llm.Client
	health  map[string]cfhttp.HealthChecker
}

func (p providerSet) add(name string, c interface {
	llm.Client
	cfhttp.HealthChecker
}) {
	p.clients[name] = c
	p.health[name] = c
}

// buildProviders creates every configured model provider, each behind its
// own circuit breaker. Anthropic is skipped without an API key.
func buildProviders(cfg *config.Config) (providerSet, error) {
	set := providerSet{clients: map[string]llm.Client{}, health: map[string]cfhttp.HealthChecker{}}
	breaker := func(name string) *resilience.Breaker {
		return resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).Named(name)
	}

	if cfg.LLM.LiteLLMURL != "" {
		c := litellm.NewClient(cfg.LLM.LiteLLMURL, cfg.LLM.LiteLLMKey, cfg.Pipeline.Model, cfg.LLM.Timeout)
		c.SetBreaker(breaker(service.ProviderLiteLLM))
		set.add(service.ProviderLiteLLM, c)
	}
	if cfg.LLM.OllamaURL != "" {
		c := ollama.NewClient(cfg.LLM.OllamaURL, cfg.Pipeline.Model, cfg.LLM.Timeout)
		c.SetBreaker(breaker(service.ProviderOllama))
		set.add(service.ProviderOllama, c)
	}
	if cfg.LLM.AnthropicKey != "" {
		c, err := anthropic.NewClient(anthropic.Config{
			APIKey:       cfg.LLM.AnthropicKey,
			BaseURL:      cfg.LLM.AnthropicBaseURL,
			DefaultModel: cfg.Pipeline.Model,
			Timeout:      cfg.LLM.Timeout,
		})
		if err != nil {
			return providerSet{}, fmt.Errorf("anthropic: %w", err)
		}
		c.SetBreaker(breaker(service.ProviderAnthropic))
		set.add(service.ProviderAnthropic, c)
	}

	if _, ok := set.clients[cfg.LLM.DefaultProvider]; !ok {
		slog.Warn("default model provider not configured", "provider", cfg.LLM.DefaultProvider)
	}
	if len(set.clients) == 0 {
		return providerSet{}, errors.New("no model provider configured")
	}
	return set, nil
}

// buildCache assembles the response cache: ristretto in process, tiered over
// a shared NATS KV bucket when a queue is available. A zero TTL disables it.
func buildCache(ctx context.Context, cfg *config.Config, queue *cfnats.Queue) (cache.Cache, func(), error) {
	if cfg.Cache.TTL <= 0 {
		return nil, func() {}, nil
	}
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("ristretto: %w", err)
	}
	if queue == nil || cfg.Cache.L2Bucket == "" {
		return l1, l1.Close, nil
	}
	l2, err := natskv.Open(ctx, queue, cfg.Cache.L2Bucket, cfg.Cache.TTL)
	if err != nil {
		l1.Close()
		return nil, nil, err
	}
	slog.Info("tiered response cache enabled", "bucket", cfg.Cache.L2Bucket)
	return tiered.New(l1, l2, cfg.Cache.TTL), l1.Close, nil
}
