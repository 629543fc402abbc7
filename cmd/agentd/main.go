package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/mhylle/multi-agent-coding-system/internal/adapter/http"
	cfmcp "github.com/mhylle/multi-agent-coding-system/internal/adapter/mcp"
	cfnats "github.com/mhylle/multi-agent-coding-system/internal/adapter/nats"
	cfotel "github.com/mhylle/multi-agent-coding-system/internal/adapter/otel"
	"github.com/mhylle/multi-agent-coding-system/internal/adapter/ws"
	"github.com/mhylle/multi-agent-coding-system/internal/config"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/logger"
	"github.com/mhylle/multi-agent-coding-system/internal/middleware"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
	"github.com/mhylle/multi-agent-coding-system/internal/secrets"
	"github.com/mhylle/multi-agent-coding-system/internal/service"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"agent_id", cfg.Pipeline.AgentID,
		"model", cfg.Pipeline.Model,
		"default_provider", cfg.LLM.DefaultProvider,
		"nats", cfg.NATS.Enabled,
		"mcp", cfg.MCP.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.EnvLiteLLMKey, secrets.EnvAnthropicKey, secrets.EnvMCPAPIKey))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	mcpKey := func() string {
		if k := vault.Get(secrets.EnvMCPAPIKey); k != "" {
			return k
		}
		return cfg.MCP.APIKey
	}

	// --- Observability ---

	shutdownOTel, err := cfotel.Init(ctx, cfotel.Config{
		Endpoint:       cfg.OTel.Endpoint,
		ServiceName:    cfg.OTel.ServiceName,
		Insecure:       cfg.OTel.Insecure,
		SampleRatio:    cfg.OTel.SampleRatio,
		ExportInterval: cfg.OTel.ExportInterval,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	hub := ws.NewHub(cfg.Server.CORSOrigin, 0)

	// --- Infrastructure ---

	var queue *cfnats.Queue
	if cfg.NATS.Enabled {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
	}

	rt := router.New(
		router.WithMaxQueueSize(cfg.Router.MaxQueueSize),
		router.WithHistoryRetention(cfg.Router.MessageRetention),
		router.WithIdleInterval(cfg.Router.IdleInterval),
		router.WithPendingWarnThreshold(cfg.Router.PendingWarnThreshold),
		router.WithRequestTimeout(cfg.Router.RequestTimeout),
		router.WithObserver(metrics),
		router.WithObserver(hub),
	)

	// --- Model invocation ---

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	invoker := service.NewInvoker(service.InvokerConfig{
		DefaultProvider: cfg.LLM.DefaultProvider,
		MaxRetries:      cfg.LLM.MaxRetries,
		RetryDelay:      cfg.LLM.RetryDelay,
		RateLimitRPM:    cfg.LLM.RateLimitRPM,
		CacheTTL:        cfg.Cache.TTL,
	}, providers.clients)

	responseCache, closeCache, err := buildCache(ctx, cfg, queue)
	if err != nil {
		return err
	}
	defer closeCache()
	if responseCache != nil {
		invoker.SetCache(responseCache)
	}

	// --- Agents ---

	prompts, err := service.LoadPrompts(cfg.Pipeline.PromptsFile)
	if err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	p := cfg.Pipeline
	params := func(temp float64) service.ModelParams {
		return service.ModelParams{Model: p.Model, Temperature: temp, MaxTokens: p.MaxTokens}
	}
	strategy := service.NewLLMStrategy(invoker, prompts, service.LLMStrategyConfig{
		Plan:    params(p.PlanTemperature),
		Execute: params(p.ExecuteTemperature),
		Review:  params(p.ReviewTemperature),
	})
	coord := service.NewCoordinator(service.CoordinatorConfig{
		AgentID:           p.AgentID,
		Role:              task.Role(p.Role),
		MaxAttempts:       p.MaxAttempts,
		ApprovalThreshold: p.ApprovalThreshold,
		Validation:        params(p.ValidateTemperature),
		Revision:          params(p.PlanTemperature),
	}, strategy, invoker, prompts)
	coord.SetMetrics(metrics)

	endpoint := service.NewAgentEndpoint(coord, rt, int64(p.MaxConcurrentTasks), p.AnnounceStatus)
	if err := endpoint.Register(ctx); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	gateway := service.NewGateway(service.DefaultGatewayID, rt, cfg.Router.RequestTimeout)
	if err := gateway.Register(); err != nil {
		return fmt.Errorf("register gateway: %w", err)
	}

	rt.Start(ctx)
	defer rt.Stop()

	if queue != nil {
		bridge := router.NewBridge(rt, queue, cfg.Router.RequestTimeout)
		defer bridge.Close()
		for _, id := range []string{endpoint.ID(), gateway.ID()} {
			if err := bridge.Import(ctx, id); err != nil {
				return fmt.Errorf("bridge import %s: %w", id, err)
			}
		}
		for _, id := range cfg.NATS.RemoteAgents {
			if err := bridge.Export(id); err != nil {
				return fmt.Errorf("bridge export %s: %w", id, err)
			}
		}
		slog.Info("router bridge ready", "remote_agents", cfg.NATS.RemoteAgents)
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Tasks:     gateway,
		Router:    rt,
		LLM:       invoker,
		Providers: providers.health,
		Limits:    cfhttp.Limits{SubmitTimeout: cfg.Server.SubmitTimeout},
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	limiter.StartCleanup(ctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTel.ServiceName, "/health", "/ws", "/mcp"))
	r.Use(limiter.Handler)

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWS)

	// MCP endpoint
	if cfg.MCP.Enabled {
		mcpServer := cfmcp.NewServer(cfmcp.ServerConfig{
			Name:      "agentd",
			Version:   version,
			KeySource: mcpKey,
		}, cfmcp.ServerDeps{Tasks: gateway, Router: rt})
		r.Handle("/mcp", mcpServer.Handler())
		slog.Info("mcp server mounted", "path", "/mcp", "auth", mcpKey() != "")
	}

	// API routes
	cfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.SubmitTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		vault.ReloadOn(gctx, syscall.SIGHUP)
		return nil
	})
	g.Go(func() error {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		rt.Stop()
		endpoint.Close()
		return err
	})

	return g.Wait()
}
