// Package config provides hierarchical configuration loading for agentd.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the agent daemon.
type Config struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Router   Router   `yaml:"router"`
	Pipeline Pipeline `yaml:"pipeline"`
	LLM      LLM      `yaml:"llm"`
	Cache    Cache    `yaml:"cache"`
	Breaker  Breaker  `yaml:"breaker"`
	NATS     NATS     `yaml:"nats"`
	Rate     Rate     `yaml:"rate"`
	OTel     OTel     `yaml:"otel"`
	MCP      MCP      `yaml:"mcp"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout"` // Wait for a submitted task's response
}

// Logging holds structured logging configuration.
type Logging struct {
	Level        string `yaml:"level"`
	Service      string `yaml:"service"`
	Format       string `yaml:"format"` // "json" | "text" | "auto" (text on a terminal)
	Async        bool   `yaml:"async"`
	AsyncBuffer  int    `yaml:"async_buffer"`
	AsyncWorkers int    `yaml:"async_workers"`
}

// Router holds message router configuration.
type Router struct {
	MaxQueueSize         int           `yaml:"max_queue_size"`
	MessageRetention     int           `yaml:"message_retention"`
	IdleInterval         time.Duration `yaml:"idle_interval"`
	PendingWarnThreshold int           `yaml:"pending_warn_threshold"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
}

// Pipeline holds the agent execution pipeline configuration.
type Pipeline struct {
	AgentID             string  `yaml:"agent_id"`
	Role                string  `yaml:"role"`
	ApprovalThreshold   float64 `yaml:"approval_threshold"`
	MaxAttempts         int     `yaml:"max_attempts"`
	MaxConcurrentTasks  int     `yaml:"max_concurrent_tasks"`
	AnnounceStatus      bool    `yaml:"announce_status"` // Broadcast task status updates to other recipients
	PromptsFile         string  `yaml:"prompts_file"`    // Optional YAML prompt overrides
	Model               string  `yaml:"model"`
	MaxTokens           int     `yaml:"max_tokens"`
	PlanTemperature     float64 `yaml:"plan_temperature"`
	ValidateTemperature float64 `yaml:"validate_temperature"`
	ExecuteTemperature  float64 `yaml:"execute_temperature"`
	ReviewTemperature   float64 `yaml:"review_temperature"`
}

// LLM holds model provider configuration.
type LLM struct {
	DefaultProvider  string        `yaml:"default_provider"` // "litellm" | "ollama" | "anthropic"
	LiteLLMURL       string        `yaml:"litellm_url"`
	LiteLLMKey       string        `yaml:"litellm_key"`
	OllamaURL        string        `yaml:"ollama_url"`
	AnthropicKey     string        `yaml:"anthropic_key"`
	AnthropicBaseURL string        `yaml:"anthropic_base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RateLimitRPM     int           `yaml:"rate_limit_rpm"`
}

// Cache holds model response cache configuration.
type Cache struct {
	TTL         time.Duration `yaml:"ttl"`            // 0 disables response caching
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"` // In-process ristretto cache
	L2Bucket    string        `yaml:"l2_bucket"`      // NATS KV bucket, used when NATS is enabled
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NATS holds NATS JetStream configuration for the router bridge.
type NATS struct {
	Enabled      bool     `yaml:"enabled"`
	URL          string   `yaml:"url"`
	RemoteAgents []string `yaml:"remote_agents"` // Agent ids served by other processes
}

// Rate holds HTTP rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// OTel holds OpenTelemetry export configuration. An empty endpoint
// disables export.
type OTel struct {
	Endpoint       string        `yaml:"endpoint"`
	ServiceName    string        `yaml:"service_name"`
	Insecure       bool          `yaml:"insecure"`
	SampleRatio    float64       `yaml:"sample_ratio"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

// MCP holds the Model Context Protocol server configuration.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"` // Empty disables authentication
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:3000",
			ShutdownTimeout: 10 * time.Second,
			SubmitTimeout:   5 * time.Minute,
		},
		Logging: Logging{
			Level:        "info",
			Service:      "agentd",
			Format:       "json",
			AsyncBuffer:  10000,
			AsyncWorkers: 4,
		},
		Router: Router{
			MaxQueueSize:         1000,
			MessageRetention:     10000,
			IdleInterval:         10 * time.Millisecond,
			PendingWarnThreshold: 50,
			RequestTimeout:       30 * time.Second,
		},
		Pipeline: Pipeline{
			AgentID:             "agent-1",
			Role:                "master_orchestrator",
			ApprovalThreshold:   0.7,
			MaxAttempts:         3,
			MaxConcurrentTasks:  4,
			Model:               "gpt-4o-mini",
			MaxTokens:           4096,
			PlanTemperature:     0.3,
			ValidateTemperature: 0.2,
			ExecuteTemperature:  0.4,
			ReviewTemperature:   0.1,
		},
		LLM: LLM{
			DefaultProvider: "litellm",
			LiteLLMURL:      "http://localhost:4000",
			OllamaURL:       "http://localhost:11434",
			Timeout:         2 * time.Minute,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			RateLimitRPM:    60,
		},
		Cache: Cache{
			TTL:         10 * time.Minute,
			L1MaxSizeMB: 64,
			L2Bucket:    "AGENTD_LLM_CACHE",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		NATS: NATS{
			URL: "nats://localhost:4222",
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		OTel: OTel{
			ServiceName:    "agentd",
			Insecure:       true,
			SampleRatio:    1.0,
			ExportInterval: 15 * time.Second,
		},
	}
}
