package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentd.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "AGENTD_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTD_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "AGENTD_SHUTDOWN_TIMEOUT")
	setDuration(&cfg.Server.SubmitTimeout, "AGENTD_SUBMIT_TIMEOUT")

	setString(&cfg.Logging.Level, "AGENTD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTD_LOG_SERVICE")
	setString(&cfg.Logging.Format, "AGENTD_LOG_FORMAT")
	setBool(&cfg.Logging.Async, "AGENTD_LOG_ASYNC")

	// Router
	setInt(&cfg.Router.MaxQueueSize, "AGENTD_ROUTER_MAX_QUEUE_SIZE")
	setInt(&cfg.Router.MessageRetention, "AGENTD_ROUTER_MESSAGE_RETENTION")
	setDuration(&cfg.Router.IdleInterval, "AGENTD_ROUTER_IDLE_INTERVAL")
	setInt(&cfg.Router.PendingWarnThreshold, "AGENTD_ROUTER_PENDING_WARN")
	setDuration(&cfg.Router.RequestTimeout, "AGENTD_ROUTER_REQUEST_TIMEOUT")

	// Pipeline
	setString(&cfg.Pipeline.AgentID, "AGENTD_AGENT_ID")
	setString(&cfg.Pipeline.Role, "AGENTD_AGENT_ROLE")
	setFloat64(&cfg.Pipeline.ApprovalThreshold, "AGENTD_APPROVAL_THRESHOLD")
	setInt(&cfg.Pipeline.MaxAttempts, "AGENTD_MAX_ATTEMPTS")
	setInt(&cfg.Pipeline.MaxConcurrentTasks, "AGENTD_MAX_CONCURRENT_TASKS")
	setBool(&cfg.Pipeline.AnnounceStatus, "AGENTD_ANNOUNCE_STATUS")
	setString(&cfg.Pipeline.PromptsFile, "AGENTD_PROMPTS_FILE")
	setString(&cfg.Pipeline.Model, "AGENTD_MODEL")
	setInt(&cfg.Pipeline.MaxTokens, "AGENTD_MAX_TOKENS")

	// LLM
	setString(&cfg.LLM.DefaultProvider, "AGENTD_LLM_PROVIDER")
	setString(&cfg.LLM.LiteLLMURL, "LITELLM_URL")
	setString(&cfg.LLM.LiteLLMKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LLM.OllamaURL, "OLLAMA_URL")
	setString(&cfg.LLM.AnthropicKey, "ANTHROPIC_API_KEY")
	setString(&cfg.LLM.AnthropicBaseURL, "ANTHROPIC_BASE_URL")
	setDuration(&cfg.LLM.Timeout, "AGENTD_LLM_TIMEOUT")
	setInt(&cfg.LLM.MaxRetries, "AGENTD_LLM_MAX_RETRIES")
	setDuration(&cfg.LLM.RetryDelay, "AGENTD_LLM_RETRY_DELAY")
	setInt(&cfg.LLM.RateLimitRPM, "AGENTD_LLM_RATE_LIMIT_RPM")

	// Cache
	setDuration(&cfg.Cache.TTL, "AGENTD_CACHE_TTL")
	setInt64(&cfg.Cache.L1MaxSizeMB, "AGENTD_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "AGENTD_CACHE_L2_BUCKET")

	setInt(&cfg.Breaker.MaxFailures, "AGENTD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AGENTD_BREAKER_TIMEOUT")

	setBool(&cfg.NATS.Enabled, "AGENTD_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")
	setList(&cfg.NATS.RemoteAgents, "AGENTD_REMOTE_AGENTS")

	setFloat64(&cfg.Rate.RequestsPerSecond, "AGENTD_RATE_RPS")
	setInt(&cfg.Rate.Burst, "AGENTD_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "AGENTD_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "AGENTD_RATE_MAX_IDLE_TIME")

	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "AGENTD_OTEL_INSECURE")
	setFloat64(&cfg.OTel.SampleRatio, "AGENTD_OTEL_SAMPLE_RATIO")

	setBool(&cfg.MCP.Enabled, "AGENTD_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "AGENTD_MCP_API_KEY")
}

// validate checks that required fields are set and values are in range.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Pipeline.AgentID == "" {
		return errors.New("pipeline.agent_id is required")
	}
	if cfg.Router.MaxQueueSize < 1 {
		return errors.New("router.max_queue_size must be >= 1")
	}
	if cfg.Router.RequestTimeout <= 0 {
		return errors.New("router.request_timeout must be positive")
	}
	if cfg.Pipeline.ApprovalThreshold <= 0 || cfg.Pipeline.ApprovalThreshold > 1 {
		return errors.New("pipeline.approval_threshold must be in (0, 1]")
	}
	if cfg.Pipeline.MaxAttempts < 1 {
		return errors.New("pipeline.max_attempts must be >= 1")
	}
	if cfg.Pipeline.MaxConcurrentTasks < 1 {
		return errors.New("pipeline.max_concurrent_tasks must be >= 1")
	}
	switch cfg.LLM.DefaultProvider {
	case "litellm", "ollama", "anthropic":
	default:
		return fmt.Errorf("llm.default_provider %q is not one of litellm, ollama, anthropic", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.MaxRetries < 1 {
		return errors.New("llm.max_retries must be >= 1")
	}
	switch cfg.Logging.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text, auto", cfg.Logging.Format)
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated value, dropping empty entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
