package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent  AgentConfig  `yaml:"agent"`
	LLM    LLMConfig    `yaml:"llm"`
	Market MarketConfig `yaml:"market"`
	Audit  AuditConfig  `yaml:"audit"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// AgentConfig holds the state-machine settings.
type AgentConfig struct {
	SystemPrompt string `yaml:"system_prompt"`
	// PlanFirst enables the PLAN step before the first ACT.
	PlanFirst bool `yaml:"plan_first"`
	// ToolBudget caps total tool invocations per run (default 50).
	ToolBudget int `yaml:"tool_budget"`
}

// LLMConfig holds the LLM provider settings.
type LLMConfig struct {
	Name        string  `yaml:"name"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Timeout     string  `yaml:"timeout"` // duration string (default: 60s)
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	// Pricing is USD per 1K tokens, used for run cost estimates.
	Pricing PricingConfig `yaml:"pricing"`
	// Breaker configures the circuit breaker around the provider.
	Breaker BreakerConfig `yaml:"breaker"`
}

// PricingConfig is the per-model price table for cost estimates.
type PricingConfig struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	MaxFailures uint32 `yaml:"max_failures"`
	Timeout     string `yaml:"timeout"`  // duration string (default: 30s)
	Interval    string `yaml:"interval"` // duration string (default: 60s)
}

// MarketConfig holds the market-data provider settings.
type MarketConfig struct {
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"` // duration string (default: 15s)
	RequestsPerHour int    `yaml:"requests_per_hour"`
	Burst           int    `yaml:"burst"`
	// MaxAttempts bounds the fetch retry loop (default 3).
	MaxAttempts int `yaml:"max_attempts"`
	// RateLimitDelay is the slow-path backoff after HTTP 429 (default: 1h).
	RateLimitDelay string `yaml:"rate_limit_delay"`
}

// AuditConfig holds the audit sink settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// TruncateAt bounds stored query/response length (default 1000).
	TruncateAt int `yaml:"truncate_at"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

const defaultSystemPrompt = `You are a financial analysis assistant. Your role is to:
- Analyze stock data and financial statements objectively
- Provide clear, data-driven insights
- Use available tools to gather accurate information
- Always cite your data sources`

// Defaults returns a config populated with default values.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			SystemPrompt: defaultSystemPrompt,
			PlanFirst:    true,
			ToolBudget:   50,
		},
		LLM: LLMConfig{
			Name:    "openai",
			Model:   "gpt-4o-mini",
			Timeout: "60s",
		},
		Market: MarketConfig{
			Timeout:        "15s",
			MaxAttempts:    3,
			RateLimitDelay: "1h",
		},
		Audit: AuditConfig{
			Enabled:    true,
			Path:       "finsight-audit.db",
			TruncateAt: 1000,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, validate(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets environment variables override file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("FINSIGHT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("FINSIGHT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("FINSIGHT_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("FINSIGHT_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

// validate checks cross-field constraints.
func validate(cfg *Config) error {
	if cfg.Agent.ToolBudget <= 0 {
		return fmt.Errorf("agent.tool_budget must be positive")
	}
	if cfg.Market.MaxAttempts <= 0 {
		return fmt.Errorf("market.max_attempts must be positive")
	}
	for _, d := range []struct{ name, val string }{
		{"llm.timeout", cfg.LLM.Timeout},
		{"market.timeout", cfg.Market.Timeout},
		{"market.rate_limit_delay", cfg.Market.RateLimitDelay},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// Duration parses a duration string, falling back to def when s is empty
// or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
