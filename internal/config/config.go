// Package config provides configuration loading for Sentinel.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Governance GovernanceConfig `toml:"governance"`
	Providers  ProvidersConfig  `toml:"providers"`
	Cache      CacheConfig      `toml:"cache"`
	Usage      UsageConfig      `toml:"usage"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Debug      DebugConfig      `toml:"debug"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	BindAddress    string        `toml:"bind_address"`
	Port           int           `toml:"port"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	MaxRequestSize int64         `toml:"max_request_size"`
}

// GovernanceConfig points at the governance (Zion) service that owns
// identity, quotas and tier configuration.
type GovernanceConfig struct {
	BaseURL string        `toml:"base_url"`
	APIKey  string        `toml:"api_key"`
	Timeout time.Duration `toml:"timeout"`
}

// ProvidersConfig contains per-upstream-provider settings.
type ProvidersConfig struct {
	OpenAI    OpenAIConfig    `toml:"openai"`
	Anthropic AnthropicConfig `toml:"anthropic"`
	Bedrock   BedrockConfig   `toml:"bedrock"`
}

// OpenAIConfig contains OpenAI-specific settings.
type OpenAIConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Enabled bool   `toml:"enabled"`
}

// AnthropicConfig contains Anthropic-specific settings.
type AnthropicConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Enabled bool   `toml:"enabled"`
}

// BedrockConfig contains AWS Bedrock-specific settings.
type BedrockConfig struct {
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Profile         string `toml:"profile"`
	Enabled         bool   `toml:"enabled"`
}

// CacheConfig selects and configures the KV cache backend.
type CacheConfig struct {
	Backend string    `toml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `toml:"redis"`
	Memory  MemoryConfig `toml:"memory"`
	TTL     CacheTTLConfig `toml:"ttl"`
}

// RedisConfig contains the networked cache backend's connection settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// MemoryConfig contains the in-process cache backend's sizing.
type MemoryConfig struct {
	MaxEntries int `toml:"max_entries"`
}

// CacheTTLConfig contains per-entity-kind TTLs for the KV cache.
type CacheTTLConfig struct {
	Session    time.Duration `toml:"session"`
	Limits     time.Duration `toml:"limits"`
	TierConfig time.Duration `toml:"tier_config"`
	JWT        time.Duration `toml:"jwt"`
}

// UsageConfig controls the batching usage-ingest pipeline.
type UsageConfig struct {
	MaxBatchSize          int           `toml:"max_batch_size"`
	FlushInterval         time.Duration `toml:"flush_interval"`
	ChannelBuffer         int           `toml:"channel_buffer"`
	RateLimitPerSecond    int           `toml:"rate_limit_per_second"`
	CircuitBreakerThresh  int           `toml:"circuit_breaker_threshold"`
	CircuitBreakerReset   time.Duration `toml:"circuit_breaker_reset"`
	RetryInterval         time.Duration `toml:"retry_interval"`
	MaxRetryBatch         int           `toml:"max_retry_batch"`
}

// TelemetryConfig contains logging/metrics settings.
type TelemetryConfig struct {
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"` // "json" or "text"
	MetricsEnabled bool   `toml:"metrics_enabled"`
	MetricsPort    int    `toml:"metrics_port"`
}

// DebugConfig enables development-only behavior.
type DebugConfig struct {
	// Enabled gates the /debug/* endpoints; they 404 when false.
	Enabled          bool `toml:"enabled"`
	LogRequestBodies bool `toml:"log_request_bodies"`
}

// Default returns the built-in configuration used when no file is present
// and no override applies.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    "0.0.0.0",
			Port:           8080,
			ReadTimeout:    5 * time.Minute,
			WriteTimeout:   10 * time.Minute,
			MaxRequestSize: 10 * 1024 * 1024,
		},
		Governance: GovernanceConfig{
			Timeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "memory",
			Memory:  MemoryConfig{MaxEntries: 100_000},
			Redis:   RedisConfig{Addr: "localhost:6379"},
			TTL: CacheTTLConfig{
				Session:    24 * time.Hour,
				Limits:     60 * time.Second,
				TierConfig: 30 * time.Minute,
				JWT:        5 * time.Minute,
			},
		},
		Usage: UsageConfig{
			MaxBatchSize:         100,
			FlushInterval:        500 * time.Millisecond,
			ChannelBuffer:        10_000,
			RateLimitPerSecond:   20,
			CircuitBreakerThresh: 3,
			CircuitBreakerReset:  30 * time.Second,
			RetryInterval:        60 * time.Second,
			MaxRetryBatch:        50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			MetricsPort:    9090,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults for
// anything the file doesn't set, then applies SENTINEL_* environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if os.IsNotExist(err) {
			cfg.substituteEnvVars()
			return cfg, nil
		}
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.substituteEnvVars()
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns defaults if path is
// empty or loading fails (a warning is printed to stderr in that case).
func LoadOrDefault(path string) *Config {
	if path == "" {
		cfg := Default()
		cfg.substituteEnvVars()
		return cfg
	}

	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load config from %s: %v\n", path, err)
		cfg = Default()
		cfg.substituteEnvVars()
	}
	return cfg
}

// substituteEnvVars expands ${VAR} patterns in secret-bearing fields and
// applies direct SENTINEL_* environment variable overrides, the same two
// mechanisms the teacher config layer supports.
func (c *Config) substituteEnvVars() {
	c.Governance.APIKey = expandEnv(c.Governance.APIKey)
	c.Providers.OpenAI.APIKey = expandEnv(c.Providers.OpenAI.APIKey)
	c.Providers.Anthropic.APIKey = expandEnv(c.Providers.Anthropic.APIKey)
	c.Providers.Bedrock.AccessKeyID = expandEnv(c.Providers.Bedrock.AccessKeyID)
	c.Providers.Bedrock.SecretAccessKey = expandEnv(c.Providers.Bedrock.SecretAccessKey)
	c.Cache.Redis.Password = expandEnv(c.Cache.Redis.Password)

	if v := os.Getenv("SENTINEL_GOVERNANCE_BASE_URL"); v != "" {
		c.Governance.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_GOVERNANCE_API_KEY"); v != "" {
		c.Governance.APIKey = v
	}
	if v := os.Getenv("SENTINEL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("SENTINEL_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("SENTINEL_REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("SENTINEL_OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("SENTINEL_ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		c.Telemetry.LogLevel = v
	}
	if v := os.Getenv("SENTINEL_DEBUG"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Debug.Enabled = enabled
		}
	}
}

func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return os.ExpandEnv(s)
}
