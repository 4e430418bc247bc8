package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the quest assistant service.
type Config struct {
	Port       int
	Version    string
	DataDir    string
	Database   DatabaseConfig
	Telemetry  TelemetryConfig
	Auth       AuthConfig
	Inference  InferenceConfig
	Assistant  AssistantConfig
	Generation GenerationConfig
	RateLimit  RateLimitConfig
	Retention  RetentionConfig
}

type DatabaseConfig struct {
	// URL selects PostgreSQL; empty means the in-memory store.
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
	// SampleRatio is the fraction of traces kept; 1 samples everything.
	SampleRatio  float64
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	RequireAuth bool
}

type InferenceConfig struct {
	Provider  string // "anthropic" or "openai"
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

type AssistantConfig struct {
	MaxMessageLength int
	HistoryLimit     int
	ToolName         string
}

type GenerationConfig struct {
	// PipelineURL is the generation pipeline endpoint; empty logs jobs only.
	PipelineURL string
	Secret      string
	Workers     int
	QueueSize   int
	MaxRetries  uint64
}

type RateLimitConfig struct {
	TurnsPerMinute int
	Burst          int
}

type RetentionConfig struct {
	Interval         time.Duration
	AuditRetention   time.Duration
	MessageRetention time.Duration // 0 keeps chat history forever
	// ArchiveDir receives expired audit events; empty purges without archiving.
	ArchiveDir string
	Compress   bool
}

// EnvPrefix is prepended to every environment variable (QUEST_PORT, ...).
const EnvPrefix = "QUEST"

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("version", "0.1.0")
	v.SetDefault("data-dir", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max-connections", 25)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp-endpoint", "localhost:4317")
	v.SetDefault("telemetry.service-name", "questd")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample-ratio", 1.0)

	v.SetDefault("auth.jwt-secret", "")
	v.SetDefault("auth.jwt-issuer", "")
	v.SetDefault("auth.require-auth", true)

	v.SetDefault("inference.provider", "anthropic")
	v.SetDefault("inference.model", "claude-3-5-sonnet-latest")
	v.SetDefault("inference.api-key", "")
	v.SetDefault("inference.base-url", "")
	v.SetDefault("inference.max-tokens", 1024)
	v.SetDefault("inference.timeout", 60*time.Second)

	v.SetDefault("assistant.max-message-length", 2000)
	v.SetDefault("assistant.history-limit", 10)
	v.SetDefault("assistant.tool-name", "manage_quest")

	v.SetDefault("generation.pipeline-url", "")
	v.SetDefault("generation.secret", "")
	v.SetDefault("generation.workers", 2)
	v.SetDefault("generation.queue-size", 64)
	v.SetDefault("generation.max-retries", 3)

	v.SetDefault("ratelimit.turns-per-minute", 20)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.audit", 30*24*time.Hour)
	v.SetDefault("retention.messages", time.Duration(0))
	v.SetDefault("retention.archive-dir", "")
	v.SetDefault("retention.compress", true)
}

// NewViper returns a viper instance wired to the QUEST_ environment.
// Nested keys map to env vars by replacing "." and "-" with "_", so
// "inference.api-key" reads QUEST_INFERENCE_API_KEY.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Conventional unprefixed names used by hosting platforms.
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("telemetry.otlp-endpoint", EnvPrefix+"_TELEMETRY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("inference.api-key", EnvPrefix+"_INFERENCE_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*Config, error) {
	return FromViper(NewViper())
}

// LoadFile reads a config file (any format viper supports) layered under
// the environment.
func LoadFile(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from an already-populated viper instance and
// validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:    v.GetInt("port"),
		Version: v.GetString("version"),
		DataDir: v.GetString("data-dir"),
		Database: DatabaseConfig{
			URL:            v.GetString("database.url"),
			MaxConnections: v.GetInt("database.max-connections"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool("telemetry.enabled"),
			OTLPEndpoint: v.GetString("telemetry.otlp-endpoint"),
			ServiceName:  v.GetString("telemetry.service-name"),
			Insecure:     v.GetBool("telemetry.insecure"),
			SampleRatio:  v.GetFloat64("telemetry.sample-ratio"),
		},
		Auth: AuthConfig{
			JWTSecret:   v.GetString("auth.jwt-secret"),
			JWTIssuer:   v.GetString("auth.jwt-issuer"),
			RequireAuth: v.GetBool("auth.require-auth"),
		},
		Inference: InferenceConfig{
			Provider:  strings.ToLower(v.GetString("inference.provider")),
			Model:     v.GetString("inference.model"),
			APIKey:    v.GetString("inference.api-key"),
			BaseURL:   v.GetString("inference.base-url"),
			MaxTokens: v.GetInt("inference.max-tokens"),
			Timeout:   v.GetDuration("inference.timeout"),
		},
		Assistant: AssistantConfig{
			MaxMessageLength: v.GetInt("assistant.max-message-length"),
			HistoryLimit:     v.GetInt("assistant.history-limit"),
			ToolName:         v.GetString("assistant.tool-name"),
		},
		Generation: GenerationConfig{
			PipelineURL: v.GetString("generation.pipeline-url"),
			Secret:      v.GetString("generation.secret"),
			Workers:     v.GetInt("generation.workers"),
			QueueSize:   v.GetInt("generation.queue-size"),
			MaxRetries:  v.GetUint64("generation.max-retries"),
		},
		RateLimit: RateLimitConfig{
			TurnsPerMinute: v.GetInt("ratelimit.turns-per-minute"),
			Burst:          v.GetInt("ratelimit.burst"),
		},
		Retention: RetentionConfig{
			Interval:         v.GetDuration("retention.interval"),
			AuditRetention:   v.GetDuration("retention.audit"),
			MessageRetention: v.GetDuration("retention.messages"),
			ArchiveDir:       v.GetString("retention.archive-dir"),
			Compress:         v.GetBool("retention.compress"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	switch c.Inference.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown inference provider %q", c.Inference.Provider)
	}
	if c.Assistant.MaxMessageLength <= 0 {
		return fmt.Errorf("config: assistant.max-message-length must be positive")
	}
	if c.Assistant.HistoryLimit < 0 {
		return fmt.Errorf("config: assistant.history-limit must not be negative")
	}
	if c.Generation.Workers <= 0 || c.Generation.QueueSize <= 0 {
		return fmt.Errorf("config: generation workers and queue size must be positive")
	}
	if c.Retention.MessageRetention < 0 || c.Retention.AuditRetention < 0 {
		return fmt.Errorf("config: retention windows must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry.sample-ratio must be within [0, 1]")
	}
	if c.Auth.RequireAuth && c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt-secret is required when auth is enforced")
	}
	return nil
}
