package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/pkg/messaging/redis"
	"github.com/jwalitptl/moderation-engine/pkg/worker"
)

// EnvPrefix namespaces environment overrides, e.g. MODERATION_AUTH_JWT_SECRET.
const EnvPrefix = "MODERATION"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server" envconfig:"server"`
	Database     DatabaseConfig     `mapstructure:"database" envconfig:"database"`
	Redis        RedisConfig        `mapstructure:"redis" envconfig:"redis"`
	Auth         AuthConfig         `mapstructure:"auth" envconfig:"auth"`
	Moderation   ModerationConfig   `mapstructure:"moderation" envconfig:"moderation"`
	Outbox       OutboxConfig       `mapstructure:"outbox" envconfig:"outbox"`
	Subscription SubscriptionConfig `mapstructure:"subscription" envconfig:"subscription"`
	Aggregator   AggregatorConfig   `mapstructure:"aggregator" envconfig:"aggregator"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" envconfig:"rate_limit"`
	Log          LogConfig          `mapstructure:"log" envconfig:"log"`
	// Users seeds the in-memory user directory.
	Users []model.User `mapstructure:"users" ignored:"true"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" split_words:"true"`
	Mode            string        `mapstructure:"mode" split_words:"true"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" split_words:"true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" split_words:"true"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" split_words:"true"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver" split_words:"true"`
	Host         string `mapstructure:"host" split_words:"true"`
	Port         int    `mapstructure:"port" split_words:"true"`
	User         string `mapstructure:"user" split_words:"true"`
	Password     string `mapstructure:"password" split_words:"true"`
	Name         string `mapstructure:"name" split_words:"true"`
	SSLMode      string `mapstructure:"sslmode" split_words:"true"`
	MaxOpenConns int    `mapstructure:"max_open_conns" split_words:"true"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" split_words:"true"`
	// Migrate creates the schema on startup.
	Migrate bool `mapstructure:"migrate" split_words:"true"`
}

type RedisConfig struct {
	// An empty URL keeps change signals in process.
	URL          string        `mapstructure:"url" split_words:"true"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" split_words:"true"`
	Issuer    string        `mapstructure:"issuer" split_words:"true"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" split_words:"true"`
	AdminRole string        `mapstructure:"admin_role" split_words:"true"`
}

type ModerationConfig struct {
	MaxTitleLength     int           `mapstructure:"max_title_length" split_words:"true"`
	MaxPayloadBytes    int           `mapstructure:"max_payload_bytes" split_words:"true"`
	ActorLookupTimeout time.Duration `mapstructure:"actor_lookup_timeout" split_words:"true"`
}

type OutboxConfig struct {
	BatchSize       int           `mapstructure:"batch_size" split_words:"true"`
	PollInterval    time.Duration `mapstructure:"poll_interval" split_words:"true"`
	RetryAttempts   int           `mapstructure:"retry_attempts" split_words:"true"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" split_words:"true"`
	Retention       time.Duration `mapstructure:"retention" split_words:"true"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" split_words:"true"`
	// InProcess runs the processor inside the API; turn it off when
	// cmd/worker drains the outbox instead.
	InProcess bool `mapstructure:"in_process" split_words:"true"`
}

type SubscriptionConfig struct {
	Buffer       int           `mapstructure:"buffer" split_words:"true"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" split_words:"true"`
}

type AggregatorConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl" split_words:"true"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" split_words:"true"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst" split_words:"true"`
}

type LogConfig struct {
	Level string `mapstructure:"level" split_words:"true"`
	// Format is "json" or "console".
	Format string `mapstructure:"format" split_words:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("auth.issuer", "moderation-engine")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.admin_role", model.UserRoleAdmin)

	v.SetDefault("moderation.max_title_length", 200)
	v.SetDefault("moderation.max_payload_bytes", 64<<10)
	v.SetDefault("moderation.actor_lookup_timeout", "2s")

	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.retry_attempts", 5)
	v.SetDefault("outbox.retry_delay", "5s")
	v.SetDefault("outbox.retention", "168h")
	v.SetDefault("outbox.cleanup_interval", "1h")
	v.SetDefault("outbox.in_process", true)

	v.SetDefault("subscription.buffer", 1)
	v.SetDefault("subscription.query_timeout", "5s")

	v.SetDefault("aggregator.cache_ttl", "10m")
	v.SetDefault("aggregator.cleanup_interval", "20m")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads config.yml from path, or from the usual search paths when
// path is empty, then applies MODERATION_* environment overrides. A missing
// config file is not an error; defaults and the environment still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			problems = append(problems, "database.host and database.name are required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Server.Port <= 0 {
		problems = append(problems, "server.port must be positive")
	}

	positive := map[string]time.Duration{
		"outbox.poll_interval":        c.Outbox.PollInterval,
		"outbox.retry_delay":          c.Outbox.RetryDelay,
		"outbox.cleanup_interval":     c.Outbox.CleanupInterval,
		"subscription.query_timeout":  c.Subscription.QueryTimeout,
		"aggregator.cache_ttl":        c.Aggregator.CacheTTL,
		"aggregator.cleanup_interval": c.Aggregator.CleanupInterval,
		"auth.token_ttl":              c.Auth.TokenTTL,
	}
	for name, d := range positive {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.RetryAttempts <= 0 {
		problems = append(problems, "outbox.batch_size and outbox.retry_attempts must be positive")
	}
	if c.Subscription.Buffer <= 0 {
		problems = append(problems, "subscription.buffer must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		problems = append(problems, "rate_limit.requests_per_second and rate_limit.burst must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DSN builds a lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
