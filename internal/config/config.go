package config

import (
	"fmt"
	"strings"
	"time"
)

// MinSecretLength is the shortest accepted signing secret
const MinSecretLength = 32

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Cache       CacheConfig       `mapstructure:"cache"`
	ResultCache ResultCacheConfig `mapstructure:"result_cache"`
	Audit       AuditConfig       `mapstructure:"audit"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host        string   `mapstructure:"host"`         // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort    int      `mapstructure:"http_port"`    // HTTP server port
	AppName     string   `mapstructure:"app_name"`     // Reported in the Server header
	CORSOrigins []string `mapstructure:"cors_origins"` // Allowed CORS origins, empty disables CORS
}

// AuthConfig represents token signing configuration
type AuthConfig struct {
	SessionSecret  string        `mapstructure:"session_secret"`   // Signs session tokens
	ShareSecret    string        `mapstructure:"share_secret"`     // Signs share tokens, must differ from SessionSecret
	Algorithm      string        `mapstructure:"algorithm"`        // HMAC algorithm (default: HS256)
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"` // Session and share token lifetime
	ShareLinkPath  string        `mapstructure:"share_link_path"`  // Front-end path share links point at
}

// UpstreamConfig represents the aggregation service client configuration
type UpstreamConfig struct {
	URL          string        `mapstructure:"url"`
	APISecret    string        `mapstructure:"api_secret"`   // Signs the service credential
	TokenTTL     time.Duration `mapstructure:"token_ttl"`    // Service credential lifetime (default: 30m)
	TokenSkew    time.Duration `mapstructure:"token_skew"`   // Refresh this long before expiry (default: 60s)
	LoadTimeout  time.Duration `mapstructure:"load_timeout"` // Per-attempt timeout for load
	LoadRetries  int           `mapstructure:"load_retries"`
	MetaTimeout  time.Duration `mapstructure:"meta_timeout"` // Per-attempt timeout for meta
	MetaRetries  int           `mapstructure:"meta_retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	QueryLimit   int           `mapstructure:"query_limit"`   // Row cap on compiled queries
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"` // Budget for the readiness probe
}

// CacheConfig represents HTTP cache directive defaults
type CacheConfig struct {
	MaxAge               int `mapstructure:"max_age"`
	StaleWhileRevalidate int `mapstructure:"stale_while_revalidate"`
}

// ResultCacheConfig represents the upstream result cache
type ResultCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Backend  string        `mapstructure:"backend"` // memory (default), redis
	TTL      time.Duration `mapstructure:"ttl"`
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`   // Redis key prefix
	Compress bool          `mapstructure:"compress"` // Snappy-compress stored results
}

// AuditConfig represents the audit event publisher
type AuditConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Type          string   `mapstructure:"type"` // memory, nats, kafka, redis
	URL           string   `mapstructure:"url"`  // Broker URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Password      string   `mapstructure:"password"`
	RedisDB       int      `mapstructure:"redis_db"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers"`
	SubjectPrefix string   `mapstructure:"subject_prefix"` // Prepended to every event subject
}

// RateLimitConfig represents the per-caller rate limiter
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, Kitchen
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.ResultCache.Validate(); err != nil {
		return fmt.Errorf("result_cache config: %w", err)
	}

	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("audit config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	return nil
}

// Validate validates auth configuration
func (c *AuthConfig) Validate() error {
	if len(c.SessionSecret) < MinSecretLength {
		return fmt.Errorf("auth.session_secret must be at least %d characters", MinSecretLength)
	}

	if len(c.ShareSecret) < MinSecretLength {
		return fmt.Errorf("auth.share_secret must be at least %d characters", MinSecretLength)
	}

	if c.SessionSecret == c.ShareSecret {
		return fmt.Errorf("auth.session_secret and auth.share_secret cannot be the same")
	}

	if c.Algorithm != "" && !strings.HasPrefix(c.Algorithm, "HS") {
		return fmt.Errorf("auth.algorithm must be an HMAC algorithm (HS256, HS384, HS512)")
	}

	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be positive")
	}

	return nil
}

// Validate validates upstream configuration
func (c *UpstreamConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}

	if c.APISecret == "" {
		return fmt.Errorf("upstream.api_secret is required")
	}

	if c.LoadTimeout <= 0 || c.MetaTimeout <= 0 || c.ReadyTimeout <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}

	if c.LoadRetries < 0 || c.MetaRetries < 0 {
		return fmt.Errorf("upstream retries cannot be negative")
	}

	if c.BackoffBase < 0 {
		return fmt.Errorf("upstream.backoff_base cannot be negative")
	}

	if c.QueryLimit < 1 {
		return fmt.Errorf("upstream.query_limit must be at least 1")
	}

	return nil
}

// Validate validates cache configuration
func (c *CacheConfig) Validate() error {
	if c.MaxAge < 0 || c.StaleWhileRevalidate < 0 {
		return fmt.Errorf("cache directives cannot be negative")
	}
	return nil
}

// Validate validates result cache configuration
func (c *ResultCacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Backend {
	case "", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("result_cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("result_cache.backend must be 'memory' or 'redis'")
	}

	if c.TTL <= 0 {
		return fmt.Errorf("result_cache.ttl must be positive")
	}

	return nil
}

// Validate validates audit configuration
func (c *AuditConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch strings.ToLower(c.Type) {
	case "memory":
	case "nats", "redis":
		if c.URL == "" {
			return fmt.Errorf("audit.url is required for type %s", c.Type)
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("audit.kafka_brokers is required for type kafka")
		}
	default:
		return fmt.Errorf("audit.type must be one of: memory, nats, kafka, redis")
	}

	return nil
}

// Validate validates rate limit configuration
func (c *RateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be positive")
	}

	if c.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1")
	}

	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
