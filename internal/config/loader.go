package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PULSEGATE_AUTH_SESSION_SECRET
const EnvPrefix = "PULSEGATE"

// Load loads configuration from file, .env and environment
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")              // Current directory
		v.AddConfigPath("./configs")      // Project configs directory
		v.AddConfigPath("/etc/pulsegate") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values. Every key is given a
// default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.app_name", d.Server.AppName)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	// Auth defaults
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.share_secret", "")
	v.SetDefault("auth.algorithm", d.Auth.Algorithm)
	v.SetDefault("auth.access_token_ttl", d.Auth.AccessTokenTTL)
	v.SetDefault("auth.share_link_path", d.Auth.ShareLinkPath)

	// Upstream defaults
	v.SetDefault("upstream.url", d.Upstream.URL)
	v.SetDefault("upstream.api_secret", "")
	v.SetDefault("upstream.token_ttl", d.Upstream.TokenTTL)
	v.SetDefault("upstream.token_skew", d.Upstream.TokenSkew)
	v.SetDefault("upstream.load_timeout", d.Upstream.LoadTimeout)
	v.SetDefault("upstream.load_retries", d.Upstream.LoadRetries)
	v.SetDefault("upstream.meta_timeout", d.Upstream.MetaTimeout)
	v.SetDefault("upstream.meta_retries", d.Upstream.MetaRetries)
	v.SetDefault("upstream.backoff_base", d.Upstream.BackoffBase)
	v.SetDefault("upstream.query_limit", d.Upstream.QueryLimit)
	v.SetDefault("upstream.ready_timeout", d.Upstream.ReadyTimeout)

	// Cache defaults
	v.SetDefault("cache.max_age", d.Cache.MaxAge)
	v.SetDefault("cache.stale_while_revalidate", d.Cache.StaleWhileRevalidate)

	// Result cache defaults
	v.SetDefault("result_cache.enabled", d.ResultCache.Enabled)
	v.SetDefault("result_cache.backend", d.ResultCache.Backend)
	v.SetDefault("result_cache.ttl", d.ResultCache.TTL)
	v.SetDefault("result_cache.redis_url", "")
	v.SetDefault("result_cache.prefix", d.ResultCache.Prefix)
	v.SetDefault("result_cache.compress", d.ResultCache.Compress)

	// Audit defaults
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.type", d.Audit.Type)
	v.SetDefault("audit.url", "")
	v.SetDefault("audit.password", "")
	v.SetDefault("audit.redis_db", 0)
	v.SetDefault("audit.kafka_brokers", []string{})
	v.SetDefault("audit.subject_prefix", d.Audit.SubjectPrefix)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.rps", d.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
	v.SetDefault("logging.time_format", d.Logging.TimeFormat)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns default configuration. Secrets and the upstream URL
// have no usable default, so it does not validate until they are set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8080,
			AppName:     "pulsegate",
			CORSOrigins: []string{},
		},
		Auth: AuthConfig{
			Algorithm:      "HS256",
			AccessTokenTTL: 15 * time.Minute,
			ShareLinkPath:  "/analytics",
		},
		Upstream: UpstreamConfig{
			URL:          "http://localhost:4000/cubejs-api",
			TokenTTL:     30 * time.Minute,
			TokenSkew:    60 * time.Second,
			LoadTimeout:  30 * time.Second,
			LoadRetries:  2,
			MetaTimeout:  20 * time.Second,
			MetaRetries:  1,
			BackoffBase:  250 * time.Millisecond,
			QueryLimit:   5000,
			ReadyTimeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			MaxAge:               60,
			StaleWhileRevalidate: 300,
		},
		ResultCache: ResultCacheConfig{
			Backend: "memory",
			TTL:     30 * time.Second,
			Prefix:  "pulsegate:result",
		},
		Audit: AuditConfig{
			Type:          "memory",
			SubjectPrefix: "pulsegate.audit",
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
			TimeFormat: "RFC3339",
		},
	}
}
