// Package resultcache reuses upstream results for identical compiled queries.
// Keys are fingerprints of the compiled query, which already carries the
// tenant filter, so callers with different scopes never share an entry.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storepulse/pulsegate/internal/config"
	"github.com/storepulse/pulsegate/internal/httpcache"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/query"
)

// Store is a byte-oriented TTL key/value store
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Cache stores upstream results keyed by compiled query
type Cache struct {
	store   Store
	codec   Codec
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewCache wraps store. A nil codec stores values as is; m may be nil.
func NewCache(store Store, codec Codec, m *metrics.Metrics) *Cache {
	if codec == nil {
		codec = identityCodec{}
	}
	return &Cache{store: store, codec: codec, metrics: m, logger: logging.Global()}
}

// New builds the cache described by cfg, or returns nil when it is disabled
func New(cfg config.ResultCacheConfig, m *metrics.Metrics) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var codec Codec
	if cfg.Compress {
		codec = SnappyCodec{}
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewCache(NewMemoryStore(cfg.TTL), codec, m), nil
	case "redis":
		store, err := NewRedisStore(cfg.RedisURL, cfg.Prefix, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return NewCache(store, codec, m), nil
	default:
		return nil, fmt.Errorf("unsupported result cache backend: %s (supported: memory, redis)", cfg.Backend)
	}
}

// Key is the hex SHA-256 of the canonical form of q
func Key(q query.CompiledQuery) (string, error) {
	body, err := httpcache.Serialize(q)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached result for q. Store and decode failures are logged
// and reported as misses. A nil *Cache always misses.
func (c *Cache) Get(ctx context.Context, q query.CompiledQuery) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	key, err := Key(q)
	if err != nil {
		c.count("error")
		return nil, false
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.count("error")
		c.logger.WithContext(ctx).Warn("Result cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		c.count("miss")
		return nil, false
	}

	value, err := c.codec.Decode(raw)
	if err != nil || !json.Valid(value) {
		c.count("error")
		c.logger.WithContext(ctx).Warn("Result cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	c.count("hit")
	return json.RawMessage(value), true
}

// Put stores result for q; failures are logged
func (c *Cache) Put(ctx context.Context, q query.CompiledQuery, result json.RawMessage) {
	if c == nil {
		return
	}
	key, err := Key(q)
	if err != nil {
		return
	}
	value, err := c.codec.Encode(result)
	if err != nil {
		c.logger.WithContext(ctx).Warn("Result cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, value); err != nil {
		c.logger.WithContext(ctx).Warn("Result cache write failed", "key", key, "error", err)
	}
}

// Close releases the underlying store
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) count(result string) {
	if c.metrics != nil {
		c.metrics.ResultCache.WithLabelValues(result).Inc()
	}
}
