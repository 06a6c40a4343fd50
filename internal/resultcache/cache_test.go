package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/storepulse/pulsegate/internal/config"
	"github.com/storepulse/pulsegate/internal/httpcache"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopedQuery(stores ...string) query.CompiledQuery {
	return query.CompiledQuery{
		Measures:   []string{"Sales.revenue"},
		Dimensions: []string{"Sales.store"},
		TimeDimensions: []query.TimeDimension{{
			Dimension:   "Sales.createdAt",
			DateRange:   [2]string{"2024-01-01", "2024-01-31"},
			Granularity: "day",
		}},
		Filters: []query.CompiledFilter{{Dimension: "Sales.store", Operator: query.OpEquals, Values: stores}},
		Limit:   5000,
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("unavailable")
}
func (failingStore) Set(context.Context, string, []byte) error { return errors.New("unavailable") }
func (failingStore) Close() error                              { return nil }

func TestKey_DependsOnScope(t *testing.T) {
	a, err := Key(scopedQuery("1", "2"))
	require.NoError(t, err)
	again, err := Key(scopedQuery("1", "2"))
	require.NoError(t, err)
	b, err := Key(scopedQuery("3"))
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
}

func TestKey_IsSHA256OfCanonicalQuery(t *testing.T) {
	q := scopedQuery("1", "2")
	key, err := Key(q)
	require.NoError(t, err)

	body, err := httpcache.Serialize(q)
	require.NoError(t, err)
	sum := sha256.Sum256(body)

	assert.Equal(t, hex.EncodeToString(sum[:]), key)
	assert.Len(t, key, 64)
	assert.NotEqual(t, httpcache.Fingerprint(body), key, "cache key must not reuse the ETag hash")
}

func TestCache_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{nil, SnappyCodec{}} {
		store := NewMemoryStore(time.Minute)
		t.Cleanup(func() { _ = store.Close() })
		m := metrics.New(prometheus.NewRegistry())
		c := NewCache(store, codec, m)
		ctx := context.Background()

		_, ok := c.Get(ctx, scopedQuery("1"))
		assert.False(t, ok)

		result := json.RawMessage(`{"data":[{"Sales.revenue":"` + strings.Repeat("9", 64) + `"}]}`)
		c.Put(ctx, scopedQuery("1"), result)

		got, ok := c.Get(ctx, scopedQuery("1"))
		require.True(t, ok)
		assert.JSONEq(t, string(result), string(got))

		_, ok = c.Get(ctx, scopedQuery("2"))
		assert.False(t, ok, "other scope must miss")

		assert.Equal(t, float64(1), testutil.ToFloat64(m.ResultCache.WithLabelValues("hit")))
		assert.Equal(t, float64(2), testutil.ToFloat64(m.ResultCache.WithLabelValues("miss")))
	}
}

func TestCache_StoreErrorsAreMisses(t *testing.T) {
	c := NewCache(failingStore{}, nil, nil)
	c.Put(context.Background(), scopedQuery("1"), json.RawMessage(`{}`))
	_, ok := c.Get(context.Background(), scopedQuery("1"))
	assert.False(t, ok)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Second)
	t.Cleanup(func() { _ = store.Close() })
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(time.Second)
	_, ok, _ = store.Get(ctx, "k")
	assert.False(t, ok)

	store.evictExpired()
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_CloseTwice(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	_ = store.Set(ctx, "a:1", []byte("1"))
	_ = store.Set(ctx, "b:1", []byte("2"))
	assert.Equal(t, 2, store.Len())

	// closing twice is safe
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestSnappyCodec(t *testing.T) {
	in := []byte(strings.Repeat(`{"k":"v"}`, 100))
	enc, err := SnappyCodec{}.Encode(in)
	require.NoError(t, err)
	assert.Less(t, len(enc), len(in))

	out, err := SnappyCodec{}.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = SnappyCodec{}.Decode([]byte("not snappy"))
	assert.Error(t, err)
}

func TestNew_FromConfig(t *testing.T) {
	c, err := New(config.ResultCacheConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(config.ResultCacheConfig{Enabled: true, Backend: "memory", TTL: time.Second, Compress: true}, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.IsType(t, SnappyCodec{}, c.codec)
	require.NoError(t, c.Close())

	_, err = New(config.ResultCacheConfig{Enabled: true, Backend: "memcached", TTL: time.Second}, nil)
	assert.Error(t, err)
}

func redisURL() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return url
	}
	return "redis://localhost:6379"
}

func isRedisAvailable() bool {
	opts, err := redis.ParseURL(redisURL())
	if err != nil {
		return false
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}

func TestRedisStore(t *testing.T) {
	if !isRedisAvailable() {
		t.Skip("Redis not available, skipping test")
	}

	store, err := NewRedisStore(redisURL(), "pulsegate-test", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing-"+time.Now().String())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	ttl, err := store.client.TTL(ctx, "pulsegate-test:k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
