package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/models"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused bucket is kept
const limiterIdleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out a token bucket per caller
type RateLimiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*bucket
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per key
// with bursts up to burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	l.cleanup(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (l *RateLimiter) cleanup(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, k)
		}
	}
}

// RateLimit rejects callers over their budget with 429. Sessions are keyed by
// subject, everything else by client IP.
func RateLimit(logger *logging.Logger, limiter *RateLimiter, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := "ip:" + c.IP()
		if claims := Claims(c); claims != nil {
			key = "sub:" + claims.Subject
		}

		if limiter.Allow(key) {
			return c.Next()
		}

		if m != nil {
			m.RateLimited.Inc()
		}
		logger.Warn("Rate limit exceeded",
			"path", c.Path(),
			"key", key,
		)

		retryAfter := 1
		if limiter.rps > 0 {
			retryAfter = int(math.Ceil(1 / float64(limiter.rps)))
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
		return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "RATE_LIMITED",
				Message: "Too many requests.",
			},
		})
	}
}
