package upstream

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token defaults
const (
	DefaultTokenTTL  = 30 * time.Minute
	DefaultTokenSkew = 60 * time.Second
	tokenScope       = "analytics"
)

// TokenSource yields the bearer credential for upstream calls
type TokenSource interface {
	Token() (string, error)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// serviceClaims are the claims of the locally minted upstream credential
type serviceClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// CachedTokenSource mints HS256 service tokens and reuses each one until it is
// within skew of expiring. Concurrent refreshes may both mint a token; the last
// one stored wins.
type CachedTokenSource struct {
	secret []byte
	ttl    time.Duration
	skew   time.Duration
	now    func() time.Time

	current   atomic.Pointer[cachedToken]
	onRefresh func()
}

// TokenOption configures a CachedTokenSource
type TokenOption func(*CachedTokenSource)

// WithTokenClock overrides the time source
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *CachedTokenSource) {
		s.now = now
	}
}

// WithRefreshHook registers fn to run after each mint
func WithRefreshHook(fn func()) TokenOption {
	return func(s *CachedTokenSource) {
		s.onRefresh = fn
	}
}

// NewCachedTokenSource creates a token source. Non-positive ttl or skew select
// the defaults.
func NewCachedTokenSource(secret string, ttl, skew time.Duration, opts ...TokenOption) *CachedTokenSource {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if skew <= 0 {
		skew = DefaultTokenSkew
	}
	s := &CachedTokenSource{
		secret: []byte(secret),
		ttl:    ttl,
		skew:   skew,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns the cached credential or mints a new one
func (s *CachedTokenSource) Token() (string, error) {
	now := s.now()
	if cur := s.current.Load(); cur != nil && now.Before(cur.expiresAt.Add(-s.skew)) {
		return cur.value, nil
	}

	// whole seconds, matching the precision of the exp claim
	issued := now.Truncate(time.Second)
	expires := issued.Add(s.ttl)
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &serviceClaims{
		Scope: tokenScope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign upstream token: %w", err)
	}

	s.current.Store(&cachedToken{value: value, expiresAt: expires})
	if s.onRefresh != nil {
		s.onRefresh()
	}
	return value, nil
}

// ExpiresAt reports the expiry of the cached token, zero if none is cached
func (s *CachedTokenSource) ExpiresAt() time.Time {
	if cur := s.current.Load(); cur != nil {
		return cur.expiresAt
	}
	return time.Time{}
}
