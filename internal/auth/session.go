package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/storepulse/pulsegate/internal/tenant"
)

// SessionClaims identify an authenticated caller
type SessionClaims struct {
	Type   string   `json:"type"`
	Roles  []string `json:"roles"`
	Stores []int    `json:"stores"`
	jwt.RegisteredClaims
}

// TokenType implements TypedClaims
func (c *SessionClaims) TokenType() string {
	return c.Type
}

// Scope returns the caller's own store scope
func (c *SessionClaims) Scope() tenant.Scope {
	return tenant.New(c.Stores...)
}

// HasAnyRole reports whether the caller holds one of roles, ignoring case
func (c *SessionClaims) HasAnyRole(roles ...string) bool {
	for _, have := range c.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// IssueSession signs a session token for subject valid for ttl
func (k *Keyring) IssueSession(subject string, roles []string, stores []int, ttl time.Duration) (string, error) {
	now := k.now()
	return k.Sign(KindSession, &SessionClaims{
		Type:   TypeAccess,
		Roles:  roles,
		Stores: stores,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

// VerifySession decodes and checks a session token
func (k *Keyring) VerifySession(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := k.Verify(KindSession, token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
