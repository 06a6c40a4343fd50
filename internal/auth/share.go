package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/tenant"
)

const (
	shareSubject = "share"
	// ShareModeView is the only share mode
	ShareModeView = "view"
)

// ShareClaims freeze a query and a store scope for redistribution
type ShareClaims struct {
	Type   string          `json:"type"`
	Query  json.RawMessage `json:"q"`
	Stores tenant.Scope    `json:"stores"`
	Mode   string          `json:"mode"`
	jwt.RegisteredClaims
}

// TokenType implements TypedClaims
func (c *ShareClaims) TokenType() string {
	return c.Type
}

// Expiry returns the expiry as a unix timestamp
func (c *ShareClaims) Expiry() int64 {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Unix()
}

// SharedQuery is a verified share token with its locked query re-validated
type SharedQuery struct {
	Claims *ShareClaims
	Spec   query.Spec
}

// ShareIssuer issues and verifies share tokens
type ShareIssuer struct {
	keys    *Keyring
	catalog *catalog.Catalog
	ttl     time.Duration
}

// NewShareIssuer creates a share issuer whose tokens live for ttl
func NewShareIssuer(keys *Keyring, cat *catalog.Catalog, ttl time.Duration) *ShareIssuer {
	return &ShareIssuer{keys: keys, catalog: cat, ttl: ttl}
}

// Issue signs a share token locking spec to the requested stores. The
// requested stores must be a subset of the issuer's own scope; an empty
// request locks the issuer's whole scope.
func (s *ShareIssuer) Issue(spec query.Spec, requested []int, issuer tenant.Scope) (string, *ShareClaims, error) {
	scope, err := tenant.ResolveRequested(issuer, requested)
	if err != nil {
		return "", nil, Forbidden("invalid store scope", err)
	}

	locked, err := json.Marshal(spec.Input())
	if err != nil {
		return "", nil, fmt.Errorf("encode locked query: %w", err)
	}

	now := s.keys.Now()
	claims := &ShareClaims{
		Type:   TypeShare,
		Query:  locked,
		Stores: scope,
		Mode:   ShareModeView,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   shareSubject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := s.keys.Sign(KindShare, claims)
	if err != nil {
		return "", nil, fmt.Errorf("sign share token: %w", err)
	}
	return token, claims, nil
}

// Verify checks a share token and re-validates the query it carries
func (s *ShareIssuer) Verify(token string) (*SharedQuery, error) {
	claims := &ShareClaims{}
	if err := s.keys.Verify(KindShare, token, claims); err != nil {
		return nil, err
	}
	if claims.Subject != shareSubject || claims.Mode != ShareModeView {
		return nil, Unauthorized("invalid share token", errors.New("unexpected subject or mode"))
	}

	var in query.Input
	if err := json.Unmarshal(claims.Query, &in); err != nil {
		return nil, &query.ValidationError{Field: "share_token", Reason: "locked query is not decodable"}
	}
	spec, err := query.Validate(s.catalog, in)
	if err != nil {
		return nil, &query.ValidationError{Field: "share_token", Reason: "locked query is invalid: " + err.Error()}
	}

	return &SharedQuery{Claims: claims, Spec: spec}, nil
}
