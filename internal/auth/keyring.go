// Package auth issues and verifies the gateway's signed tokens and resolves
// the store scope a request runs under.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest signing secret accepted
const MinSecretLength = 32

// Kind selects a signing-key slot
type Kind int

const (
	// KindSession signs the primary caller credential
	KindSession Kind = iota
	// KindShare signs share links
	KindShare
)

// Token type claim values
const (
	TypeAccess = "access"
	TypeShare  = "share"
)

func (k Kind) tokenType() string {
	if k == KindShare {
		return TypeShare
	}
	return TypeAccess
}

func (k Kind) String() string {
	return k.tokenType()
}

// TypedClaims are claims carrying a token type, checked against the slot
// they were verified with
type TypedClaims interface {
	jwt.Claims
	TokenType() string
}

// Keyring holds one independent secret per token kind. A token signed for one
// kind never verifies as another, both because the secrets differ and because
// the type claim is checked.
type Keyring struct {
	secrets map[Kind][]byte
	method  jwt.SigningMethod
	now     func() time.Time
}

// KeyringOption configures a Keyring
type KeyringOption func(*Keyring)

// WithClock overrides the time source used for issuing and verifying
func WithClock(now func() time.Time) KeyringOption {
	return func(k *Keyring) {
		k.now = now
	}
}

// NewKeyring creates a keyring. The secrets must be distinct and at least
// MinSecretLength long. algorithm defaults to HS256.
func NewKeyring(sessionSecret, shareSecret, algorithm string, opts ...KeyringOption) (*Keyring, error) {
	if len(sessionSecret) < MinSecretLength || len(shareSecret) < MinSecretLength {
		return nil, fmt.Errorf("signing secrets must be at least %d characters", MinSecretLength)
	}
	if sessionSecret == shareSecret {
		return nil, errors.New("session and share secrets must differ")
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}

	k := &Keyring{
		secrets: map[Kind][]byte{
			KindSession: []byte(sessionSecret),
			KindShare:   []byte(shareSecret),
		},
		method: method,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Now returns the keyring's current time
func (k *Keyring) Now() time.Time {
	return k.now()
}

// Sign signs claims with the secret of kind
func (k *Keyring) Sign(kind Kind, claims TypedClaims) (string, error) {
	if claims.TokenType() != kind.tokenType() {
		return "", fmt.Errorf("cannot sign %q claims as %s token", claims.TokenType(), kind)
	}
	return jwt.NewWithClaims(k.method, claims).SignedString(k.secrets[kind])
}

// Verify checks the signature, expiry and type of token and decodes it into
// claims. Every failure is a 401-class *Error.
func (k *Keyring) Verify(kind Kind, token string, claims TypedClaims) error {
	if token == "" {
		return Unauthorized("token is missing", nil)
	}

	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) {
			return k.secrets[kind], nil
		},
		jwt.WithValidMethods([]string{k.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(k.now),
	)
	if err != nil {
		return Unauthorized("invalid or expired token", err)
	}
	if claims.TokenType() != kind.tokenType() {
		return Unauthorized("invalid or expired token", fmt.Errorf("unexpected token type %q", claims.TokenType()))
	}
	return nil
}
