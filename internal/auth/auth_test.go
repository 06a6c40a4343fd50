package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sessionSecret = strings.Repeat("s", 32)
	shareSecret   = strings.Repeat("h", 32)
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestKeyring(t *testing.T, clock *fakeClock) *Keyring {
	t.Helper()
	k, err := NewKeyring(sessionSecret, shareSecret, "HS256", WithClock(clock.now))
	require.NoError(t, err)
	return k
}

func testSpec(t *testing.T) query.Spec {
	t.Helper()
	spec, err := query.Validate(catalog.Default(), query.Input{
		Measure:    "revenue",
		Dimensions: []string{"store", "channel"},
		Grain:      "week",
		From:       "2024-01-01",
		To:         "2024-01-31",
		Filters:    []query.FilterInput{{Dimension: "channel", Values: []string{"ifood"}}},
	})
	require.NoError(t, err)
	return spec
}

func requireAuthStatus(t *testing.T, err error, status int) {
	t.Helper()
	var ae *Error
	require.True(t, errors.As(err, &ae), "expected *auth.Error, got %v", err)
	assert.Equal(t, status, ae.Status)
}

func TestNewKeyring_Validation(t *testing.T) {
	_, err := NewKeyring("short", shareSecret, "")
	assert.Error(t, err)

	_, err = NewKeyring(sessionSecret, sessionSecret, "")
	assert.Error(t, err, "identical secrets must be rejected")

	_, err = NewKeyring(sessionSecret, shareSecret, "RS256")
	assert.Error(t, err)

	k, err := NewKeyring(sessionSecret, shareSecret, "")
	require.NoError(t, err)
	assert.Equal(t, "HS256", k.method.Alg())
}

func TestSession_IssueAndVerify(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	k := newTestKeyring(t, clock)

	token, err := k.IssueSession("u-1", []string{"Analyst"}, []int{3, 1}, 15*time.Minute)
	require.NoError(t, err)

	claims, err := k.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.Subject)
	assert.True(t, claims.HasAnyRole("viewer", "analyst"))
	assert.False(t, claims.HasAnyRole("admin"))
	assert.Equal(t, []int{1, 3}, claims.Scope().StoreIDs())

	clock.t = clock.t.Add(16 * time.Minute)
	_, err = k.VerifySession(token)
	requireAuthStatus(t, err, http.StatusUnauthorized)
}

func TestKeyring_KindsDoNotCross(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	k := newTestKeyring(t, clock)
	issuer := NewShareIssuer(k, catalog.Default(), 15*time.Minute)

	shareToken, _, err := issuer.Issue(testSpec(t), nil, tenant.New(1))
	require.NoError(t, err)
	_, err = k.VerifySession(shareToken)
	requireAuthStatus(t, err, http.StatusUnauthorized)

	sessionToken, err := k.IssueSession("u-1", []string{"admin"}, nil, time.Minute)
	require.NoError(t, err)
	_, err = issuer.Verify(sessionToken)
	requireAuthStatus(t, err, http.StatusUnauthorized)
}

func TestKeyring_TypeClaimChecked(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	k := newTestKeyring(t, clock)

	// share-typed claims signed with the session secret
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionClaims{
		Type: TypeShare,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Minute)),
		},
	}).SignedString([]byte(sessionSecret))
	require.NoError(t, err)

	_, err = k.VerifySession(forged)
	requireAuthStatus(t, err, http.StatusUnauthorized)

	_, err = k.Sign(KindSession, &ShareClaims{Type: TypeShare})
	assert.Error(t, err)
}

func TestKeyring_RejectsUnsignedAndTampered(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	k := newTestKeyring(t, clock)

	_, err := k.VerifySession("")
	requireAuthStatus(t, err, http.StatusUnauthorized)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &SessionClaims{Type: TypeAccess}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = k.VerifySession(none)
	requireAuthStatus(t, err, http.StatusUnauthorized)

	token, err := k.IssueSession("u-1", nil, nil, time.Minute)
	require.NoError(t, err)
	_, err = k.VerifySession(token[:len(token)-2] + "xx")
	requireAuthStatus(t, err, http.StatusUnauthorized)
}

func TestShare_SubsetEnforcement(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	issuer := NewShareIssuer(newTestKeyring(t, clock), catalog.Default(), 15*time.Minute)
	own := tenant.New(1, 2, 3)

	token, claims, err := issuer.Issue(testSpec(t), []int{2}, own)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, []int{2}, claims.Stores.StoreIDs())

	_, _, err = issuer.Issue(testSpec(t), []int{4}, own)
	requireAuthStatus(t, err, http.StatusForbidden)

	_, claims, err = issuer.Issue(testSpec(t), []int{3, 1, 3}, own)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, claims.Stores.StoreIDs())

	_, claims, err = issuer.Issue(testSpec(t), nil, own)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, claims.Stores.StoreIDs())
}

func TestShare_VerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	issuer := NewShareIssuer(newTestKeyring(t, clock), catalog.Default(), 15*time.Minute)
	spec := testSpec(t)

	token, _, err := issuer.Issue(spec, []int{2}, tenant.New(1, 2, 3))
	require.NoError(t, err)

	shared, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, spec, shared.Spec)
	assert.Equal(t, []int{2}, shared.Claims.Stores.StoreIDs())
	assert.Equal(t, ShareModeView, shared.Claims.Mode)
	assert.Equal(t, "share", shared.Claims.Subject)
	assert.Equal(t, clock.t.Add(15*time.Minute).Unix(), shared.Claims.Expiry())

	var locked map[string]interface{}
	require.NoError(t, json.Unmarshal(shared.Claims.Query, &locked))
	assert.Equal(t, "2024-01-01", locked["from"])
	assert.Equal(t, "2024-01-31", locked["to"])

	clock.t = clock.t.Add(16 * time.Minute)
	_, err = issuer.Verify(token)
	requireAuthStatus(t, err, http.StatusUnauthorized)
}

func TestShare_VerifyRevalidatesLockedQuery(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	k := newTestKeyring(t, clock)
	issuer := NewShareIssuer(k, catalog.Default(), time.Hour)

	token, err := k.Sign(KindShare, &ShareClaims{
		Type:   TypeShare,
		Query:  json.RawMessage(`{"measure":"revenue","dimensions":[],"from":"2024-01-01","to":"2024-01-31","filters":[{"dimension":"bucket","values":["x"]}]}`),
		Stores: tenant.New(1),
		Mode:   ShareModeView,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "share",
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	var ve *query.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "share_token", ve.Field)
}

func TestResolver(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	issuer := NewShareIssuer(newTestKeyring(t, clock), catalog.Default(), time.Hour)
	r := NewResolver(issuer)

	t.Run("caller scope", func(t *testing.T) {
		res, err := r.Resolve(tenant.New(1, 2), nil, "")
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, res.Scope.StoreIDs())
		assert.Nil(t, res.Locked)
	})

	t.Run("caller narrows", func(t *testing.T) {
		res, err := r.Resolve(tenant.New(1, 2), []int{2}, "")
		require.NoError(t, err)
		assert.Equal(t, []int{2}, res.Scope.StoreIDs())
	})

	t.Run("caller escapes scope", func(t *testing.T) {
		_, err := r.Resolve(tenant.New(1, 2), []int{9}, "")
		requireAuthStatus(t, err, http.StatusForbidden)
	})

	t.Run("share token wins", func(t *testing.T) {
		token, _, err := issuer.Issue(testSpec(t), []int{3}, tenant.New(3, 4))
		require.NoError(t, err)

		res, err := r.Resolve(tenant.New(99), []int{99}, token)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, res.Scope.StoreIDs())
		require.NotNil(t, res.Locked)
		assert.Equal(t, "revenue", res.Locked.Measure)
		assert.NotNil(t, res.Share)
	})

	t.Run("bad share token", func(t *testing.T) {
		_, err := r.Resolve(tenant.New(1), nil, "not-a-token")
		requireAuthStatus(t, err, http.StatusUnauthorized)
	})
}
