package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/storepulse/pulsegate/internal/audit"
	"github.com/storepulse/pulsegate/internal/auth"
	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/config"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/queue"
	"github.com/storepulse/pulsegate/internal/resultcache"
	"github.com/storepulse/pulsegate/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstream records loads and answers with result or err
type fakeUpstream struct {
	mu     sync.Mutex
	loads  []query.CompiledQuery
	result json.RawMessage
	err    error
}

func (f *fakeUpstream) Load(_ context.Context, q query.CompiledQuery, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeUpstream) Meta(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{"cubes":[]}`), f.err
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

type fixture struct {
	keys      *auth.Keyring
	analytics *AnalyticsService
	shares    *ShareService
	up        *fakeUpstream
	published *queue.MemoryPublisher
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, cache *resultcache.Cache) *fixture {
	t.Helper()
	keys, err := auth.NewKeyring(strings.Repeat("s", 32), strings.Repeat("h", 32), "HS256")
	require.NoError(t, err)

	cat := catalog.Default()
	issuer := auth.NewShareIssuer(keys, cat, 15*time.Minute)
	m := metrics.New(prometheus.NewRegistry())
	pub := queue.NewMemoryPublisher()
	recorder := audit.NewRecorder(pub, "", logging.Nop())
	up := &fakeUpstream{result: json.RawMessage(`{"data":[{"Sales.revenue":"10"}]}`)}

	return &fixture{
		keys: keys,
		analytics: NewAnalyticsService(logging.Nop(), cat, auth.NewResolver(issuer),
			query.NewCompiler(cat, 0), up, cache, recorder, m),
		shares: NewShareService(logging.Nop(), cat, issuer,
			config.AuthConfig{ShareLinkPath: "/analytics"}, recorder, m),
		up:        up,
		published: pub,
		metrics:   m,
	}
}

func caller(roles []string, stores ...int) *auth.SessionClaims {
	c := &auth.SessionClaims{Type: auth.TypeAccess, Roles: roles, Stores: stores}
	c.Subject = "alice"
	return c
}

func revenueInput() query.Input {
	return query.Input{
		Measure:    "revenue",
		Dimensions: []string{"store"},
		Grain:      "day",
		From:       "2024-01-01",
		To:         "2024-01-31",
	}
}

func storeFilter(q query.CompiledQuery) []string {
	for _, f := range q.Filters {
		if f.Dimension == "Sales.store" {
			return f.Values
		}
	}
	return nil
}

func TestAnalytics_CallerScopeIsEnforced(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.analytics.Execute(context.Background(), AnalyticsRequest{
		Input:  revenueInput(),
		Caller: caller([]string{"viewer"}, 1, 2, 3),
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"1", "2", "3"}, storeFilter(res.QueryEffective))
	assert.JSONEq(t, `{"data":[{"Sales.revenue":"10"}]}`, string(res.Result))
}

func TestAnalytics_RequestedStoresNarrowScope(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.analytics.Execute(context.Background(), AnalyticsRequest{
		Input:  revenueInput(),
		Stores: []int{2},
		Caller: caller([]string{"viewer"}, 1, 2, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, storeFilter(res.QueryEffective))

	_, err = f.analytics.Execute(context.Background(), AnalyticsRequest{
		Input:  revenueInput(),
		Stores: []int{4},
		Caller: caller([]string{"viewer"}, 1, 2, 3),
	})
	assert.Equal(t, http.StatusForbidden, Classify(err).Status)
	assert.Equal(t, 1, f.up.calls(), "rejected scope must not reach upstream")
}

func TestAnalytics_ShareTokenOverridesQueryAndScope(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	issued, err := f.shares.Issue(ctx, ShareRequest{
		Query:  revenueInput(),
		Stores: []int{2},
		Caller: caller([]string{"manager"}, 1, 2, 3),
	})
	require.NoError(t, err)

	other := revenueInput()
	other.Measure = "orders"
	res, err := f.analytics.Execute(ctx, AnalyticsRequest{
		Input:      other,
		Stores:     []int{1, 2, 3},
		ShareToken: issued.Token,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sales.revenue"}, res.QueryEffective.Measures)
	assert.Equal(t, []string{"2"}, storeFilter(res.QueryEffective))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueriesServed.WithLabelValues(OriginShare, "2xx")))
}

func TestAnalytics_MissingCredentials(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.analytics.Execute(context.Background(), AnalyticsRequest{Input: revenueInput()})
	assert.Equal(t, http.StatusUnauthorized, Classify(err).Status)
}

func TestAnalytics_InvalidShareToken(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.analytics.Execute(context.Background(), AnalyticsRequest{ShareToken: "garbage"})
	svcErr := Classify(err)
	assert.Equal(t, http.StatusUnauthorized, svcErr.Status)
	assert.Equal(t, CodeUnauthorized, svcErr.Code)
}

func TestAnalytics_ValidationErrorNeverReachesUpstream(t *testing.T) {
	f := newFixture(t, nil)
	in := revenueInput()
	in.Measure = "profit"

	_, err := f.analytics.Execute(context.Background(), AnalyticsRequest{
		Input:  in,
		Caller: caller([]string{"viewer"}, 1),
	})
	svcErr := Classify(err)
	assert.Equal(t, http.StatusBadRequest, svcErr.Status)
	assert.Equal(t, "measure", svcErr.Details["field"])
	assert.Zero(t, f.up.calls())
}

func TestAnalytics_UpstreamErrorPassesThrough(t *testing.T) {
	f := newFixture(t, nil)
	f.up.err = &upstream.Error{Endpoint: "load", Status: http.StatusBadRequest, Kind: upstream.KindStatus,
		Message: "aggregation service load request failed", Details: map[string]interface{}{"error": "bad"}}

	_, err := f.analytics.Execute(context.Background(), AnalyticsRequest{
		Input:  revenueInput(),
		Caller: caller([]string{"viewer"}, 1),
	})
	svcErr := Classify(err)
	assert.Equal(t, http.StatusBadRequest, svcErr.Status)
	assert.Equal(t, CodeUpstream, svcErr.Code)
	assert.Equal(t, map[string]interface{}{"error": "bad"}, svcErr.Details["upstream"])
}

func TestAnalytics_ResultCacheReusesUpstreamResult(t *testing.T) {
	store := resultcache.NewMemoryStore(time.Minute)
	cache := resultcache.NewCache(store, nil, nil)
	f := newFixture(t, cache)
	t.Cleanup(func() { _ = cache.Close() })

	req := AnalyticsRequest{Input: revenueInput(), Caller: caller([]string{"viewer"}, 1)}
	first, err := f.analytics.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := f.analytics.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.up.calls())
	assert.JSONEq(t, string(first.Result), string(second.Result))

	// A different tenant never shares the entry
	_, err = f.analytics.Execute(context.Background(), AnalyticsRequest{
		Input: revenueInput(), Caller: caller([]string{"viewer"}, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.up.calls())
}

func TestAnalytics_AuditTrail(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.analytics.Execute(context.Background(), AnalyticsRequest{
		Input:     revenueInput(),
		Caller:    caller([]string{"viewer"}, 1, 2),
		RequestID: "req-9",
	})
	require.NoError(t, err)

	msgs := f.published.Messages(audit.DefaultSubjectPrefix + "." + audit.EventAnalyticsExecuted)
	require.Len(t, msgs, 1)
	var e audit.Event
	require.NoError(t, json.Unmarshal(msgs[0], &e))
	assert.Equal(t, "alice", e.Subject)
	assert.Equal(t, "req-9", e.RequestID)
	assert.Equal(t, []int{1, 2}, e.Stores)
	assert.Equal(t, "revenue", e.Measure)
	assert.Equal(t, http.StatusOK, e.Status)
}

func TestShare_IssueAndValidate(t *testing.T) {
	f := newFixture(t, nil)

	issued, err := f.shares.Issue(context.Background(), ShareRequest{
		Query:  revenueInput(),
		Stores: []int{3, 2, 2},
		Caller: caller([]string{"manager"}, 1, 2, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, "/analytics", issued.LinkPath)
	assert.Equal(t, "/analytics?share_token="+issued.Token, issued.LinkWithToken)

	v, err := f.shares.Validate(issued.Token)
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, []int{2, 3}, v.Stores.StoreIDs())
	assert.Greater(t, v.Exp, time.Now().Unix())

	var q query.Input
	require.NoError(t, json.Unmarshal(v.Query, &q))
	assert.Equal(t, "revenue", q.Measure)

	assert.Len(t, f.published.Messages(audit.DefaultSubjectPrefix+"."+audit.EventShareIssued), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SharesIssued))
}

func TestShare_IssueOutsideScope(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.shares.Issue(context.Background(), ShareRequest{
		Query:  revenueInput(),
		Stores: []int{4},
		Caller: caller([]string{"manager"}, 1, 2, 3),
	})
	assert.Equal(t, http.StatusForbidden, Classify(err).Status)
}

func TestShare_IssueRejectsInvalidQuery(t *testing.T) {
	f := newFixture(t, nil)
	in := revenueInput()
	in.Grain = "decade"

	_, err := f.shares.Issue(context.Background(), ShareRequest{
		Query:  in,
		Caller: caller([]string{"manager"}, 1),
	})
	assert.Equal(t, CodeValidation, Classify(err).Code)
}

func TestShare_ValidateRejectsSessionToken(t *testing.T) {
	f := newFixture(t, nil)
	session, err := f.keys.IssueSession("alice", []string{"admin"}, nil, time.Hour)
	require.NoError(t, err)

	_, err = f.shares.Validate(session)
	assert.Equal(t, http.StatusUnauthorized, Classify(err).Status)

	_, err = f.shares.Validate("")
	assert.Equal(t, http.StatusUnauthorized, Classify(err).Status)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &query.ValidationError{Field: "grain", Reason: "bad"}, 400, CodeValidation},
		{"date", &query.DateError{Field: "from", Value: "2024-13-01"}, 400, CodeValidation},
		{"unauthorized", auth.Unauthorized("expired", nil), 401, CodeUnauthorized},
		{"forbidden", auth.Forbidden("scope", nil), 403, CodeForbidden},
		{"upstream 503", &upstream.Error{Status: 503}, 503, CodeUpstream},
		{"upstream decode", &upstream.Error{Status: 200, Kind: upstream.KindDecode}, 502, CodeUpstream},
		{"transport", &upstream.TransportError{Endpoint: "v1/load", Attempts: 3, Err: errors.New("refused")}, 502, CodeUpstreamUnavailable},
		{"wrapped", fmt.Errorf("run: %w", auth.Forbidden("scope", nil)), 403, CodeForbidden},
		{"invariant", &query.InvariantError{Reason: "x"}, 500, CodeInternal},
		{"unknown", errors.New("boom"), 500, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.code, got.Code)
			if tt.code == CodeInternal {
				assert.Equal(t, "internal error", got.Message)
			}
		})
	}

	assert.Nil(t, Classify(nil))
}
