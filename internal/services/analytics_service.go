package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/storepulse/pulsegate/internal/audit"
	"github.com/storepulse/pulsegate/internal/auth"
	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/resultcache"
	"github.com/storepulse/pulsegate/internal/tenant"
)

// Query origins
const (
	OriginSession = "session"
	OriginShare   = "share"
)

// Upstream executes compiled queries against the aggregation service
type Upstream interface {
	Load(ctx context.Context, q query.CompiledQuery, requestID string) (json.RawMessage, error)
	Meta(ctx context.Context, requestID string) (json.RawMessage, error)
}

// AnalyticsRequest is one analytics call. Caller is nil when the request
// carries only a share token.
type AnalyticsRequest struct {
	Input      query.Input
	Stores     []int
	ShareToken string
	Caller     *auth.SessionClaims
	RequestID  string
}

// AnalyticsResult is the payload returned to the caller
type AnalyticsResult struct {
	OK             bool                `json:"ok"`
	QueryEffective query.CompiledQuery `json:"query_effective"`
	Result         json.RawMessage     `json:"result"`
}

// AnalyticsService resolves scope, compiles and executes analytics queries
type AnalyticsService struct {
	logger   *logging.Logger
	catalog  *catalog.Catalog
	resolver *auth.Resolver
	compiler *query.Compiler
	upstream Upstream
	cache    *resultcache.Cache
	audit    *audit.Recorder
	metrics  *metrics.Metrics
}

// NewAnalyticsService creates an analytics service. cache, recorder and m may
// be nil.
func NewAnalyticsService(
	logger *logging.Logger,
	cat *catalog.Catalog,
	resolver *auth.Resolver,
	compiler *query.Compiler,
	up Upstream,
	cache *resultcache.Cache,
	recorder *audit.Recorder,
	m *metrics.Metrics,
) *AnalyticsService {
	return &AnalyticsService{
		logger:   logger,
		catalog:  cat,
		resolver: resolver,
		compiler: compiler,
		upstream: up,
		cache:    cache,
		audit:    recorder,
		metrics:  m,
	}
}

// Execute runs req and returns the result payload. A share token replaces the
// caller's query and scope entirely.
func (s *AnalyticsService) Execute(ctx context.Context, req AnalyticsRequest) (*AnalyticsResult, error) {
	origin := OriginSession
	if req.ShareToken != "" {
		origin = OriginShare
	}

	result, info, cached, err := s.execute(ctx, req)

	status := http.StatusOK
	if err != nil {
		status = Classify(err).Status
	}
	if s.metrics != nil {
		s.metrics.QueriesServed.WithLabelValues(origin, metrics.StatusClass(status)).Inc()
	}

	event := audit.Event{
		Type:      audit.EventAnalyticsExecuted,
		RequestID: req.RequestID,
		Stores:    info.stores,
		Measure:   info.measure,
		Origin:    origin,
		Status:    status,
		Cached:    cached,
	}
	if req.Caller != nil {
		event.Subject = req.Caller.Subject
	}
	s.audit.Record(ctx, event)

	if err != nil {
		return nil, err
	}
	return result, nil
}

type executed struct {
	measure string
	stores  []int
}

func (s *AnalyticsService) execute(ctx context.Context, req AnalyticsRequest) (*AnalyticsResult, executed, bool, error) {
	var info executed

	if req.Caller == nil && req.ShareToken == "" {
		return nil, info, false, auth.Unauthorized("missing credentials", nil)
	}

	// Without a caller the share token alone defines the scope
	var own tenant.Scope
	if req.Caller != nil {
		own = req.Caller.Scope()
	}

	resolution, err := s.resolver.Resolve(own, req.Stores, req.ShareToken)
	if err != nil {
		return nil, info, false, err
	}
	info.stores = resolution.Scope.StoreIDs()

	var spec query.Spec
	if resolution.Locked != nil {
		spec = *resolution.Locked
	} else {
		spec, err = query.Validate(s.catalog, req.Input)
		if err != nil {
			return nil, info, false, err
		}
	}
	info.measure = spec.Measure

	compiled, err := s.compiler.Compile(spec, resolution.Scope)
	if err != nil {
		var inv *query.InvariantError
		if errors.As(err, &inv) {
			s.logger.Error("Compiler invariant violated",
				"request_id", req.RequestID,
				"error", err)
		}
		return nil, info, false, err
	}

	if raw, ok := s.cache.Get(ctx, compiled); ok {
		return &AnalyticsResult{OK: true, QueryEffective: compiled, Result: raw}, info, true, nil
	}

	raw, err := s.upstream.Load(ctx, compiled, req.RequestID)
	if err != nil {
		s.logger.WithContext(ctx).Warn("Analytics query failed",
			"measure", spec.Measure,
			"error", err)
		return nil, info, false, err
	}
	s.cache.Put(ctx, compiled, raw)

	return &AnalyticsResult{OK: true, QueryEffective: compiled, Result: raw}, info, false, nil
}

// Meta returns the aggregation service's schema description
func (s *AnalyticsService) Meta(ctx context.Context, requestID string) (json.RawMessage, error) {
	return s.upstream.Meta(ctx, requestID)
}

// Catalog returns the introspection document
func (s *AnalyticsService) Catalog() catalog.Doc {
	return s.catalog.Doc()
}
