package services

import (
	"context"
	"encoding/json"

	"github.com/storepulse/pulsegate/internal/audit"
	"github.com/storepulse/pulsegate/internal/auth"
	"github.com/storepulse/pulsegate/internal/catalog"
	"github.com/storepulse/pulsegate/internal/config"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/tenant"
)

// ShareRequest asks for a share token locking Query to Stores
type ShareRequest struct {
	Query     query.Input
	Stores    []int
	Caller    *auth.SessionClaims
	RequestID string
}

// ShareResult is the issued token and the links that replay it
type ShareResult struct {
	Token         string `json:"token"`
	LinkPath      string `json:"link_path"`
	LinkWithToken string `json:"link_with_token"`
}

// ShareValidation describes a valid share token
type ShareValidation struct {
	OK     bool            `json:"ok"`
	Exp    int64           `json:"exp"`
	Stores tenant.Scope    `json:"stores"`
	Query  json.RawMessage `json:"q"`
}

// ShareService issues and inspects share tokens
type ShareService struct {
	logger  *logging.Logger
	catalog *catalog.Catalog
	issuer  *auth.ShareIssuer
	links   config.AuthConfig
	audit   *audit.Recorder
	metrics *metrics.Metrics
}

// NewShareService creates a share service. recorder and m may be nil.
func NewShareService(
	logger *logging.Logger,
	cat *catalog.Catalog,
	issuer *auth.ShareIssuer,
	links config.AuthConfig,
	recorder *audit.Recorder,
	m *metrics.Metrics,
) *ShareService {
	return &ShareService{
		logger:  logger,
		catalog: cat,
		issuer:  issuer,
		links:   links,
		audit:   recorder,
		metrics: m,
	}
}

// Issue validates the query and signs a token for it. The requested stores
// must lie within the caller's own scope.
func (s *ShareService) Issue(ctx context.Context, req ShareRequest) (*ShareResult, error) {
	if req.Caller == nil {
		return nil, auth.Unauthorized("missing credentials", nil)
	}

	spec, err := query.Validate(s.catalog, req.Query)
	if err != nil {
		return nil, err
	}

	token, claims, err := s.issuer.Issue(spec, req.Stores, req.Caller.Scope())
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SharesIssued.Inc()
	}
	s.logger.WithContext(ctx).Info("Share token issued",
		"subject", req.Caller.Subject,
		"share_id", claims.ID,
		"stores", claims.Stores.String(),
	)
	s.audit.Record(ctx, audit.Event{
		Type:      audit.EventShareIssued,
		Subject:   req.Caller.Subject,
		RequestID: req.RequestID,
		Stores:    claims.Stores.StoreIDs(),
		Measure:   spec.Measure,
		ShareID:   claims.ID,
		ExpiresAt: claims.Expiry(),
	})

	return &ShareResult{
		Token:         token,
		LinkPath:      s.links.ShareLinkPath,
		LinkWithToken: s.links.ShareLink(token),
	}, nil
}

// Validate verifies token and describes what it unlocks
func (s *ShareService) Validate(token string) (*ShareValidation, error) {
	if token == "" {
		return nil, auth.Unauthorized("missing share token", nil)
	}

	shared, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}

	return &ShareValidation{
		OK:     true,
		Exp:    shared.Claims.Expiry(),
		Stores: shared.Claims.Stores,
		Query:  shared.Claims.Query,
	}, nil
}
