package auth

import (
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/tenant"
)

// Resolution is the effective scope of a request. Locked is set when a share
// token supplied the query; it replaces whatever the caller sent.
type Resolution struct {
	Scope  tenant.Scope
	Locked *query.Spec
	Share  *ShareClaims
}

// Resolver decides which stores a request may see
type Resolver struct {
	shares *ShareIssuer
}

// NewResolver creates a resolver backed by shares
func NewResolver(shares *ShareIssuer) *Resolver {
	return &Resolver{shares: shares}
}

// Resolve returns the effective scope. A present share token always wins: its
// locked scope and query are used and the caller's own scope and requested
// stores are ignored. Without one, requested narrows own and must be a subset
// of it.
func (r *Resolver) Resolve(own tenant.Scope, requested []int, shareToken string) (Resolution, error) {
	if shareToken != "" {
		shared, err := r.shares.Verify(shareToken)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Scope:  shared.Claims.Stores,
			Locked: &shared.Spec,
			Share:  shared.Claims,
		}, nil
	}

	scope, err := tenant.ResolveRequested(own, requested)
	if err != nil {
		return Resolution{}, Forbidden("invalid store scope", err)
	}
	return Resolution{Scope: scope}, nil
}
