package webidoidc

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru/v2"

	sdkHttp "github.com/solid-go/solidauth/sdk/http"
)

const providerCacheSize = 16

// providerCache keeps discovered provider metadata per issuer so repeated
// registrations and response validations against the same identity provider
// do not re-fetch the discovery document.
var providerCache, _ = lru.New[string, *oidc.Provider](providerCacheSize)

// discoverProvider returns provider metadata for the issuer, from cache when
// possible.
func discoverProvider(ctx context.Context, issuer string, hc *http.Client) (*oidc.Provider, error) {
	const op = "webidoidc.discoverProvider"
	if issuer == "" {
		return nil, fmt.Errorf("%s: missing issuer: %w", op, ErrInvalidParameter)
	}
	if p, ok := providerCache.Get(issuer); ok {
		return p, nil
	}
	// The provider keeps its construction context for later JWKS fetches, so
	// it must outlive the request that happened to trigger discovery.
	discoverCtx := context.Background()
	if hc != nil {
		discoverCtx = sdkHttp.OidcClientContext(discoverCtx, hc)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := oidc.NewProvider(discoverCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover issuer %q: %w", op, issuer, err)
	}
	providerCache.Add(issuer, p)
	return p, nil
}

// providerEndpoints is the subset of discovery metadata read beyond what
// go-oidc surfaces directly.
type providerEndpoints struct {
	RegistrationEndpoint string `json:"registration_endpoint"`
	EndSessionEndpoint   string `json:"end_session_endpoint"`
}

func endpointsOf(p *oidc.Provider) (providerEndpoints, error) {
	const op = "webidoidc.endpointsOf"
	var eps providerEndpoints
	if err := p.Claims(&eps); err != nil {
		return providerEndpoints{}, fmt.Errorf("%s: reading discovery claims: %w", op, err)
	}
	return eps, nil
}
