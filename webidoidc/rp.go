package webidoidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/oauth2"

	sdkHttp "github.com/solid-go/solidauth/sdk/http"
	"github.com/solid-go/solidauth/session"
)

const (
	// DefaultScope is requested at registration and login time.
	DefaultScope = "openid profile"

	// DefaultResponseType selects the implicit flow: both an id_token and an
	// access token are returned in the callback fragment.
	DefaultResponseType = "id_token token"

	// pendingRequestTTL bounds how long an unanswered authentication request
	// is remembered. The browser may simply never come back.
	pendingRequestTTL = time.Hour
)

// Config is the relying party's persisted registration. It is stored in the
// client blob so the same issuer and redirect URI pair is not re-registered
// on every login.
type Config struct {
	Issuer       string   `json:"issuer"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
	ResponseType string   `json:"response_type"`
	Scope        string   `json:"scope"`

	// Requests holds authentication requests awaiting their callback, keyed
	// by state. Each carries the nonce to verify the id_token against and
	// the session signing key minted for that login attempt.
	Requests map[string]PendingRequest `json:"requests,omitempty"`
}

// PendingRequest is one in-flight authentication request.
type PendingRequest struct {
	Nonce      string          `json:"nonce"`
	SessionKey json.RawMessage `json:"session_key"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Matches reports whether this registration can be reused for a login
// against idp redirecting to callbackURI: the issuer must equal idp and
// callbackURI must be among the registered redirect URIs.
func (c Config) Matches(idp, callbackURI string) bool {
	if c.Issuer != idp || c.ClientID == "" {
		return false
	}
	for _, u := range c.RedirectURIs {
		if u == callbackURI {
			return true
		}
	}
	return false
}

// RP is a relying party registered at one identity provider.
type RP struct {
	hc     *http.Client
	logger hclog.Logger

	mu  sync.Mutex
	cfg Config
}

// Register performs dynamic client registration at the idp for callbackURI
// and returns the resulting relying party. The new registration is not
// persisted here; callers store rp.Config() once they decide to keep it.
// Supported options: WithLogger, WithHTTPClient, WithProviderCA, WithScope.
func Register(ctx context.Context, idp string, callbackURI string, opt ...Option) (*RP, error) {
	const op = "webidoidc.Register"
	if idp == "" {
		return nil, fmt.Errorf("%s: missing identity provider: %w", op, ErrInvalidParameter)
	}
	if callbackURI == "" {
		return nil, fmt.Errorf("%s: missing callback URI: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	hc, err := clientFor(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	provider, err := discoverProvider(ctx, idp, hc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	eps, err := endpointsOf(provider)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	reg, err := registerClient(ctx, eps.RegistrationEndpoint, registrationMetadata{
		Issuer:        idp,
		GrantTypes:    []string{"implicit"},
		RedirectURIs:  []string{callbackURI},
		ResponseTypes: []string{DefaultResponseType},
		Scope:         opts.withScope,
	}, hc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RP{
		hc:     hc,
		logger: opts.withLogger,
		cfg: Config{
			Issuer:       idp,
			ClientID:     reg.ClientID,
			ClientSecret: reg.ClientSecret,
			RedirectURIs: []string{callbackURI},
			ResponseType: DefaultResponseType,
			Scope:        opts.withScope,
		},
	}, nil
}

// FromConfig rehydrates a relying party from a stored registration.
// Supported options: WithLogger, WithHTTPClient, WithProviderCA.
func FromConfig(cfg Config, opt ...Option) (*RP, error) {
	const op = "webidoidc.FromConfig"
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("%s: config has no issuer: %w", op, ErrInvalidParameter)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%s: config has no client id: %w", op, ErrInvalidParameter)
	}
	opts := getOpts(opt...)
	hc, err := clientFor(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.ResponseType == "" {
		cfg.ResponseType = DefaultResponseType
	}
	return &RP{hc: hc, logger: opts.withLogger, cfg: cfg}, nil
}

// Config returns a copy of the relying party's registration, including its
// pending requests, suitable for persisting.
func (rp *RP) Config() Config {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	cfg := rp.cfg
	if rp.cfg.Requests != nil {
		cfg.Requests = make(map[string]PendingRequest, len(rp.cfg.Requests))
		for k, v := range rp.cfg.Requests {
			cfg.Requests[k] = v
		}
	}
	cfg.RedirectURIs = append([]string(nil), rp.cfg.RedirectURIs...)
	return cfg
}

// CreateRequest builds the implicit-flow authentication request URL for
// callbackURI, minting a fresh state, nonce, and session signing key. The
// pending request is persisted through store before the URL is returned, so
// the callback can be validated even after a full page round trip.
func (rp *RP) CreateRequest(ctx context.Context, callbackURI string, store *session.Store) (string, error) {
	const op = "RP.CreateRequest"
	if callbackURI == "" {
		return "", fmt.Errorf("%s: missing callback URI: %w", op, ErrInvalidParameter)
	}
	if store == nil {
		return "", fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	provider, err := discoverProvider(ctx, rp.cfg.Issuer, rp.hc)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	state, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	sessionKey, err := GenerateSessionKey()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	rp.mu.Lock()
	if rp.cfg.Requests == nil {
		rp.cfg.Requests = map[string]PendingRequest{}
	}
	for s, pending := range rp.cfg.Requests {
		if time.Since(pending.CreatedAt) > pendingRequestTTL {
			delete(rp.cfg.Requests, s)
		}
	}
	rp.cfg.Requests[state] = PendingRequest{
		Nonce:      nonce,
		SessionKey: sessionKey,
		CreatedAt:  time.Now(),
	}
	rp.mu.Unlock()

	if err := rp.persist(ctx, store); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	oc := oauth2.Config{
		ClientID:    rp.cfg.ClientID,
		RedirectURL: callbackURI,
		Endpoint:    provider.Endpoint(),
		Scopes:      scopeList(rp.cfg.Scope),
	}
	authURL := oc.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", rp.cfg.ResponseType),
		oidc.Nonce(nonce),
	)
	return authURL, nil
}

// HasTokenResponse reports whether rawURL's fragment carries an implicit
// flow token response. A URL without one is simply "not currently in a
// callback", never an error.
func HasTokenResponse(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Fragment == "" {
		return false
	}
	vals, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return false
	}
	return vals.Get("access_token") != ""
}

// ValidateResponse validates the token response carried in responseURL's
// fragment against the pending request identified by its state parameter:
// the id_token's signature, issuer, audience, and nonce are all verified.
// On success the pending request is consumed (persisted through store) and
// the established session is returned.
func (rp *RP) ValidateResponse(ctx context.Context, responseURL string, store *session.Store) (*session.Session, error) {
	const op = "RP.ValidateResponse"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	u, err := url.Parse(responseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	vals, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, fmt.Errorf("%s: unparseable fragment: %w", op, err)
	}
	accessToken := vals.Get("access_token")
	if accessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoTokenResponse)
	}
	rawIDToken := vals.Get("id_token")
	if rawIDToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	state := vals.Get("state")

	rp.mu.Lock()
	pending, ok := rp.cfg.Requests[state]
	rp.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: no pending request for state %q: %w", op, state, ErrNotFound)
	}

	provider, err := discoverProvider(ctx, rp.cfg.Issuer, rp.hc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: rp.cfg.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	if idToken.Nonce != pending.Nonce {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}

	// WebID-OIDC puts the WebID in a dedicated claim when it differs from
	// the subject.
	var claims struct {
		WebID string `json:"webid"`
	}
	webID := idToken.Subject
	if err := idToken.Claims(&claims); err == nil && claims.WebID != "" {
		webID = claims.WebID
	}

	rp.mu.Lock()
	delete(rp.cfg.Requests, state)
	rp.mu.Unlock()
	if err := rp.persist(ctx, store); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &session.Session{
		IdentityProvider: idToken.Issuer,
		WebID:            webID,
		AccessToken:      accessToken,
		IDToken:          rawIDToken,
		ClientID:         rp.cfg.ClientID,
		SessionKey:       string(pending.SessionKey),
	}, nil
}

// Logout performs the remote half of a logout by calling the issuer's
// end_session_endpoint. It is best-effort: callers clear local state no
// matter what this returns.
func (rp *RP) Logout(ctx context.Context) error {
	const op = "RP.Logout"
	provider, err := discoverProvider(ctx, rp.cfg.Issuer, rp.hc)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	eps, err := endpointsOf(provider)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if eps.EndSessionEndpoint == "" {
		return fmt.Errorf("%s: %w", op, ErrNoEndSessionEndpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, eps.EndSessionEndpoint, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	hc := rp.hc
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: end session endpoint answered %s", op, resp.Status)
	}
	return nil
}

// persist writes the relying party's current registration into the blob.
func (rp *RP) persist(ctx context.Context, store *session.Store) error {
	raw, err := json.Marshal(rp.Config())
	if err != nil {
		return err
	}
	return store.SaveRPConfig(ctx, raw)
}

func clientFor(opts options) (*http.Client, error) {
	const op = "webidoidc.clientFor"
	if opts.withHTTPClient != nil {
		return opts.withHTTPClient, nil
	}
	hc, err := sdkHttp.NewClient(opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidCACert, err)
	}
	return hc, nil
}

func scopeList(scope string) []string {
	fields := strings.Fields(scope)
	out := make([]string, 0, len(fields)+1)
	hasOpenID := false
	for _, f := range fields {
		if f == oidc.ScopeOpenID {
			hasOpenID = true
		}
		out = append(out, f)
	}
	if !hasOpenID {
		out = append([]string{oidc.ScopeOpenID}, out...)
	}
	return out
}
