package webidoidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/require"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local identity provider for tests: it serves discovery
// metadata, a JWKS, dynamic client registration, an implicit-flow authorize
// endpoint, and an end-session endpoint, and it signs id_tokens tests can
// place in callback URLs.
type TestProvider struct {
	httpServer *httptest.Server

	signingKey *rsa.PrivateKey
	keyID      string

	mu                sync.Mutex
	replySubject      string
	replyWebID        string
	customClaims      map[string]interface{}
	registrations     int
	discoveryRequests int
	logoutRequests    int
	registeredClients map[string][]string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider. It is stopped
// automatically when the test finishes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)
	kid, err := uuid.GenerateUUID()
	require.NoError(err)

	p := &TestProvider{
		signingKey:        key,
		keyID:             kid,
		replySubject:      "https://alice.example/profile/card#me",
		registeredClients: map[string][]string{},
		t:                 t,
	}
	p.httpServer = httptest.NewServer(p)
	t.Cleanup(p.httpServer.Close)
	return p
}

// Addr returns the issuer URL of the running provider.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() { p.httpServer.Close() }

// SetReplySubject configures the subject claim of issued id_tokens.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetReplyWebID configures a dedicated webid claim for issued id_tokens,
// for exercising the cases where it differs from the subject.
func (p *TestProvider) SetReplyWebID(webID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyWebID = webID
}

// SetCustomClaims lets you set additional claims for issued id_tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// RegistrationCount reports how many dynamic registrations the provider has
// performed.
func (p *TestProvider) RegistrationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registrations
}

// DiscoveryCount reports how many times the discovery document was fetched.
func (p *TestProvider) DiscoveryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryRequests
}

// LogoutCount reports how many end-session calls the provider received.
func (p *TestProvider) LogoutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logoutRequests
}

// SignIDToken issues an id_token for the given client and nonce, signed with
// the provider's JWKS key.
func (p *TestProvider) SignIDToken(clientID, nonce string) string {
	p.t.Helper()
	require := require.New(p.t)

	p.mu.Lock()
	sub := p.replySubject
	webID := p.replyWebID
	custom := p.customClaims
	p.mu.Unlock()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: p.signingKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", p.keyID),
	)
	require.NoError(err)

	now := time.Now()
	builder := jwt.Signed(signer).Claims(jwt.Claims{
		Issuer:   p.httpServer.URL,
		Subject:  sub,
		Audience: jwt.Audience{clientID},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}).Claims(map[string]interface{}{"nonce": nonce})
	if webID != "" {
		builder = builder.Claims(map[string]interface{}{"webid": webID})
	}
	if custom != nil {
		builder = builder.Claims(custom)
	}
	raw, err := builder.CompactSerialize()
	require.NoError(err)
	return raw
}

// CallbackURL builds the URL the browser would be redirected to after a
// successful implicit-flow authentication: callbackURI plus a fragment with
// the signed id_token, an access token, and the request's state.
func (p *TestProvider) CallbackURL(callbackURI, clientID, state, nonce string) string {
	p.t.Helper()
	vals := url.Values{}
	vals.Set("access_token", "test-access-token")
	vals.Set("token_type", "Bearer")
	vals.Set("id_token", p.SignIDToken(clientID, nonce))
	vals.Set("state", state)
	return callbackURI + "#" + vals.Encode()
}

func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.mu.Lock()
		p.discoveryRequests++
		p.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"issuer":                                p.httpServer.URL,
			"authorization_endpoint":                p.httpServer.URL + "/authorize",
			"token_endpoint":                        p.httpServer.URL + "/token",
			"jwks_uri":                              p.httpServer.URL + "/.well-known/jwks.json",
			"registration_endpoint":                 p.httpServer.URL + "/register",
			"end_session_endpoint":                  p.httpServer.URL + "/logout",
			"response_types_supported":              []string{"id_token token"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	case "/.well-known/jwks.json":
		writeJSON(w, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       p.signingKey.Public(),
			KeyID:     p.keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	case "/register":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var meta struct {
			RedirectURIs []string `json:"redirect_uris"`
		}
		if err := json.NewDecoder(req.Body).Decode(&meta); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		clientID, err := uuid.GenerateUUID()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		p.mu.Lock()
		p.registrations++
		p.registeredClients[clientID] = meta.RedirectURIs
		p.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]interface{}{
			"client_id":     clientID,
			"redirect_uris": meta.RedirectURIs,
		})
	case "/authorize":
		q := req.URL.Query()
		redirectURI := q.Get("redirect_uri")
		if redirectURI == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		loc := p.CallbackURL(redirectURI, q.Get("client_id"), q.Get("state"), q.Get("nonce"))
		http.Redirect(w, req, loc, http.StatusFound)
	case "/logout":
		p.mu.Lock()
		p.logoutRequests++
		p.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("testing provider: %v", err))
	}
}
