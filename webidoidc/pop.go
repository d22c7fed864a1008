package webidoidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-uuid"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/solid-go/solidauth/session"
)

const (
	sessionKeyBits = 2048

	// PoPTokenLifetime is deliberately short: a proof-of-possession token is
	// bound to a single target and minted per request.
	PoPTokenLifetime = 2 * time.Minute
)

// GenerateSessionKey mints the private signing key bound to one login
// attempt, serialized as a JWK for storage in the blob. Exported for hosts
// that implement the popup side of a login and need to produce session
// payloads of their own.
func GenerateSessionKey() (json.RawMessage, error) {
	const op = "webidoidc.GenerateSessionKey"
	key, err := rsa.GenerateKey(rand.Reader, sessionKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	kid, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	jwk := jose.JSONWebKey{
		Key:       key,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
	raw, err := jwk.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return raw, nil
}

// popClaims are the private claims of a proof-of-possession token.
type popClaims struct {
	IDToken   string `json:"id_token"`
	TokenType string `json:"token_type"`
}

// IssuePoPToken mints a proof-of-possession token for a request to
// targetURL: a JWT bound to the target's origin and signed with the
// session's signing key, carrying the session's id_token. Resource servers
// verify the signature against the key the id_token was bound to at login.
func IssuePoPToken(s *session.Session, targetURL string) (string, error) {
	const op = "webidoidc.IssuePoPToken"
	if s == nil {
		return "", fmt.Errorf("%s: session is nil: %w", op, ErrNilParameter)
	}
	if s.SessionKey == "" {
		return "", fmt.Errorf("%s: session has no signing key: %w", op, ErrInvalidParameter)
	}
	aud, err := originOf(targetURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON([]byte(s.SessionKey)); err != nil {
		return "", fmt.Errorf("%s: unparseable session key: %w", op, err)
	}
	alg := jose.SignatureAlgorithm(jwk.Algorithm)
	if alg == "" {
		alg = jose.RS256
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: jwk.Key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	jti, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	now := time.Now()
	token, err := jwt.Signed(signer).
		Claims(jwt.Claims{
			Issuer:   s.ClientID,
			Audience: jwt.Audience{aud},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(PoPTokenLifetime)),
			ID:       jti,
		}).
		Claims(popClaims{IDToken: s.IDToken, TokenType: "pop"}).
		CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// originOf reduces a URL to its origin (scheme://host).
func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q has no origin: %w", rawURL, ErrInvalidParameter)
	}
	return u.Scheme + "://" + u.Host, nil
}
