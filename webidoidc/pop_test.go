package webidoidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jose "gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/solid-go/solidauth/session"
)

func TestGenerateSessionKey(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	raw, err := GenerateSessionKey()
	require.NoError(err)

	var jwk jose.JSONWebKey
	require.NoError(jwk.UnmarshalJSON(raw))
	assert.True(jwk.Valid())
	assert.NotEmpty(jwk.KeyID)
	assert.Equal(string(jose.RS256), jwk.Algorithm)
	assert.False(jwk.IsPublic())
}

func TestIssuePoPToken(t *testing.T) {
	t.Parallel()

	newSession := func(t *testing.T) *session.Session {
		t.Helper()
		key, err := GenerateSessionKey()
		require.NoError(t, err)
		return &session.Session{
			IdentityProvider: "https://idp.example",
			WebID:            "https://alice.example/#me",
			AccessToken:      "at-1234",
			IDToken:          "idt-1234",
			ClientID:         "client-abc",
			SessionKey:       string(key),
		}
	}

	t.Run("token-bound-to-target-origin", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		sess := newSession(t)

		token, err := IssuePoPToken(sess, "https://files.example/docs/notes.ttl")
		require.NoError(err)

		var jwk jose.JSONWebKey
		require.NoError(jwk.UnmarshalJSON([]byte(sess.SessionKey)))

		parsed, err := jwt.ParseSigned(token)
		require.NoError(err)
		var claims jwt.Claims
		var private popClaims
		require.NoError(parsed.Claims(jwk.Public(), &claims, &private))

		assert.Equal("client-abc", claims.Issuer)
		assert.Equal(jwt.Audience{"https://files.example"}, claims.Audience)
		assert.NotEmpty(claims.ID)
		require.NotNil(claims.Expiry)
		assert.WithinDuration(time.Now().Add(PoPTokenLifetime), claims.Expiry.Time(), time.Minute)
		assert.Equal("idt-1234", private.IDToken)
		assert.Equal("pop", private.TokenType)
	})
	t.Run("wrong-key-fails-verification", func(t *testing.T) {
		require := require.New(t)
		sess := newSession(t)

		token, err := IssuePoPToken(sess, "https://files.example/")
		require.NoError(err)

		otherRaw, err := GenerateSessionKey()
		require.NoError(err)
		var other jose.JSONWebKey
		require.NoError(other.UnmarshalJSON(otherRaw))

		parsed, err := jwt.ParseSigned(token)
		require.NoError(err)
		var claims jwt.Claims
		require.Error(parsed.Claims(other.Public(), &claims))
	})
	t.Run("nil-session", func(t *testing.T) {
		require := require.New(t)
		_, err := IssuePoPToken(nil, "https://files.example/")
		require.ErrorIs(err, ErrNilParameter)
	})
	t.Run("no-session-key", func(t *testing.T) {
		require := require.New(t)
		_, err := IssuePoPToken(&session.Session{IdentityProvider: "https://idp.example"}, "https://files.example/")
		require.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("target-without-origin", func(t *testing.T) {
		require := require.New(t)
		sess := newSession(t)
		_, err := IssuePoPToken(sess, "/relative/path")
		require.ErrorIs(err, ErrInvalidParameter)
	})
}
