package webidoidc

import "errors"

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
	ErrRegistrationFailed   = errors.New("relying party registration failed")
	ErrNoRegistration       = errors.New("issuer does not support dynamic registration")
	ErrNoTokenResponse      = errors.New("url carries no token response")
	ErrMissingIdToken       = errors.New("id_token is missing")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrNotFound             = errors.New("not found")
	ErrNoEndSessionEndpoint = errors.New("issuer advertises no end_session_endpoint")
)
