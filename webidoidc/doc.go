// Package webidoidc implements the WebID-OIDC relying party the rest of the
// module orchestrates: dynamic client registration against an identity
// provider, implicit-flow authentication request URLs, validation of the
// token response carried back in a callback URL fragment, best-effort remote
// logout, and minting of the proof-of-possession tokens attached to
// authenticated resource requests.
//
// Issuer discovery and id_token verification are delegated to
// github.com/coreos/go-oidc; this package does not implement the OIDC
// cryptographic protocol itself.
package webidoidc
