// Package solidauth authenticates an application against a WebID-OIDC
// identity provider and attaches proof-of-possession credentials to requests
// made to resource servers that challenge for them.
//
// A Client is constructed once at the composition root and passed explicitly
// to whatever needs it. Login navigates the top-level context to the identity
// provider; PopupLogin instead coordinates a login popup over the rpc
// package's cross-window protocol. CurrentSession restores a session from
// storage or materializes one from a callback URL. Fetch wraps an HTTP client
// with per-host credential negotiation: hosts are probed without credentials
// until they challenge for WebID-OIDC proof, then remembered.
package solidauth
