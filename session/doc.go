// Package session owns the client's persisted state: the single serialized
// blob kept under one well-known storage key, the current WebID-OIDC session
// stored in it, and the per-hostname record of which resource servers are
// known to require credentials.
package session
