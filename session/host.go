package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/solid-go/solidauth/sdk/httpauth"
)

// Host is what is known about one remote hostname.
type Host struct {
	// URL is the hostname (including port, when present).
	URL string

	// RequiresAuth reports that the host has been observed to challenge for
	// WebID-OIDC credentials. It is monotonic: once true, never downgraded
	// for the lifetime of the cache.
	RequiresAuth bool
}

// HostnameOf extracts the host (host:port) a request URL targets.
func HostnameOf(rawURL string) (string, error) {
	const op = "session.HostnameOf"
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%s: %q has no host: %w", op, rawURL, ErrInvalidParameter)
	}
	return u.Host, nil
}

// Host returns what is known about the host targeted by rawURL. The identity
// provider of the current session is always reported as requiring auth
// without consulting the cache: the IdP is assumed to accept its own issued
// credentials. For any other host, the cached entry is returned, or nil if
// the host has never been observed to challenge.
func (s *Store) Host(ctx context.Context, rawURL string) (*Host, error) {
	const op = "Store.Host"
	hostname, err := HostnameOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	b, err := s.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if b.Session != nil {
		idpHost, err := HostnameOf(b.Session.IdentityProvider)
		if err == nil && idpHost == hostname {
			return &Host{URL: hostname, RequiresAuth: true}, nil
		}
	}
	entry, ok := b.Hosts[hostname]
	if !ok {
		return nil, nil
	}
	return &Host{URL: hostname, RequiresAuth: entry.RequiresAuth}, nil
}

// SaveHost merges one host entry into the cache, preserving all others. An
// entry already marked as requiring auth is never downgraded.
func (s *Store) SaveHost(ctx context.Context, h Host) error {
	const op = "Store.SaveHost"
	if h.URL == "" {
		return fmt.Errorf("%s: host has no url: %w", op, ErrInvalidParameter)
	}
	_, err := s.Update(ctx, func(b Blob) Blob {
		if b.Hosts == nil {
			b.Hosts = map[string]HostEntry{}
		}
		requiresAuth := h.RequiresAuth || b.Hosts[h.URL].RequiresAuth
		b.Hosts[h.URL] = HostEntry{RequiresAuth: requiresAuth}
		return b
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateHostFromResponse records the response's host as requiring auth when
// the response carries a WebID-OIDC bearer challenge. Any other response is a
// no-op: a host is only ever cached from an explicit observed challenge.
func (s *Store) UpdateHostFromResponse(ctx context.Context, resp *http.Response) error {
	const op = "Store.UpdateHostFromResponse"
	if resp == nil {
		return fmt.Errorf("%s: response is nil: %w", op, ErrNilParameter)
	}
	if !httpauth.RequiresWebIDOIDC(resp) {
		return nil
	}
	if resp.Request == nil || resp.Request.URL == nil {
		return fmt.Errorf("%s: response has no request url: %w", op, ErrInvalidParameter)
	}
	hostname := resp.Request.URL.Host
	if hostname == "" {
		return fmt.Errorf("%s: response request url has no host: %w", op, ErrInvalidParameter)
	}
	if err := s.SaveHost(ctx, Host{URL: hostname, RequiresAuth: true}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
