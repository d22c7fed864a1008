// Package httpauth parses HTTP WWW-Authenticate challenges per the RFC 7235
// "scheme params" grammar, as far as needed to recognize a WebID-OIDC bearer
// challenge on a 401 response.
package httpauth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrMalformedChallenge = errors.New("malformed www-authenticate challenge")

// Challenge is a single parsed WWW-Authenticate challenge.
type Challenge struct {
	// Scheme is the auth scheme token, e.g. "Bearer". Schemes are
	// case-insensitive; Scheme preserves the wire casing.
	Scheme string

	// Params holds the auth-param list with lower-cased names and unquoted
	// values.
	Params map[string]string
}

// ParseChallenge parses the first challenge of a WWW-Authenticate header
// value. Multiple comma-separated challenges are not distinguished from
// auth-params of the first challenge, which matches how WebID-OIDC servers
// emit the header (one challenge only).
func ParseChallenge(header string) (*Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMalformedChallenge
	}
	scheme, rest := header, ""
	if i := strings.IndexAny(header, " \t"); i >= 0 {
		scheme, rest = header[:i], strings.TrimSpace(header[i+1:])
	}
	if strings.ContainsAny(scheme, "=,") {
		return nil, ErrMalformedChallenge
	}
	c := &Challenge{Scheme: scheme, Params: map[string]string{}}
	for _, part := range splitParams(rest) {
		k, v, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = unquote(v[1 : len(v)-1])
		}
		if k != "" {
			c.Params[k] = v
		}
	}
	return c, nil
}

// SchemeIs reports whether the challenge's scheme equals the given scheme,
// compared case-insensitively per RFC 7235.
func (c *Challenge) SchemeIs(scheme string) bool {
	return strings.EqualFold(c.Scheme, scheme)
}

// HasScopeValue reports whether the challenge carries a "scope" param whose
// space-separated value list contains the given value.
func (c *Challenge) HasScopeValue(value string) bool {
	for _, s := range strings.Fields(c.Params["scope"]) {
		if s == value {
			return true
		}
	}
	return false
}

// RequiresWebIDOIDC reports whether resp is a 401 challenging specifically
// for WebID-OIDC proof: a Bearer challenge whose scope includes "webid".
// Challenges for plain OIDC or other schemes do not qualify.
func RequiresWebIDOIDC(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return false
	}
	header := resp.Header.Get("WWW-Authenticate")
	if header == "" {
		return false
	}
	c, err := ParseChallenge(header)
	if err != nil {
		return false
	}
	return c.SchemeIs("Bearer") && c.HasScopeValue("webid")
}

// splitParams splits an auth-param list on commas that are outside quoted
// strings.
func splitParams(s string) []string {
	var parts []string
	var b strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && inQuotes && i+1 < len(s):
			b.WriteByte(ch)
			i++
			b.WriteByte(s[i])
		case ch == '"':
			inQuotes = !inQuotes
			b.WriteByte(ch)
		case ch == ',' && !inQuotes:
			if p := strings.TrimSpace(b.String()); p != "" {
				parts = append(parts, p)
			}
			b.Reset()
		default:
			b.WriteByte(ch)
		}
	}
	if p := strings.TrimSpace(b.String()); p != "" {
		parts = append(parts, p)
	}
	return parts
}

func unquote(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
