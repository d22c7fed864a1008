package solidauth

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Navigator is the host's handle on the top-level context's location: what
// URL it is showing, replacing it wholesale (the login redirect), and
// replacing just its fragment (restoring the app's state after the round
// trip). Browser and webview embeddings implement it; tests fake it.
type Navigator interface {
	CurrentURL() (string, error)
	NavigateTo(url string) error
	SetFragment(fragment string) error
}

// StaticNavigator is a Navigator over an in-memory location, used by tests
// and by non-browser hosts that drive the redirect themselves.
type StaticNavigator struct {
	mu  sync.Mutex
	url string

	// Navigations records every URL passed to NavigateTo, oldest first.
	Navigations []string
}

var _ Navigator = (*StaticNavigator)(nil)

// NewStaticNavigator creates a StaticNavigator currently showing rawURL.
func NewStaticNavigator(rawURL string) *StaticNavigator {
	return &StaticNavigator{url: rawURL}
}

func (n *StaticNavigator) CurrentURL() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.url, nil
}

func (n *StaticNavigator) NavigateTo(rawURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.url = rawURL
	n.Navigations = append(n.Navigations, rawURL)
	return nil
}

func (n *StaticNavigator) SetFragment(fragment string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	base := n.url
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	if fragment == "" {
		n.url = base
		return nil
	}
	n.url = base + "#" + strings.TrimPrefix(fragment, "#")
	return nil
}

// stripURL reduces a URL to scheme://host/path, the default callback URI.
func stripURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// fragmentOf returns the fragment of a URL, with the leading '#'.
func fragmentOf(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		return rawURL[i:]
	}
	return ""
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
