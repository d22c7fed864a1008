package solidauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"github.com/solid-go/solidauth/session"
	"github.com/solid-go/solidauth/storage"
	"github.com/solid-go/solidauth/webidoidc"
)

// LoginOptions configures one login attempt.
type LoginOptions struct {
	// CallbackURI is the URL the identity provider redirects back to.
	// Defaults to the current URL without query or fragment.
	CallbackURI string

	// PopupURI is the login UI the popup flow opens. Required by PopupLogin,
	// unused by Login.
	PopupURI string
}

// Client coordinates WebID-OIDC logins and credential-negotiating fetches
// over one persisted state blob. Construct one at the composition root and
// pass it explicitly; methods are safe for concurrent use.
type Client struct {
	store  *session.Store
	http   *http.Client
	nav    Navigator
	opener WindowOpener
	logger hclog.Logger

	subscribers
}

// New creates a Client.
// Supported options: WithStorage, WithHTTPClient, WithNavigator,
// WithWindowOpener, WithLogger.
func New(opt ...Option) (*Client, error) {
	const op = "solidauth.New"
	opts := getOpts(opt...)
	st := opts.withStorage
	if st == nil {
		st = storage.NewMemoryStorage()
	}
	store, err := session.NewStore(st, session.WithLogger(opts.withLogger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	hc := opts.withHTTPClient
	if hc == nil {
		hc = cleanhttp.DefaultPooledClient()
	}
	return &Client{
		store:  store,
		http:   hc,
		nav:    opts.withNavigator,
		opener: opts.withOpener,
		logger: opts.withLogger,
	}, nil
}

// Store exposes the client's state store, for embedding hosts that proxy
// storage or inspect session state directly.
func (c *Client) Store() *session.Store { return c.store }

// Login starts a WebID-OIDC login against idp: it obtains or reuses a
// relying-party registration, saves the current URL fragment for restoration
// after the round trip, and navigates the top-level context to the identity
// provider. Its observable completion is the navigation itself; the session
// only becomes available once the browser returns and CurrentSession runs.
//
// Upstream failures (discovery, registration) degrade to "not logged in":
// they are logged and Login returns nil without navigating. Only caller
// contract violations return an error.
func (c *Client) Login(ctx context.Context, idp string, opts LoginOptions) error {
	const op = "Client.Login"
	if idp == "" {
		return fmt.Errorf("%s: missing identity provider: %w", op, ErrInvalidParameter)
	}
	if c.nav == nil {
		return fmt.Errorf("%s: %w", op, ErrMissingNavigator)
	}
	callbackURI, err := c.callbackURI(opts)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rp, err := c.registeredRP(ctx, idp, callbackURI)
	if err != nil {
		c.logger.Warn("error logging in with WebID-OIDC", "error", err)
		return nil
	}
	if err := c.saveAppHashFragment(ctx); err != nil {
		c.logger.Warn("error logging in with WebID-OIDC", "error", err)
		return nil
	}
	authURL, err := rp.CreateRequest(ctx, callbackURI, c.store)
	if err != nil {
		c.logger.Warn("error logging in with WebID-OIDC", "error", err)
		return nil
	}
	return c.nav.NavigateTo(authURL)
}

// CurrentSession returns the active session: the stored one if present,
// otherwise one materialized from the current URL when it carries a token
// response for a stored relying-party registration. No registration or no
// token fragment is not an error, just "not currently in a callback".
func (c *Client) CurrentSession(ctx context.Context) (*session.Session, error) {
	const op = "Client.CurrentSession"
	sess, err := c.store.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess != nil {
		return sess, nil
	}

	sess = c.sessionFromCallback(ctx)
	if sess == nil {
		return nil, nil
	}
	if err := c.store.SaveSession(ctx, *sess); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.emit(sess)
	return sess, nil
}

// sessionFromCallback validates a token response in the current URL, if any.
// All upstream failures degrade to nil (anonymous) after being logged.
func (c *Client) sessionFromCallback(ctx context.Context) *session.Session {
	if c.nav == nil {
		return nil
	}
	rp, err := c.storedRP(ctx)
	if err != nil {
		c.logger.Warn("error finding a WebID-OIDC session", "error", err)
		return nil
	}
	if rp == nil {
		return nil
	}
	currentURL, err := c.nav.CurrentURL()
	if err != nil {
		c.logger.Warn("error finding a WebID-OIDC session", "error", err)
		return nil
	}
	if !webidoidc.HasTokenResponse(currentURL) {
		return nil
	}
	sess, err := rp.ValidateResponse(ctx, currentURL, c.store)
	if err != nil {
		c.logger.Warn("error finding a WebID-OIDC session", "error", err)
		return nil
	}
	c.restoreAppHashFragment(ctx)
	return sess
}

// Logout ends the session: best-effort remote (the identity provider's
// end-session endpoint may be unreachable; that is logged and swallowed) and
// always-effective local (the stored session is cleared regardless).
func (c *Client) Logout(ctx context.Context) error {
	const op = "Client.Logout"
	sess, err := c.store.Session(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sess == nil {
		return nil
	}
	if rp, err := c.storedRP(ctx); err != nil {
		c.logger.Warn("error logging out of the WebID-OIDC session", "error", err)
	} else if rp != nil {
		if err := rp.Logout(ctx); err != nil {
			c.logger.Warn("error logging out of the WebID-OIDC session", "error", err)
		}
	}
	if err := c.store.ClearSession(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.emit(nil)
	return nil
}

// registeredRP reuses the stored relying-party registration when its issuer
// and registered redirect URIs match the requested login; otherwise it
// registers afresh and the new registration replaces the old one.
func (c *Client) registeredRP(ctx context.Context, idp, callbackURI string) (*webidoidc.RP, error) {
	const op = "Client.registeredRP"
	raw, err := c.store.RPConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw != nil {
		var cfg webidoidc.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			c.logger.Warn("stored relying party config is corrupt, re-registering", "error", err)
		} else if cfg.Matches(idp, callbackURI) {
			return webidoidc.FromConfig(cfg,
				webidoidc.WithLogger(c.logger),
				webidoidc.WithHTTPClient(c.http),
			)
		}
	}
	rp, err := webidoidc.Register(ctx, idp, callbackURI,
		webidoidc.WithLogger(c.logger),
		webidoidc.WithHTTPClient(c.http),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfgRaw, err := json.Marshal(rp.Config())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := c.store.SaveRPConfig(ctx, cfgRaw); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rp, nil
}

// storedRP rehydrates the stored relying-party registration, or nil when
// none is stored.
func (c *Client) storedRP(ctx context.Context) (*webidoidc.RP, error) {
	const op = "Client.storedRP"
	raw, err := c.store.RPConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw == nil {
		return nil, nil
	}
	var cfg webidoidc.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%s: stored relying party config is corrupt: %w", op, err)
	}
	return webidoidc.FromConfig(cfg,
		webidoidc.WithLogger(c.logger),
		webidoidc.WithHTTPClient(c.http),
	)
}

func (c *Client) callbackURI(opts LoginOptions) (string, error) {
	if opts.CallbackURI != "" {
		return opts.CallbackURI, nil
	}
	currentURL, err := c.nav.CurrentURL()
	if err != nil {
		return "", err
	}
	return stripURL(currentURL)
}

func (c *Client) saveAppHashFragment(ctx context.Context) error {
	currentURL, err := c.nav.CurrentURL()
	if err != nil {
		return err
	}
	return c.store.SaveAppHashFragment(ctx, fragmentOf(currentURL))
}

func (c *Client) restoreAppHashFragment(ctx context.Context) {
	fragment, err := c.store.TakeAppHashFragment(ctx)
	if err != nil {
		c.logger.Warn("unable to restore app hash fragment", "error", err)
		return
	}
	if err := c.nav.SetFragment(fragment); err != nil {
		c.logger.Warn("unable to restore app hash fragment", "error", err)
	}
}
