package solidauth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/solid-go/solidauth/rpc"
	"github.com/solid-go/solidauth/session"
	"github.com/solid-go/solidauth/storage"
)

// Popup geometry: fixed size, centered by the opener implementation.
const (
	PopupWidth  = 650
	PopupHeight = 400
)

// Popup RPC method names beyond the storage proxy.
const (
	MethodGetLoginOptions = "getLoginOptions"
	MethodFoundSession    = "foundSession"
	MethodGetAppOrigin    = "getAppOrigin"
)

// Window is an opened popup. The component that opened it owns the handle;
// only that component may close it.
type Window interface {
	Port() rpc.Port
	Close() error
}

// WindowOpener opens popup windows. Browser and webview embeddings implement
// it; tests fake it with a Pipe-backed window.
type WindowOpener interface {
	Open(url string, width, height int) (Window, error)
}

// PopupLoginOptions is the payload the popup requests to construct its own
// login flow.
type PopupLoginOptions struct {
	PopupURI    string `json:"popupUri"`
	CallbackURI string `json:"callbackUri"`
}

// PopupLogin opens a login popup and serves its requests until it reports a
// session: the popup proxies this client's storage, asks for its login
// options, performs the login internally, and finally posts foundSession.
// The server listens only to the popup's origin and is stopped as soon as the
// session arrives; the returned session is also persisted and announced to
// subscribers.
//
// A missing PopupURI or WindowOpener is a caller contract violation and
// fails immediately.
func (c *Client) PopupLogin(ctx context.Context, opts LoginOptions) (*session.Session, error) {
	const op = "Client.PopupLogin"
	if opts.PopupURI == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingPopupURI)
	}
	if c.opener == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingOpener)
	}
	if opts.CallbackURI == "" {
		opts.CallbackURI = opts.PopupURI
	}
	popupOrigin, err := originOf(opts.PopupURI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	win, err := c.opener.Open(opts.PopupURI, PopupWidth, PopupHeight)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open popup: %w", op, err)
	}
	defer win.Close()

	found := make(chan *session.Session, 1)
	var once sync.Once
	handler := rpc.CombineHandlers(
		StorageHandler(c.store.Storage()),
		LoginHandler(opts, func(sess *session.Session) {
			once.Do(func() { found <- sess })
		}),
		AppOriginHandler(c.appOrigin()),
	)
	server, err := rpc.NewServer(win.Port(), popupOrigin, handler, rpc.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	server.Start()
	defer server.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	case sess := <-found:
		if sess == nil {
			return nil, nil
		}
		if err := c.store.SaveSession(ctx, *sess); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.emit(sess)
		return sess, nil
	}
}

// StorageHandler proxies raw storage access for a popup: getItem answers the
// stored value or null, setItem and removeItem answer null.
func StorageHandler(store storage.Storage) rpc.Handler {
	return func(ctx context.Context, method string, args []json.RawMessage) (interface{}, bool, error) {
		switch method {
		case rpc.MethodStorageGetItem:
			var key string
			if err := argInto(args, 0, &key); err != nil {
				return nil, true, err
			}
			value, ok, err := store.GetItem(ctx, key)
			if err != nil {
				return nil, true, err
			}
			if !ok {
				return nil, true, nil
			}
			return value, true, nil
		case rpc.MethodStorageSetItem:
			var key, value string
			if err := argInto(args, 0, &key); err != nil {
				return nil, true, err
			}
			if err := argInto(args, 1, &value); err != nil {
				return nil, true, err
			}
			return nil, true, store.SetItem(ctx, key, value)
		case rpc.MethodStorageRemoveItem:
			var key string
			if err := argInto(args, 0, &key); err != nil {
				return nil, true, err
			}
			return nil, true, store.RemoveItem(ctx, key)
		default:
			return nil, false, nil
		}
	}
}

// LoginHandler serves the popup's login coordination: getLoginOptions
// returns the URIs the popup needs to build its own requests, and
// foundSession delivers the terminal session payload.
func LoginHandler(opts LoginOptions, foundSession func(*session.Session)) rpc.Handler {
	return func(ctx context.Context, method string, args []json.RawMessage) (interface{}, bool, error) {
		switch method {
		case MethodGetLoginOptions:
			return PopupLoginOptions{
				PopupURI:    opts.PopupURI,
				CallbackURI: opts.CallbackURI,
			}, true, nil
		case MethodFoundSession:
			var sess *session.Session
			if len(args) > 0 {
				if err := json.Unmarshal(args[0], &sess); err != nil {
					return nil, true, fmt.Errorf("unparseable session payload: %w", err)
				}
			}
			foundSession(sess)
			return nil, true, nil
		default:
			return nil, false, nil
		}
	}
}

// AppOriginHandler answers the popup's bootstrap origin discovery. It is the
// only call a popup may address to the wildcard origin, before it knows who
// opened it.
func AppOriginHandler(origin string) rpc.Handler {
	return func(ctx context.Context, method string, args []json.RawMessage) (interface{}, bool, error) {
		if method != MethodGetAppOrigin {
			return nil, false, nil
		}
		return origin, true, nil
	}
}

// DiscoverAppOrigin is the popup-side bootstrap: it asks the opener for its
// true origin using the wildcard target, bounded by the rpc package's
// default timeout. Every subsequent call must use a Client constructed with
// the discovered origin.
func DiscoverAppOrigin(ctx context.Context, port rpc.Port) (string, error) {
	const op = "solidauth.DiscoverAppOrigin"
	client, err := rpc.NewClient(port, rpc.WildcardOrigin)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var origin string
	if _, err := client.RequestInto(ctx, &origin, MethodGetAppOrigin); err != nil {
		return "", fmt.Errorf("%s: could not connect to main window: %w", op, err)
	}
	return origin, nil
}

// appOrigin is this client's own origin, as reported to popups.
func (c *Client) appOrigin() string {
	if c.nav == nil {
		return ""
	}
	currentURL, err := c.nav.CurrentURL()
	if err != nil {
		return ""
	}
	origin, err := originOf(currentURL)
	if err != nil {
		return ""
	}
	return origin
}

func argInto(args []json.RawMessage, i int, out interface{}) error {
	if i >= len(args) {
		return fmt.Errorf("missing argument %d: %w", i, ErrInvalidParameter)
	}
	return json.Unmarshal(args[i], out)
}
