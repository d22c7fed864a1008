package solidauth

import (
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/solid-go/solidauth/storage"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

type options struct {
	withStorage    storage.Storage
	withHTTPClient *http.Client
	withNavigator  Navigator
	withOpener     WindowOpener
	withLogger     hclog.Logger
}

func getDefaultOptions() options {
	return options{
		withLogger: hclog.NewNullLogger(),
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithStorage provides the persistence backend. Defaults to an in-memory
// store, which is only useful for a single process lifetime.
func WithStorage(s storage.Storage) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withStorage = s
		}
	}
}

// WithHTTPClient provides the HTTP client used both for resource fetches and
// identity provider traffic. Give it a cookie jar if same-origin credentials
// should flow alongside bearer proof.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHTTPClient = c
		}
	}
}

// WithNavigator provides the host shim that can read and replace the
// top-level context's location. Login and CurrentSession need one.
func WithNavigator(n Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withNavigator = n
		}
	}
}

// WithWindowOpener provides the host shim that can open a login popup.
// PopupLogin needs one.
func WithWindowOpener(w WindowOpener) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withOpener = w
		}
	}
}

// WithLogger provides an optional logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			if l != nil {
				o.withLogger = l
			}
		}
	}
}
