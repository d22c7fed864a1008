package webidoidc

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
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
	withLogger     hclog.Logger
	withHTTPClient *http.Client
	withProviderCA string
	withScope      string
}

func getDefaultOptions() options {
	return options{
		withLogger: hclog.NewNullLogger(),
		withScope:  DefaultScope,
	}
}

func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			if l != nil {
				o.withLogger = l
			}
		}
	}
}

// WithHTTPClient provides an optional http client used for discovery,
// registration, verification and logout traffic.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withHTTPClient = c
		}
	}
}

// WithProviderCA provides an optional CA cert PEM for requests to the
// provider. Ignored when WithHTTPClient is also given.
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withProviderCA = pem
		}
	}
}

// WithScope overrides the scope requested at registration and login time.
// The "openid" scope is always included.
func WithScope(scope string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			if scope != "" {
				o.withScope = scope
			}
		}
	}
}
