package rpc

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// DefaultRequestTimeout bounds how long a Client waits for a matching
// response. The observed popup-origin-discovery handshake uses this value.
const DefaultRequestTimeout = 2 * time.Second

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

type clientOptions struct {
	withTimeout time.Duration
	withLogger  hclog.Logger
}

func clientDefaults() clientOptions {
	return clientOptions{
		withTimeout: DefaultRequestTimeout,
		withLogger:  hclog.NewNullLogger(),
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type serverOptions struct {
	withLogger hclog.Logger
}

func serverDefaults() serverOptions {
	return serverOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getServerOpts(opt ...Option) serverOptions {
	opts := serverDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTimeout overrides how long a Client waits for a response before the
// request fails with ErrTimeout. Zero keeps the default, negative disables
// the timeout entirely (the caller's context is then the only bound).
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok && d != 0 {
			o.withTimeout = d
		}
	}
}

// WithLogger provides an optional logger
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *clientOptions:
			if l != nil {
				v.withLogger = l
			}
		case *serverOptions:
			if l != nil {
				v.withLogger = l
			}
		}
	}
}
