package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Handler answers one request method. It reports handled=false to decline
// the method, which lets independent handlers be layered without a shared
// dispatch table; a declined method produces no response from this handler.
type Handler func(ctx context.Context, method string, args []json.RawMessage) (ret interface{}, handled bool, err error)

// CombineHandlers tries each handler in order and answers with the first one
// that handles the method. If none does, the combined handler declines too.
func CombineHandlers(handlers ...Handler) Handler {
	return func(ctx context.Context, method string, args []json.RawMessage) (interface{}, bool, error) {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			ret, handled, err := h(ctx, method, args)
			if handled || err != nil {
				return ret, handled, err
			}
		}
		return nil, false, nil
	}
}

// Server receives and handles remote procedure calls arriving on a Port.
// Messages from any origin other than the one it was constructed with are
// dropped with a logged warning and never answered; this is the cross-window
// security boundary.
type Server struct {
	port         Port
	clientOrigin string
	handler      Handler
	logger       hclog.Logger

	mu          sync.Mutex
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewServer creates a Server answering requests from clientOrigin. The
// wildcard is not accepted here: a responder must know who it is talking to.
// Supported options: WithLogger.
func NewServer(port Port, clientOrigin string, handler Handler, opt ...Option) (*Server, error) {
	const op = "rpc.NewServer"
	if port == nil {
		return nil, fmt.Errorf("%s: port is nil: %w", op, ErrNilParameter)
	}
	if clientOrigin == "" || clientOrigin == WildcardOrigin {
		return nil, fmt.Errorf("%s: a server requires a concrete client origin: %w", op, ErrInvalidParameter)
	}
	if handler == nil {
		return nil, fmt.Errorf("%s: handler is nil: %w", op, ErrNilParameter)
	}
	opts := getServerOpts(opt...)
	return &Server{
		port:         port,
		clientOrigin: clientOrigin,
		handler:      handler,
		logger:       opts.withLogger,
	}, nil
}

// Start begins listening. Starting an already started server is a no-op.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.unsubscribe = s.port.Subscribe(s.handleMessage)
}

// Stop unregisters the listener and cancels in-flight handler work. It is
// idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe == nil {
		return
	}
	s.unsubscribe()
	s.unsubscribe = nil
	s.cancel()
}

func (s *Server) handleMessage(msg Message) {
	if msg.Origin != s.clientOrigin {
		s.logger.Warn("ignoring message from unexpected origin",
			"expected", s.clientOrigin, "received", msg.Origin)
		return
	}
	req, ok := decodeRequest(msg.Data)
	if !ok {
		// Not a request in our namespace; overheard traffic, not an error.
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	// Handlers do their own I/O (storage, network); keep the port's dispatch
	// path free of them.
	go func() {
		ret, handled, err := s.handler(ctx, req.Method, req.Args)
		if err != nil {
			s.logger.Error("request handler failed", "method", req.Method, "error", err)
			return
		}
		if !handled {
			return
		}
		rawRet, err := json.Marshal(ret)
		if err != nil {
			s.logger.Error("unable to marshal response", "method", req.Method, "error", err)
			return
		}
		data, err := encodeResponse(Response{ID: req.ID, Ret: rawRet})
		if err != nil {
			s.logger.Error("unable to encode response", "method", req.Method, "error", err)
			return
		}
		if err := s.port.Post(ctx, data, s.clientOrigin); err != nil {
			s.logger.Error("unable to post response", "method", req.Method, "error", err)
		}
	}()
}
