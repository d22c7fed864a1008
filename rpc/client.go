package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
)

// Client makes remote procedure calls over a Port, addressed to a single
// expected origin. Responses from any other origin are never resolved, and
// responses bearing an unknown id are ignored indefinitely.
type Client struct {
	port         Port
	targetOrigin string
	timeout      time.Duration
	logger       hclog.Logger
}

// NewClient creates a Client whose requests go to, and whose responses are
// accepted from, targetOrigin. WildcardOrigin is permitted only for the
// bootstrap call that discovers the peer's true origin; construct a new
// Client with the discovered origin for everything after that.
// Supported options: WithTimeout, WithLogger.
func NewClient(port Port, targetOrigin string, opt ...Option) (*Client, error) {
	const op = "rpc.NewClient"
	if port == nil {
		return nil, fmt.Errorf("%s: port is nil: %w", op, ErrNilParameter)
	}
	if targetOrigin == "" {
		return nil, fmt.Errorf("%s: missing target origin: %w", op, ErrInvalidParameter)
	}
	opts := getClientOpts(opt...)
	return &Client{
		port:         port,
		targetOrigin: targetOrigin,
		timeout:      opts.withTimeout,
		logger:       opts.withLogger,
	}, nil
}

// Request posts {id, method, args} to the target origin and resolves the
// first {id, ret} whose id matches and whose sender origin is acceptable.
// Concurrent requests are distinguished solely by id, so out-of-order
// responses resolve correctly. A missing response fails with ErrTimeout once
// the configured timeout elapses.
func (c *Client) Request(ctx context.Context, method string, args ...interface{}) (json.RawMessage, error) {
	const op = "Client.Request"
	if method == "" {
		return nil, fmt.Errorf("%s: missing method: %w", op, ErrInvalidParameter)
	}
	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate request id: %w", op, err)
	}
	rawArgs, err := marshalArgs(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	data, err := encodeRequest(Request{ID: id, Method: method, Args: rawArgs})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Subscribe before posting so a fast responder cannot win the race.
	got := make(chan json.RawMessage, 1)
	cancel := c.port.Subscribe(func(msg Message) {
		if c.targetOrigin != WildcardOrigin && msg.Origin != c.targetOrigin {
			return
		}
		resp, ok := decodeResponse(msg.Data)
		if !ok || resp.ID != id {
			return
		}
		select {
		case got <- resp.Ret:
		default:
		}
	})
	defer cancel()

	if c.timeout > 0 {
		var cancelCtx context.CancelFunc
		ctx, cancelCtx = context.WithTimeout(ctx, c.timeout)
		defer cancelCtx()
	}

	if err := c.port.Post(ctx, data, c.targetOrigin); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	select {
	case ret := <-got:
		return ret, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %q: %w", op, method, ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// RequestInto performs Request and unmarshals the result into out. A JSON
// null result leaves out untouched and reports found=false.
func (c *Client) RequestInto(ctx context.Context, out interface{}, method string, args ...interface{}) (found bool, err error) {
	const op = "Client.RequestInto"
	ret, err := c.Request(ctx, method, args...)
	if err != nil {
		return false, err
	}
	if len(ret) == 0 || string(ret) == "null" {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(ret, out); err != nil {
			return false, fmt.Errorf("%s: unmarshaling %q result: %w", op, method, err)
		}
	}
	return true, nil
}
