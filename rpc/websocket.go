package rpc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketPort carries rpc envelopes between two real processes over a
// websocket. The peer's origin is pinned when the port is constructed (from
// the handshake on the accepting side) and stamped onto every inbound
// message, so the trust decisions in Client and Server work unchanged.
type WebSocketPort struct {
	conn       *websocket.Conn
	peerOrigin string

	writeMu sync.Mutex

	mu      sync.Mutex
	nextSub int
	subs    map[int]func(Message)
	closed  bool
}

var _ Port = (*WebSocketPort)(nil)

// NewWebSocketPort wraps an established websocket connection. peerOrigin is
// the origin of the remote end; the caller is responsible for having
// authenticated it (for an accepting side, use UpgradeWebSocket which reads
// it from the handshake).
func NewWebSocketPort(conn *websocket.Conn, peerOrigin string) (*WebSocketPort, error) {
	const op = "rpc.NewWebSocketPort"
	if conn == nil {
		return nil, fmt.Errorf("%s: connection is nil: %w", op, ErrNilParameter)
	}
	if peerOrigin == "" {
		return nil, fmt.Errorf("%s: missing peer origin: %w", op, ErrInvalidParameter)
	}
	p := &WebSocketPort{
		conn:       conn,
		peerOrigin: peerOrigin,
		subs:       map[int]func(Message){},
	}
	go p.readLoop()
	return p, nil
}

// UpgradeWebSocket accepts a websocket handshake and returns a port whose
// peer origin is taken from the handshake's Origin header. Requests without
// an Origin header are refused: an anonymous peer cannot pass any origin
// check later.
func UpgradeWebSocket(w http.ResponseWriter, req *http.Request) (*WebSocketPort, error) {
	const op = "rpc.UpgradeWebSocket"
	origin := req.Header.Get("Origin")
	if origin == "" {
		http.Error(w, "missing origin", http.StatusForbidden)
		return nil, fmt.Errorf("%s: handshake carries no origin: %w", op, ErrInvalidParameter)
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		// Origin enforcement happens per message against the pinned origin,
		// not as a handshake allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewWebSocketPort(conn, origin)
}

// DialWebSocket connects to a websocket endpoint and returns a port pinned
// to peerOrigin. localOrigin is sent as the handshake Origin header so the
// accepting side can pin us symmetrically.
func DialWebSocket(ctx context.Context, url, localOrigin, peerOrigin string) (*WebSocketPort, error) {
	const op = "rpc.DialWebSocket"
	if localOrigin == "" {
		return nil, fmt.Errorf("%s: missing local origin: %w", op, ErrInvalidParameter)
	}
	header := http.Header{}
	header.Set("Origin", localOrigin)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewWebSocketPort(conn, peerOrigin)
}

// Origin returns the pinned origin of the remote end.
func (p *WebSocketPort) Origin() string { return p.peerOrigin }

func (p *WebSocketPort) Post(ctx context.Context, data []byte, targetOrigin string) error {
	const op = "WebSocketPort.Post"
	if err := ctx.Err(); err != nil {
		return err
	}
	if targetOrigin != WildcardOrigin && targetOrigin != p.peerOrigin {
		// Discard, mirroring postMessage target-origin semantics.
		return nil
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", op, ErrPortClosed)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *WebSocketPort) Subscribe(fn func(Message)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs, id)
		})
	}
}

// Close tears down the websocket. Subscribed listeners receive nothing
// further.
func (p *WebSocketPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.conn.Close()
}

func (p *WebSocketPort) readLoop() {
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg := Message{Data: data, Origin: p.peerOrigin}
		p.mu.Lock()
		listeners := make([]func(Message), 0, len(p.subs))
		for _, fn := range p.subs {
			listeners = append(listeners, fn)
		}
		p.mu.Unlock()
		for _, fn := range listeners {
			fn(msg)
		}
	}
}
