package rpc

import (
	"context"
	"sync"
)

// Message is one delivery on a Port. Origin is stamped by the transport, not
// by the sender's payload, and is the value all trust decisions key off.
type Message struct {
	Data   []byte
	Origin string
}

// Port is an origin-addressed, asynchronous message channel between two
// contexts. Post delivers data to the peer only if targetOrigin is the
// wildcard or matches the peer's origin. Subscribe registers a listener for
// inbound messages; the returned cancel unregisters it and is idempotent.
type Port interface {
	Post(ctx context.Context, data []byte, targetOrigin string) error
	Subscribe(fn func(Message)) (cancel func())
}

// PipePort is one end of an in-process Port pair.
type PipePort struct {
	origin string
	peer   *PipePort

	mu      sync.Mutex
	nextSub int
	subs    map[int]func(Message)
}

var _ Port = (*PipePort)(nil)

// Pipe connects two in-process contexts with the given origins and returns
// one port for each. Deliveries are asynchronous, like a browser message
// queue: Post returns before listeners run.
func Pipe(originA, originB string) (*PipePort, *PipePort) {
	a := &PipePort{origin: originA, subs: map[int]func(Message){}}
	b := &PipePort{origin: originB, subs: map[int]func(Message){}}
	a.peer, b.peer = b, a
	return a, b
}

// Origin returns the origin of this end of the pipe.
func (p *PipePort) Origin() string { return p.origin }

func (p *PipePort) Post(ctx context.Context, data []byte, targetOrigin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if targetOrigin != WildcardOrigin && targetOrigin != p.peer.origin {
		// Mirrors postMessage semantics: a target-origin mismatch discards
		// the message rather than failing the sender.
		return nil
	}
	msg := Message{Data: append([]byte(nil), data...), Origin: p.origin}
	go p.peer.dispatch(msg)
	return nil
}

func (p *PipePort) Subscribe(fn func(Message)) func() {
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

func (p *PipePort) dispatch(msg Message) {
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
