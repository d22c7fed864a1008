package solidauth

import (
	"sync"

	"github.com/solid-go/solidauth/session"
)

// subscribers notifies interested parties of session changes without
// polling. It is embedded in Client.
type subscribers struct {
	mu      sync.Mutex
	nextSub int
	subs    map[int]func(*session.Session)
}

// Subscribe registers a callback invoked with the new session on login and
// session discovery, and with nil on logout. The returned function cancels
// the subscription and is idempotent.
func (s *subscribers) Subscribe(fn func(*session.Session)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]func(*session.Session){}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

func (s *subscribers) emit(sess *session.Session) {
	s.mu.Lock()
	callbacks := make([]func(*session.Session), 0, len(s.subs))
	for _, fn := range s.subs {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(sess)
	}
}
