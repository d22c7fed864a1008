package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/solid-go/solidauth/storage"
)

// BlobKey is the well-known storage key under which the entire client state
// is serialized.
const BlobKey = "solid-auth-client"

// Blob is the single serialized record holding all of the client's persisted
// state. Every mutation goes through Store.Update as a read-merge-write of
// the whole record.
type Blob struct {
	Session         *Session             `json:"session,omitempty"`
	Hosts           map[string]HostEntry `json:"hosts,omitempty"`
	RPConfig        json.RawMessage      `json:"rpConfig,omitempty"`
	AppHashFragment string               `json:"appHashFragment,omitempty"`
}

// HostEntry records what is known about one hostname.
type HostEntry struct {
	RequiresAuth bool `json:"requiresAuth"`
}

// Store provides atomic read-modify-write access to the Blob. Updates from
// concurrent callers are serialized through an in-process mutex, so a host
// cache write racing a session save cannot clobber the other's fields.
type Store struct {
	storage storage.Storage
	logger  hclog.Logger

	// mu serializes Update calls. The underlying Storage offers no
	// read-modify-write atomicity of its own.
	mu sync.Mutex
}

// NewStore creates a Store over the given storage adapter.
// Supported options: WithLogger.
func NewStore(s storage.Storage, opt ...Option) (*Store, error) {
	const op = "session.NewStore"
	if s == nil {
		return nil, fmt.Errorf("%s: storage is nil: %w", op, ErrNilParameter)
	}
	opts := getOpts(opt...)
	return &Store{
		storage: s,
		logger:  opts.withLogger,
	}, nil
}

// Storage returns the underlying storage adapter, for callers that proxy raw
// key access (the popup storage handler).
func (s *Store) Storage() storage.Storage { return s.storage }

// Read returns the current Blob. A missing or unparseable stored value is
// treated as an empty blob, never as a fatal error; corruption is logged.
func (s *Store) Read(ctx context.Context) (Blob, error) {
	const op = "Store.Read"
	raw, ok, err := s.storage.GetItem(ctx, BlobKey)
	if err != nil {
		return Blob{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return Blob{}, nil
	}
	var b Blob
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		s.logger.Warn("stored state is corrupt, treating as empty", "error", err)
		return Blob{}, nil
	}
	return b, nil
}

// Update reads the latest blob, applies fn, and writes the result back with a
// single SetItem. It returns the blob that was written. Storage failures
// propagate to the caller; retries are a caller decision.
func (s *Store) Update(ctx context.Context, fn func(Blob) Blob) (Blob, error) {
	const op = "Store.Update"
	if fn == nil {
		return Blob{}, fmt.Errorf("%s: update func is nil: %w", op, ErrNilParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.Read(ctx)
	if err != nil {
		return Blob{}, fmt.Errorf("%s: %w", op, err)
	}
	next := fn(cur)
	raw, err := json.Marshal(next)
	if err != nil {
		return Blob{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.storage.SetItem(ctx, BlobKey, string(raw)); err != nil {
		return Blob{}, fmt.Errorf("%s: %w", op, err)
	}
	return next, nil
}
