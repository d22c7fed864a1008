package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
)

// UsedNamespacesKey is the well-known key holding the index of session
// namespace ids currently multiplexed over a shared backend.
const UsedNamespacesKey = "solid-auth-client-sessions"

// NamespacedStorage multiplexes several independent sessions over one backing
// Storage by prefixing every key with a registered namespace id. Each
// namespace id is recorded in an index under UsedNamespacesKey so hosts can
// enumerate and clean up abandoned sessions.
type NamespacedStorage struct {
	backing Storage
	id      string
	closed  bool
}

var _ Storage = (*NamespacedStorage)(nil)

// OpenNamespace claims the namespace id on the backing storage and returns a
// Storage scoped to it. An empty id claims a fresh random one. Claiming an id
// already present in the index fails with ErrNamespaceInUse.
func OpenNamespace(ctx context.Context, backing Storage, id string) (*NamespacedStorage, error) {
	const op = "storage.OpenNamespace"
	if backing == nil {
		return nil, fmt.Errorf("%s: backing storage is nil: %w", op, ErrNilParameter)
	}
	if id == "" {
		var err error
		if id, err = uuid.GenerateUUID(); err != nil {
			return nil, fmt.Errorf("%s: unable to generate namespace id: %w", op, err)
		}
	}
	ids, err := readIndex(ctx, backing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := ids[id]; ok {
		return nil, fmt.Errorf("%s: %q: %w", op, id, ErrNamespaceInUse)
	}
	ids[id] = true
	if err := writeIndex(ctx, backing, ids); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &NamespacedStorage{backing: backing, id: id}, nil
}

// ResumeNamespace returns a Storage scoped to an id already present in the
// index, for reattaching to a previously opened session.
func ResumeNamespace(ctx context.Context, backing Storage, id string) (*NamespacedStorage, error) {
	const op = "storage.ResumeNamespace"
	if backing == nil {
		return nil, fmt.Errorf("%s: backing storage is nil: %w", op, ErrNilParameter)
	}
	ids, err := readIndex(ctx, backing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := ids[id]; !ok {
		return nil, fmt.Errorf("%s: %q is not a registered namespace: %w", op, id, ErrInvalidParameter)
	}
	return &NamespacedStorage{backing: backing, id: id}, nil
}

// ListNamespaces returns the registered namespace ids, sorted.
func ListNamespaces(ctx context.Context, backing Storage) ([]string, error) {
	const op = "storage.ListNamespaces"
	if backing == nil {
		return nil, fmt.Errorf("%s: backing storage is nil: %w", op, ErrNilParameter)
	}
	ids, err := readIndex(ctx, backing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ID returns the namespace id this storage is scoped to.
func (s *NamespacedStorage) ID() string { return s.id }

func (s *NamespacedStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if s.closed {
		return "", false, ErrNamespaceClosed
	}
	return s.backing.GetItem(ctx, s.prefixed(key))
}

func (s *NamespacedStorage) SetItem(ctx context.Context, key string, value string) error {
	if s.closed {
		return ErrNamespaceClosed
	}
	return s.backing.SetItem(ctx, s.prefixed(key), value)
}

func (s *NamespacedStorage) RemoveItem(ctx context.Context, key string) error {
	if s.closed {
		return ErrNamespaceClosed
	}
	return s.backing.RemoveItem(ctx, s.prefixed(key))
}

// Destroy removes the namespace's blob key and deregisters the namespace id
// from the index. Both steps are attempted even if the first fails, and all
// failures are reported together.
func (s *NamespacedStorage) Destroy(ctx context.Context, keys ...string) error {
	const op = "NamespacedStorage.Destroy"
	if s.closed {
		return nil
	}
	var errs *multierror.Error
	for _, key := range keys {
		if err := s.backing.RemoveItem(ctx, s.prefixed(key)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: removing %q: %w", op, key, err))
		}
	}
	ids, err := readIndex(ctx, s.backing)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", op, err))
	} else {
		delete(ids, s.id)
		if err := writeIndex(ctx, s.backing, ids); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", op, err))
		}
	}
	s.closed = true
	return errs.ErrorOrNil()
}

func (s *NamespacedStorage) prefixed(key string) string {
	return s.id + ":" + key
}

func readIndex(ctx context.Context, backing Storage) (map[string]bool, error) {
	raw, ok, err := backing.GetItem(ctx, UsedNamespacesKey)
	if err != nil {
		return nil, err
	}
	ids := map[string]bool{}
	if !ok {
		return ids, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// A corrupt index means the registered ids are unknowable; start over
		// rather than fail every namespace operation.
		return ids, nil
	}
	for _, id := range list {
		ids[id] = true
	}
	return ids, nil
}

func writeIndex(ctx context.Context, backing Storage, ids map[string]bool) error {
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Strings(list)
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return backing.SetItem(ctx, UsedNamespacesKey, string(raw))
}
