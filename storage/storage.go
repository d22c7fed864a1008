// Package storage defines the async key/value interface the rest of the
// module persists through, along with in-memory and file-backed
// implementations. Backends are never assumed synchronous: every operation
// takes a context and may suspend.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage is a minimal asynchronous key/value store. Implementations must be
// safe for concurrent use. GetItem reports whether the key was present, so
// callers can tell an empty value from a missing one.
type Storage interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key string, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// MemoryStorage is a Storage backed by an in-process map. It is the default
// backend when the host offers no persistence of its own.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: map[string]string{}}
}

func (s *MemoryStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetItem(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStorage) RemoveItem(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// FileStorage is a Storage persisted as a single JSON file. Writes go through
// a temp file and rename so a crash never leaves a half-written store.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage creates a FileStorage at path. The file is created lazily on
// the first SetItem.
func NewFileStorage(path string) (*FileStorage, error) {
	const op = "storage.NewFileStorage"
	if path == "" {
		return nil, fmt.Errorf("%s: missing path: %w", op, ErrInvalidParameter)
	}
	return &FileStorage{path: path}, nil
}

func (s *FileStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	const op = "FileStorage.GetItem"
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	v, ok := items[key]
	return v, ok, nil
}

func (s *FileStorage) SetItem(ctx context.Context, key string, value string) error {
	const op = "FileStorage.SetItem"
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	items[key] = value
	if err := s.persist(items); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *FileStorage) RemoveItem(ctx context.Context, key string) error {
	const op = "FileStorage.RemoveItem"
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)
	if err := s.persist(items); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *FileStorage) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	items := map[string]string{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *FileStorage) persist(items map[string]string) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".solidauth-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
