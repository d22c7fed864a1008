package rpc

import (
	"context"
	"fmt"

	"github.com/solid-go/solidauth/storage"
)

// Method names for the storage proxy. A popup's code reads and writes its
// opener's storage purely through these calls; the two contexts never share
// an object.
const (
	MethodStorageGetItem    = "storage/getItem"
	MethodStorageSetItem    = "storage/setItem"
	MethodStorageRemoveItem = "storage/removeItem"
)

// RemoteStorage is a storage.Storage whose operations are remote procedure
// calls against the peer's storage handler.
type RemoteStorage struct {
	client *Client
}

var _ storage.Storage = (*RemoteStorage)(nil)

// NewRemoteStorage creates a RemoteStorage over an established Client.
func NewRemoteStorage(client *Client) (*RemoteStorage, error) {
	const op = "rpc.NewRemoteStorage"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	return &RemoteStorage{client: client}, nil
}

func (r *RemoteStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	const op = "RemoteStorage.GetItem"
	var value string
	found, err := r.client.RequestInto(ctx, &value, MethodStorageGetItem, key)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return value, found, nil
}

func (r *RemoteStorage) SetItem(ctx context.Context, key string, value string) error {
	const op = "RemoteStorage.SetItem"
	if _, err := r.client.Request(ctx, MethodStorageSetItem, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *RemoteStorage) RemoveItem(ctx context.Context, key string) error {
	const op = "RemoteStorage.RemoveItem"
	if _, err := r.client.Request(ctx, MethodStorageRemoveItem, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
