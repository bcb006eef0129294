package tenantconfig

import (
	"context"
	"errors"
	"sync"
)

// ErrBlobNotFound is returned by a BlobStore when the key does not exist.
var ErrBlobNotFound = errors.New("tenantconfig: blob not found")

// BlobStore is the key to blob get/put interface the resolver reads tenant
// configs from. Reads may lag writes; nothing stronger is assumed.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// BlobKey returns the storage key for a tenant's config.
func BlobKey(prefix, handle string) string {
	return prefix + "tenants/" + handle + "/config.json"
}

// MemoryStore is an in-process BlobStore for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}
