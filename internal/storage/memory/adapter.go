// Package memory is an in-process document store on patrickmn/go-cache for
// single replica deployments and local development
package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"line-flex-bridge/internal/storage"
)

// Adapter keeps documents in a go-cache instance
type Adapter struct {
	cache *gocache.Cache
}

var _ storage.DocumentStore = (*Adapter)(nil)

// NewAdapter creates an empty store; expired entries are evicted every cleanupInterval
func NewAdapter(cleanupInterval time.Duration) *Adapter {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &Adapter{cache: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (a *Adapter) Fetch(ctx context.Context, key string) (*storage.Document, error) {
	value, expiresAt, found := a.cache.GetWithExpiration(key)
	if !found {
		return nil, storage.ErrNotFound
	}
	return &storage.Document{Key: key, Data: clone(value.([]byte)), ExpiresAt: expiresAt}, nil
}

// Create relies on go-cache Add, which only succeeds for an absent or expired key
func (a *Adapter) Create(ctx context.Context, key string, data []byte) (*storage.Document, error) {
	if err := a.cache.Add(key, clone(data), gocache.NoExpiration); err != nil {
		return nil, storage.ErrAlreadyExists
	}
	return &storage.Document{Key: key, Data: clone(data)}, nil
}

// Update replaces the document. A non-positive ttl stores it without expiry.
func (a *Adapter) Update(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	a.cache.Set(key, clone(data), ttl)
	return nil
}

// PurgeExpired evicts expired entries immediately
func (a *Adapter) PurgeExpired(ctx context.Context) (int64, error) {
	before := a.cache.ItemCount()
	a.cache.DeleteExpired()
	return int64(before - a.cache.ItemCount()), nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return ctx.Err()
}

func (a *Adapter) Name() string {
	return "memory"
}

func (a *Adapter) Close() error {
	a.cache.Flush()
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
