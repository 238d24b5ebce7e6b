// Package storage defines the document store contract behind the token cache.
//
// A document is an opaque payload addressed by a string key with an optional
// store-enforced expiry. Once the expiry passes the document behaves exactly as
// if it had never been written.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Fetch when the key is absent or expired
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when a live document already holds the key
	ErrAlreadyExists = errors.New("document already exists")
)

// Document is a stored payload
type Document struct {
	Key  string
	Data []byte
	// ExpiresAt is zero when the document has no TTL
	ExpiresAt time.Time
}

// DocumentStore is the minimal key/value document API the token cache needs
type DocumentStore interface {
	// Fetch returns the live document at key or ErrNotFound
	Fetch(ctx context.Context, key string) (*Document, error)
	// Create writes data at key without a TTL; ErrAlreadyExists if a live document is present
	Create(ctx context.Context, key string, data []byte) (*Document, error)
	// Update replaces the whole payload at key and restarts its TTL
	Update(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Health checks connectivity
	Health(ctx context.Context) error
	// Name identifies the backend in logs and health output
	Name() string
	Close() error
}

// StorageConfig is implemented by backend configs
type StorageConfig interface {
	Validate() error
	GetType() string
}
