package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"line-flex-bridge/internal/storage"
)

// DocumentStore implements storage.DocumentStore with plain string keys.
// Create maps to SETNX and Update to SET with EX, so each write is a single command.
type DocumentStore struct {
	client *Client
	prefix string
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore stores documents under prefix+key; prefix may be empty
func NewDocumentStore(client *Client, prefix string) *DocumentStore {
	return &DocumentStore{client: client, prefix: prefix}
}

func (s *DocumentStore) key(key string) string {
	return s.prefix + key
}

func (s *DocumentStore) Fetch(ctx context.Context, key string) (*storage.Document, error) {
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := s.client.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, s.key(key))
		ttlCmd = pipe.PTTL(ctx, s.key(key))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to fetch document %s: %w", key, err)
	}

	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", key, err)
	}

	doc := &storage.Document{Key: key, Data: data}
	if ttl := ttlCmd.Val(); ttl > 0 {
		doc.ExpiresAt = time.Now().Add(ttl)
	}
	return doc, nil
}

func (s *DocumentStore) Create(ctx context.Context, key string, data []byte) (*storage.Document, error) {
	created, err := s.client.rdb.SetNX(ctx, s.key(key), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", key, err)
	}
	if !created {
		return nil, storage.ErrAlreadyExists
	}
	return &storage.Document{Key: key, Data: data}, nil
}

// Update overwrites the value and restarts the TTL. A non-positive ttl persists the key.
func (s *DocumentStore) Update(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.rdb.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to update document %s: %w", key, err)
	}
	return nil
}

func (s *DocumentStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *DocumentStore) Name() string {
	return "redis"
}

// Close is a no-op; the Client owns the connection pool
func (s *DocumentStore) Close() error {
	return nil
}
