package channeltoken

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"line-flex-bridge/internal/common/errors"
	"line-flex-bridge/internal/common/logging"
	"line-flex-bridge/internal/crypto"
	"line-flex-bridge/internal/storage"
)

// TokenCache is the cache-aside view of the document store
type TokenCache interface {
	// FetchOrCreate returns the entry at key, creating an empty one if absent.
	// Losing a creation race is not an error.
	FetchOrCreate(ctx context.Context, key string) (*CacheEntry, error)
	// Store replaces the payload at key and restarts its TTL
	Store(ctx context.Context, key string, token *ChannelAccessToken, ttl time.Duration) error
}

// cachedToken is the stored JSON document
type cachedToken struct {
	ChannelAccessToken
	IssuedAt  int64 `json:"issued_at,omitempty"`
	Encrypted bool  `json:"encrypted,omitempty"`
}

var emptyDocument = []byte(`{}`)

// DocumentCache implements TokenCache over a storage.DocumentStore
type DocumentCache struct {
	store     storage.DocumentStore
	encryptor *crypto.TokenEncryptor
	logger    logging.Logger
	now       func() time.Time
}

var _ TokenCache = (*DocumentCache)(nil)

// CacheOption configures a DocumentCache
type CacheOption func(*DocumentCache)

// WithEncryptor seals access tokens before they reach the store
func WithEncryptor(encryptor *crypto.TokenEncryptor) CacheOption {
	return func(c *DocumentCache) {
		c.encryptor = encryptor
	}
}

func WithCacheLogger(logger logging.Logger) CacheOption {
	return func(c *DocumentCache) {
		c.logger = logger
	}
}

func NewDocumentCache(store storage.DocumentStore, opts ...CacheOption) *DocumentCache {
	c := &DocumentCache{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	return c
}

func (c *DocumentCache) FetchOrCreate(ctx context.Context, key string) (*CacheEntry, error) {
	doc, err := c.store.Fetch(ctx, key)
	if err == nil {
		return c.decode(key, doc.Data), nil
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.CacheUnavailableError("failed to fetch token document", err).WithContext("key", key)
	}

	doc, err = c.store.Create(ctx, key, emptyDocument)
	if err == nil {
		return c.decode(key, doc.Data), nil
	}
	if !stderrors.Is(err, storage.ErrAlreadyExists) {
		return nil, errors.CacheUnavailableError("failed to create token document", err).WithContext("key", key)
	}

	// another invocation created it first
	doc, err = c.store.Fetch(ctx, key)
	if stderrors.Is(err, storage.ErrNotFound) {
		return &CacheEntry{Key: key}, nil
	}
	if err != nil {
		return nil, errors.CacheUnavailableError("failed to fetch token document", err).WithContext("key", key)
	}
	return c.decode(key, doc.Data), nil
}

// decode never fails: an unreadable document is an empty entry and gets re-minted
func (c *DocumentCache) decode(key string, data []byte) *CacheEntry {
	entry := &CacheEntry{Key: key}

	var record cachedToken
	if err := json.Unmarshal(data, &record); err != nil {
		c.logger.Warn("Discarding unreadable token document",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return entry
	}

	if record.Encrypted {
		if c.encryptor == nil {
			c.logger.Warn("Discarding encrypted token document, no encryption key configured",
				logging.Field{Key: "key", Value: key})
			return entry
		}
		plain, err := c.encryptor.Decrypt(record.AccessToken, key)
		if err != nil {
			c.logger.Warn("Discarding token document that failed to decrypt",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err.Error()},
			)
			return entry
		}
		record.AccessToken = plain
	}

	entry.Token = record.ChannelAccessToken
	if record.IssuedAt > 0 {
		entry.IssuedAt = time.Unix(record.IssuedAt, 0)
	}
	return entry
}

func (c *DocumentCache) Store(ctx context.Context, key string, token *ChannelAccessToken, ttl time.Duration) error {
	record := cachedToken{
		ChannelAccessToken: *token,
		IssuedAt:           c.now().Unix(),
	}
	if c.encryptor != nil {
		sealed, err := c.encryptor.Encrypt(token.AccessToken, key)
		if err != nil {
			return errors.CacheUnavailableError("failed to encrypt token document", err).WithContext("key", key)
		}
		record.AccessToken = sealed
		record.Encrypted = true
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.InternalError("failed to encode token document", err)
	}

	if err := c.store.Update(ctx, key, data, ttl); err != nil {
		return errors.CacheUnavailableError("failed to store token document", err).WithContext("key", key)
	}
	return nil
}
