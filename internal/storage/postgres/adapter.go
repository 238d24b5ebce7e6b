// Package postgres implements storage.DocumentStore on PostgreSQL through a pgx pool
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"line-flex-bridge/internal/storage"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Adapter struct {
	pool   *pgxpool.Pool
	config *Config

	fetchSQL  string
	createSQL string
	updateSQL string
	purgeSQL  string
}

var _ storage.DocumentStore = (*Adapter)(nil)

func NewAdapter(ctx context.Context, config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}
	if !tableNamePattern.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid PostgreSQL config: bad table name %q", config.Table)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL DSN: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	adapter := &Adapter{pool: pool, config: config}
	adapter.prepareStatements()

	if err := adapter.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return adapter, nil
}

func (a *Adapter) prepareStatements() {
	t := a.config.Table
	a.fetchSQL = fmt.Sprintf(
		`SELECT data, expires_at FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`, t)
	a.createSQL = fmt.Sprintf(
		`INSERT INTO %[1]s (key, data, expires_at, updated_at) VALUES ($1, $2, NULL, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, expires_at = NULL, updated_at = now()
		WHERE %[1]s.expires_at IS NOT NULL AND %[1]s.expires_at <= now()`, t)
	a.updateSQL = fmt.Sprintf(
		`INSERT INTO %s (key, data, expires_at, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = now()`, t)
	a.purgeSQL = fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now()`, t)
}

func (a *Adapter) migrate(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		data BYTEA NOT NULL,
		expires_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, a.config.Table))
	return err
}

func (a *Adapter) Fetch(ctx context.Context, key string) (*storage.Document, error) {
	var (
		data      []byte
		expiresAt *time.Time
	)
	err := a.pool.QueryRow(ctx, a.fetchSQL, key).Scan(&data, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", key, err)
	}

	doc := &storage.Document{Key: key, Data: data}
	if expiresAt != nil {
		doc.ExpiresAt = *expiresAt
	}
	return doc, nil
}

// Create inserts the document, reclaiming the row if the previous one has expired
func (a *Adapter) Create(ctx context.Context, key string, data []byte) (*storage.Document, error) {
	tag, err := a.pool.Exec(ctx, a.createSQL, key, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrAlreadyExists
	}
	return &storage.Document{Key: key, Data: data}, nil
}

// Update upserts the document. A non-positive ttl stores it without expiry.
func (a *Adapter) Update(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		at := time.Now().Add(ttl)
		expiresAt = &at
	}
	if _, err := a.pool.Exec(ctx, a.updateSQL, key, data, expiresAt); err != nil {
		return fmt.Errorf("failed to update document %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes rows whose TTL has passed
func (a *Adapter) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := a.pool.Exec(ctx, a.purgeSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) Name() string {
	return a.config.GetType()
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}
