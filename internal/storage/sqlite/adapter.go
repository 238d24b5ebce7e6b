// Package sqlite implements storage.DocumentStore on an embedded SQLite database.
// Expiry is enforced at read time from the expires_at column; PurgeExpired
// removes dead rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"line-flex-bridge/internal/storage"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Adapter struct {
	db     *sql.DB
	config *Config
	now    func() time.Time

	fetchSQL  string
	createSQL string
	updateSQL string
	purgeSQL  string
}

var _ storage.DocumentStore = (*Adapter)(nil)

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}
	if !tableNamePattern.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid SQLite config: bad table name %q", config.Table)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
		now:    time.Now,
	}
	adapter.prepareStatements()

	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) prepareStatements() {
	t := a.config.Table
	a.fetchSQL = fmt.Sprintf(
		`SELECT data, expires_at FROM %s WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`, t)
	a.createSQL = fmt.Sprintf(
		`INSERT INTO %[1]s (key, data, expires_at, updated_at) VALUES (?, ?, NULL, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = NULL, updated_at = excluded.updated_at
		WHERE %[1]s.expires_at IS NOT NULL AND %[1]s.expires_at <= ?`, t)
	a.updateSQL = fmt.Sprintf(
		`INSERT INTO %s (key, data, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at, updated_at = excluded.updated_at`, t)
	a.purgeSQL = fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`, t)
}

func (a *Adapter) migrate() error {
	_, err := a.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expires_at INTEGER,
		updated_at INTEGER NOT NULL
	)`, a.config.Table))
	return err
}

func (a *Adapter) Fetch(ctx context.Context, key string) (*storage.Document, error) {
	var (
		data      []byte
		expiresAt sql.NullInt64
	)
	err := a.db.QueryRowContext(ctx, a.fetchSQL, key, a.now().UnixMilli()).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", key, err)
	}

	doc := &storage.Document{Key: key, Data: data}
	if expiresAt.Valid {
		doc.ExpiresAt = time.UnixMilli(expiresAt.Int64)
	}
	return doc, nil
}

// Create inserts the document, reclaiming the row if the previous one has expired
func (a *Adapter) Create(ctx context.Context, key string, data []byte) (*storage.Document, error) {
	now := a.now().UnixMilli()
	result, err := a.db.ExecContext(ctx, a.createSQL, key, data, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to create document %s: %w", key, err)
	}
	if affected == 0 {
		return nil, storage.ErrAlreadyExists
	}

	return &storage.Document{Key: key, Data: data}, nil
}

// Update upserts the document. A non-positive ttl stores it without expiry.
func (a *Adapter) Update(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := a.now()
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}

	if _, err := a.db.ExecContext(ctx, a.updateSQL, key, data, expiresAt, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to update document %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes rows whose TTL has passed and returns how many were removed
func (a *Adapter) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := a.db.ExecContext(ctx, a.purgeSQL, a.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired documents: %w", err)
	}
	return result.RowsAffected()
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) Name() string {
	return a.config.GetType()
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
