package postgres

import (
	"fmt"
	"net/url"
	"strings"
)

// Config configures the PostgreSQL document store
type Config struct {
	// DSN is a postgres:// URL or a key=value connection string
	DSN string
	// Table defaults to "token_documents"
	Table string
	// MaxConns caps the pgx pool; zero keeps the pgx default
	MaxConns int32
}

func (c *Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("PostgreSQL DSN is required")
	}
	if strings.HasPrefix(c.DSN, "postgres://") || strings.HasPrefix(c.DSN, "postgresql://") {
		u, err := url.Parse(c.DSN)
		if err != nil {
			return fmt.Errorf("invalid PostgreSQL URL: %w", err)
		}
		if strings.TrimPrefix(u.Path, "/") == "" {
			return fmt.Errorf("PostgreSQL database name is required")
		}
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("MaxConns must not be negative, got %d", c.MaxConns)
	}
	if c.Table == "" {
		c.Table = "token_documents"
	}
	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}
