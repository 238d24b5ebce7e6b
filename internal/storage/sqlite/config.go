package sqlite

import "fmt"

// Config configures the sqlite document store
type Config struct {
	// DatabasePath is a file path or a sqlite URI such as "file::memory:?cache=shared"
	DatabasePath string
	// Table defaults to "token_documents"
	Table string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Table == "" {
		c.Table = "token_documents"
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./line_flex_bridge.db",
		Table:        "token_documents",
	}
}
