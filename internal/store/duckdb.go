// Package store keeps the local job ledger (exports and deployments) in DuckDB.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Register DuckDB driver
)

// =============================================================================
// DUCKDB CLIENT
// =============================================================================

// Options tunes the embedded database.
type Options struct {
	Threads       int           // Number of threads for DuckDB (0 = default)
	MemoryLimitMB int           // Memory limit in MB (0 = default)
	Timeout       time.Duration // Open/ping timeout (0 = no timeout)
}

// Client owns the DuckDB connection.
type Client struct {
	db   *sql.DB
	opts Options
}

// Option configures the client.
type Option func(*Client)

// WithThreads sets the number of DuckDB threads.
func WithThreads(n int) Option {
	return func(c *Client) {
		c.opts.Threads = n
	}
}

// WithMemoryLimit sets the DuckDB memory limit in MB.
func WithMemoryLimit(mb int) Option {
	return func(c *Client) {
		c.opts.MemoryLimitMB = mb
	}
}

// WithTimeout bounds the initial ping.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.opts.Timeout = d
	}
}

// Open opens the ledger database. An empty path opens an in-memory database.
func Open(path string, opts ...Option) (*Client, error) {
	client := &Client{}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	ctx := context.Background()
	if client.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.opts.Timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	// One writer; an in-memory database also lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	client.db = db

	if err := client.configure(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure duckdb: %w", err)
	}
	return client, nil
}

func (c *Client) configure() error {
	if c.opts.Threads > 0 {
		if _, err := c.db.Exec(fmt.Sprintf("PRAGMA threads=%d", c.opts.Threads)); err != nil {
			return fmt.Errorf("setting threads: %w", err)
		}
	}
	if c.opts.MemoryLimitMB > 0 {
		if _, err := c.db.Exec(fmt.Sprintf("PRAGMA memory_limit='%dMB'", c.opts.MemoryLimitMB)); err != nil {
			return fmt.Errorf("setting memory limit: %w", err)
		}
	}
	return nil
}

// DB returns the underlying sql.DB.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// Close releases database resources.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
