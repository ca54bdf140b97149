package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
)

const (
	dirMode  = 0o750
	fileMode = 0o600

	pingTimeout = 5 * time.Second
)

// DB is the IOC's SQLite handle. It embeds *sql.DB, so queries go straight
// through; ExecContext and WithTx add error context.
type DB struct {
	*sql.DB
	path string
}

// Open creates cfg.Path (and its directory) if needed and pings it.
//
// SQLite has a single writer, so the pool is pinned to one connection and
// callers queue on it rather than hitting SQLITE_BUSY.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirMode); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dataSourceName(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The audit trail holds operator names; keep it private.
	_ = os.Chmod(cfg.Path, fileMode) //nolint:errcheck // created lazily by the driver

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dataSourceName builds a go-sqlite3 DSN with busy timeout, foreign keys
// and, when enabled, WAL journaling.
func dataSourceName(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt((time.Duration(cfg.BusyTimeout)*time.Second).Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	if cfg.WALMode {
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Close releases the connection. Safe on a closed or zero DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck confirms the connection answers a query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// ExecContext runs a statement that returns no rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// WithTx runs fn in a transaction, committing if fn returns nil and rolling
// back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // fn's error wins
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
