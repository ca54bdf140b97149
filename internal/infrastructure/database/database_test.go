package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
)

// openTestDB creates a temporary database for testing.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestOpen_CreatesNestedPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "nested", "ioc.db")

	db, err := Open(context.Background(), config.DatabaseConfig{Path: dbPath, BusyTimeout: 1})
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck // test cleanup

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
	assert.Equal(t, dbPath, db.Path())
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, db.HealthCheck(ctx))
}

func TestClose_Twice(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Close())
	db.DB = nil
	assert.NoError(t, db.Close())
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE tx_test (id INTEGER PRIMARY KEY, value TEXT)")
	require.NoError(t, err)

	insert := func(value string) func(*sql.Tx) error {
		return func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", value)
			return err
		}
	}

	require.NoError(t, db.WithTx(ctx, insert("kept")))

	errBoom := errors.New("boom")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insert("gone")(tx); err != nil {
			return err
		}
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	var values []string
	rows, err := db.QueryContext(ctx, "SELECT value FROM tx_test")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		values = append(values, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"kept"}, values)
}

func TestDataSourceName(t *testing.T) {
	dsn := dataSourceName(config.DatabaseConfig{Path: "/var/lib/ioc.db", BusyTimeout: 2, WALMode: true})
	assert.True(t, strings.HasPrefix(dsn, "file:/var/lib/ioc.db?"), dsn)
	assert.Contains(t, dsn, "_busy_timeout=2000")
	assert.Contains(t, dsn, "_foreign_keys=on")
	assert.Contains(t, dsn, "_journal_mode=WAL")

	dsn = dataSourceName(config.DatabaseConfig{Path: "ioc.db"})
	assert.NotContains(t, dsn, "_journal_mode")
}

func TestExecContext_WrapsErrors(t *testing.T) {
	db := openTestDB(t)

	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executing query")
}
