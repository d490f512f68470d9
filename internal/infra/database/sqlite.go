// Package database opens the SQLite run history store.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// InitializeSQLite opens the run history database and applies the schema.
// dbPath is the database file (e.g. "~/.streambench/history.db"); ":memory:" is for tests.
// The returned pool holds a single connection.
func InitializeSQLite(ctx context.Context, dbPath string) (*sql.DB, error) {
	// 1. Create the directory
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// 2. Open (WAL + foreign keys)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 3. Single-connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// 4. Apply the schema
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		db.Close()
		return nil, fmt.Errorf("execute schema: %w", err)
	}

	// 5. Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
