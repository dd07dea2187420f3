package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register sqlite driver
)

// SQLiteDB is the embedded store used by single-host and desktop deployments
type SQLiteDB struct {
	DB *sql.DB
}

// OpenSQLite opens or creates the database file and applies the given schema
func OpenSQLite(ctx context.Context, path string, schema string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// SQLite has a single writer; one connection serializes upserts instead
	// of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if schema != "" {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteDB{DB: db}, nil
}

// Close closes the database
func (s *SQLiteDB) Close() error {
	return s.DB.Close()
}

// Health checks the database connection
func (s *SQLiteDB) Health(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
