// Package sqlstore opens the sqlite databases backing the hierarchy store and
// the credential vault.
package sqlstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Memory is the path that selects a private in-memory database.
const Memory = ""

// Open opens or creates the database at path and applies schema. Files use
// WAL journaling with synchronous=NORMAL; foreign keys are always enforced.
func Open(path, schema string) (*sql.DB, error) {
	dsn := ":memory:?_foreign_keys=on"
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		dsn = path + "?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection: an in-memory database exists per connection and
	// every caller is serialised by its owner.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// Unix converts t to the integer seconds stored in the databases. The zero
// time is stored as 0.
func Unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// FromUnix reverses Unix.
func FromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
