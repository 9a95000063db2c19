package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// schemaVersion is bumped whenever the layout below changes.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	is_overview INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (workspace_id, name_key),
	FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS tabs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	snapshot_ref TEXT,
	last_active INTEGER NOT NULL,
	position INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace_id);
CREATE INDEX IF NOT EXISTS idx_tabs_session ON tabs(session_id, position);
`

const (
	metaSchemaVersion = "schema_version"
	metaVerifier      = "verifier"
)

// migrate records the schema version. A store written
// by a newer release is refused.
func migrate(db *sql.DB) error {
	var stored string
	err := db.QueryRow("SELECT value FROM meta WHERE key = ?", metaSchemaVersion).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	default:
		v, convErr := strconv.Atoi(stored)
		if convErr != nil {
			return fmt.Errorf("schema version %q: %w", stored, convErr)
		}
		if v > schemaVersion {
			return fmt.Errorf("schema version %d is newer than supported %d", v, schemaVersion)
		}
	}

	_, err = db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaSchemaVersion, strconv.Itoa(schemaVersion))
	if err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}
