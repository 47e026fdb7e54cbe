// Package catalog provides a SQLite-backed record of decompilation runs: the
// files and modules each run produced, module dependency edges, and search
// over module bodies with optional FTS5.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	input      TEXT NOT NULL,
	output     TEXT NOT NULL,
	success    INTEGER NOT NULL DEFAULT 0,
	state      TEXT NOT NULL DEFAULT '',
	declared   INTEGER NOT NULL DEFAULT 0,
	issues     TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS files (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	path   TEXT NOT NULL,
	kind   TEXT NOT NULL,
	size   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, path)
);

CREATE TABLE IF NOT EXISTS modules (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	path      TEXT NOT NULL,
	bundle    TEXT NOT NULL,
	module_id TEXT NOT NULL,
	size      INTEGER NOT NULL DEFAULT 0,
	entry     INTEGER NOT NULL DEFAULT 0,
	body      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, path)
);

CREATE TABLE IF NOT EXISTS deps (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(run_id, source, target)
);

CREATE INDEX IF NOT EXISTS idx_runs_output ON runs(output, created_at);
CREATE INDEX IF NOT EXISTS idx_modules_bundle ON modules(run_id, bundle);
CREATE INDEX IF NOT EXISTS idx_deps_target ON deps(run_id, target);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
