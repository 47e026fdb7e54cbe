//go:build sqlite_fts5

package catalog

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS modules_fts USING fts5(
			run_id UNINDEXED,
			path UNINDEXED,
			module_id,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, runID, path, moduleID, body string) error {
	_, _ = tx.Exec(`DELETE FROM modules_fts WHERE run_id = ? AND path = ?`, runID, path)
	_, err := tx.Exec(`INSERT INTO modules_fts (run_id, path, module_id, body) VALUES (?, ?, ?, ?)`,
		runID, path, moduleID, body)
	if err != nil {
		return fmt.Errorf("catalog: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, runID string) {
	_, _ = tx.Exec(`DELETE FROM modules_fts WHERE run_id = ?`, runID)
}

// Search performs an FTS5 full-text search over the module bodies of a run.
func (db *DB) Search(runID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT path,
		       module_id,
		       snippet(modules_fts, 3, '<b>', '</b>', '...', 32)
		FROM modules_fts
		WHERE modules_fts MATCH ? AND run_id = ?
		ORDER BY rank
		LIMIT ?
	`, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.ModuleID, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
