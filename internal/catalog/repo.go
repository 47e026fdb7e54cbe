package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/models"
)

// RunRow represents a row in the runs table.
type RunRow struct {
	ID        string         `json:"id"`
	Input     string         `json:"input"`
	Output    string         `json:"output"`
	Success   bool           `json:"success"`
	State     string         `json:"state"`
	Declared  int            `json:"declared"`
	Issues    []models.Issue `json:"issues"`
	CreatedAt time.Time      `json:"created_at"`
}

// ModuleRow represents one recorded module. Deps are output paths.
type ModuleRow struct {
	RunID    string   `json:"run_id"`
	Path     string   `json:"path"`
	Bundle   string   `json:"bundle"`
	ModuleID string   `json:"module_id"`
	Size     int      `json:"size"`
	Entry    bool     `json:"entry"`
	Deps     []string `json:"deps"`
	Body     string   `json:"-"`
}

// ModuleFilter selects modules of one run.
type ModuleFilter struct {
	RunID  string
	Bundle string // optional
	Limit  int
	Offset int
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path     string `json:"path"`
	ModuleID string `json:"module_id"`
	Snippet  string `json:"snippet"`
}

// GraphNode is a module in the dependency graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Entry bool   `json:"entry,omitempty"`
}

// GraphLink is a dependency edge between modules.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// RecordRun stores a run outcome, its files and its modules within a
// transaction.
func (db *DB) RecordRun(id string, at time.Time, out models.RunOutcome, modules []ModuleRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	issues := out.Issues
	if issues == nil {
		issues = []models.Issue{}
	}
	issuesJSON, _ := json.Marshal(issues)

	_, err = tx.Exec(`
		INSERT INTO runs (id, input, output, success, state, declared, issues, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, out.Input, out.OutputPath, out.Success, out.State, out.Declared, string(issuesJSON), at.UTC())
	if err != nil {
		return fmt.Errorf("catalog: insert run: %w", err)
	}

	if len(out.Files) > 0 {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO files (run_id, path, kind, size) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare file insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range out.Files {
			if _, err := stmt.Exec(id, f.Path, string(f.Kind), f.Size); err != nil {
				return fmt.Errorf("catalog: insert file: %w", err)
			}
		}
	}

	if len(modules) > 0 {
		modStmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO modules (run_id, path, bundle, module_id, size, entry, body)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare module insert: %w", err)
		}
		defer modStmt.Close()
		depStmt, err := tx.Prepare(`INSERT OR IGNORE INTO deps (run_id, source, target) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare dep insert: %w", err)
		}
		defer depStmt.Close()

		for _, m := range modules {
			if _, err := modStmt.Exec(id, m.Path, m.Bundle, m.ModuleID, m.Size, m.Entry, m.Body); err != nil {
				return fmt.Errorf("catalog: insert module: %w", err)
			}
			if err := ftsUpsert(tx, id, m.Path, m.ModuleID, m.Body); err != nil {
				return err
			}
			for _, target := range m.Deps {
				if _, err := depStmt.Exec(id, m.Path, target); err != nil {
					return fmt.Errorf("catalog: insert dep: %w", err)
				}
			}
		}
	}

	return tx.Commit()
}

// DeleteRun removes a run and everything recorded for it.
func (db *DB) DeleteRun(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	_, _ = tx.Exec(`DELETE FROM deps WHERE run_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM modules WHERE run_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM files WHERE run_id = ?`, id)
	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("catalog: delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit()
}

const runColumns = `id, input, output, success, state, declared, issues, created_at`

func scanRun(row interface{ Scan(...any) error }) (*RunRow, error) {
	var (
		r      RunRow
		issues string
	)
	if err := row.Scan(&r.ID, &r.Input, &r.Output, &r.Success, &r.State, &r.Declared, &issues, &r.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(issues), &r.Issues)
	return &r, nil
}

// Run returns the run with the given id.
func (db *DB) Run(id string) (*RunRow, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recent run that wrote into output.
func (db *DB) LatestRun(output string) (*RunRow, error) {
	r, err := scanRun(db.conn.QueryRow(`
		SELECT `+runColumns+` FROM runs
		WHERE output = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, output))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: latest run: %w", err)
	}
	return r, nil
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Files returns the files a run left in its output tree, sorted by path.
func (db *DB) Files(runID string) ([]models.FileSummary, error) {
	rows, err := db.conn.Query(`SELECT path, kind, size FROM files WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("catalog: files: %w", err)
	}
	defer rows.Close()

	var out []models.FileSummary
	for rows.Next() {
		var (
			f    models.FileSummary
			kind string
		)
		if err := rows.Scan(&f.Path, &kind, &f.Size); err != nil {
			return nil, err
		}
		f.Kind = models.Kind(kind)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Modules returns a page of modules sorted by path and the total count.
func (db *DB) Modules(f ModuleFilter) ([]ModuleRow, int, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	where := `WHERE run_id = ?`
	args := []any{f.RunID}
	if f.Bundle != "" {
		where += ` AND bundle = ?`
		args = append(args, f.Bundle)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM modules `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count modules: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT run_id, path, bundle, module_id, size, entry FROM modules `+where+`
		ORDER BY path LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: modules: %w", err)
	}
	defer rows.Close()

	var out []ModuleRow
	for rows.Next() {
		var m ModuleRow
		if err := rows.Scan(&m.RunID, &m.Path, &m.Bundle, &m.ModuleID, &m.Size, &m.Entry); err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		deps, err := db.targets(out[i].RunID, out[i].Path)
		if err != nil {
			return nil, 0, err
		}
		out[i].Deps = deps
	}
	return out, total, nil
}

// Module returns one module including its body.
func (db *DB) Module(runID, path string) (*ModuleRow, error) {
	var m ModuleRow
	err := db.conn.QueryRow(`
		SELECT run_id, path, bundle, module_id, size, entry, body FROM modules
		WHERE run_id = ? AND path = ?`, runID, path).
		Scan(&m.RunID, &m.Path, &m.Bundle, &m.ModuleID, &m.Size, &m.Entry, &m.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: module: %w", err)
	}
	if m.Deps, err = db.targets(runID, path); err != nil {
		return nil, err
	}
	return &m, nil
}

func (db *DB) targets(runID, source string) ([]string, error) {
	return db.column(`SELECT target FROM deps WHERE run_id = ? AND source = ? ORDER BY target`, runID, source)
}

// Dependents returns the modules of a run that depend on path.
func (db *DB) Dependents(runID, path string) ([]string, error) {
	return db.column(`SELECT source FROM deps WHERE run_id = ? AND target = ? ORDER BY source`, runID, path)
}

func (db *DB) column(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Graph returns the module dependency graph of a run. Edges to paths that
// are not modules of the run are dropped.
func (db *DB) Graph(runID string) ([]GraphNode, []GraphLink, error) {
	rows, err := db.conn.Query(`SELECT path, module_id, entry FROM modules WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: graph nodes: %w", err)
	}
	defer rows.Close()

	nodes := []GraphNode{}
	known := make(map[string]struct{})
	for rows.Next() {
		var n GraphNode
		if err := rows.Scan(&n.ID, &n.Label, &n.Entry); err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n)
		known[n.ID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	linkRows, err := db.conn.Query(`SELECT source, target FROM deps WHERE run_id = ? ORDER BY source, target`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: graph links: %w", err)
	}
	defer linkRows.Close()

	links := []GraphLink{}
	for linkRows.Next() {
		var l GraphLink
		if err := linkRows.Scan(&l.Source, &l.Target); err != nil {
			return nil, nil, err
		}
		if _, ok := known[l.Target]; ok {
			links = append(links, l)
		}
	}
	return nodes, links, linkRows.Err()
}
