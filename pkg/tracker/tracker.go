// Package tracker remembers the fingerprint and outcome of every processed
// document and decides which documents need to be extracted again.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"

	_ "modernc.org/sqlite"
)

// Decision is the ChangeDetector outcome for one document.
type Decision int

const (
	Skip Decision = iota
	Reprocess
	DeleteAndReprocess
)

func (d Decision) String() string {
	switch d {
	case Reprocess:
		return "reprocess"
	case DeleteAndReprocess:
		return "delete+reprocess"
	default:
		return "skip"
	}
}

// ChangeType is the kind of an entry in the change log.
type ChangeType string

const (
	ChangeCreated   ChangeType = "created"
	ChangeModified  ChangeType = "modified"
	ChangeDeleted   ChangeType = "deleted"
	ChangeMoved     ChangeType = "moved"
	ChangeProcessed ChangeType = "processed"
)

// Change is one audit log entry.
type Change struct {
	Path    string     `json:"path"`
	Type    ChangeType `json:"type"`
	OldHash string     `json:"old_hash,omitempty"`
	NewHash string     `json:"new_hash,omitempty"`
	Detail  string     `json:"detail,omitempty"`
	At      time.Time  `json:"at"`
}

// Tracker is backed by a SQLite database in the state directory.
type Tracker struct {
	db *sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		chunks_total INTEGER NOT NULL DEFAULT 0,
		chunks_succeeded INTEGER NOT NULL DEFAULT 0,
		generation INTEGER NOT NULL DEFAULT 1,
		processed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chunk_failures (
		path TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		class TEXT NOT NULL,
		message TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		failed_at TEXT NOT NULL,
		PRIMARY KEY (path, chunk_index)
	)`,
	`CREATE TABLE IF NOT EXISTS changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		change_type TEXT NOT NULL,
		old_hash TEXT NOT NULL DEFAULT '',
		new_hash TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_changes_path ON changes(path)`,
}

// Open opens or creates the tracker database at path.
func Open(ctx context.Context, path string) (*Tracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening tracker database: %w", err)
	}
	// a single connection serializes writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to tracker database: %w", err)
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &Tracker{db: db}, nil
}

func (t *Tracker) Close() error {
	return t.db.Close()
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	ts, _ := time.Parse(time.RFC3339, s)
	return ts
}

// Decide compares doc against the stored fingerprint. With retryFailed, an
// unchanged document whose last run was partial or failed is reprocessed.
func (t *Tracker) Decide(ctx context.Context, doc common.Document, retryFailed bool) (Decision, error) {
	var hash, state string
	err := t.db.QueryRowContext(ctx,
		`SELECT content_hash, status FROM documents WHERE path = ?`, doc.Path,
	).Scan(&hash, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return Reprocess, nil
	}
	if err != nil {
		return Skip, fmt.Errorf("look up %s: %w", doc.Path, err)
	}
	return Decide(hash, common.DocumentState(state), doc.ContentHash, retryFailed), nil
}

// Decide is the pure decision for a tracked document. An empty prevHash means
// the document was never seen.
func Decide(prevHash string, prevState common.DocumentState, hash string, retryFailed bool) Decision {
	switch {
	case prevHash == "":
		return Reprocess
	case prevHash != hash:
		return DeleteAndReprocess
	case retryFailed && (prevState == common.DocumentPartial || prevState == common.DocumentFailed):
		return DeleteAndReprocess
	default:
		return Skip
	}
}

// Record stores the outcome of one run and replaces the document's failures.
func (t *Tracker) Record(ctx context.Context, status common.DocumentStatus) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var oldHash string
	err = tx.QueryRowContext(ctx, `SELECT content_hash FROM documents WHERE path = ?`, status.Path).Scan(&oldHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	change := ChangeModified
	if errors.Is(err, sql.ErrNoRows) {
		change = ChangeCreated
	} else if oldHash == status.ContentHash {
		change = ChangeProcessed
	}

	processedAt := status.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (path, content_hash, status, chunks_total, chunks_succeeded, generation, processed_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			status = excluded.status,
			chunks_total = excluded.chunks_total,
			chunks_succeeded = excluded.chunks_succeeded,
			generation = documents.generation + 1,
			processed_at = excluded.processed_at`,
		status.Path, status.ContentHash, string(status.State),
		status.ChunksTotal, status.ChunksSucceeded, formatTime(processedAt),
	); err != nil {
		return fmt.Errorf("record %s: %w", status.Path, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_failures WHERE path = ?`, status.Path); err != nil {
		return err
	}
	for _, f := range status.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunk_failures (path, chunk_index, class, message, attempts, failed_at) VALUES (?, ?, ?, ?, ?, ?)`,
			status.Path, f.ChunkIndex, f.Class, f.Message, f.Attempts, formatTime(f.At),
		); err != nil {
			return fmt.Errorf("record failure %s#%d: %w", status.Path, f.ChunkIndex, err)
		}
	}

	if err := logChange(ctx, tx, Change{
		Path:    status.Path,
		Type:    change,
		OldHash: oldHash,
		NewHash: status.ContentHash,
		Detail:  string(status.State) + ": " + status.Summary(),
		At:      processedAt,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Forget drops a deleted document.
func (t *Tracker) Forget(ctx context.Context, path string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var oldHash string
	_ = tx.QueryRowContext(ctx, `SELECT content_hash FROM documents WHERE path = ?`, path).Scan(&oldHash)

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("forget %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_failures WHERE path = ?`, path); err != nil {
		return err
	}
	if err := logChange(ctx, tx, Change{Path: path, Type: ChangeDeleted, OldHash: oldHash, At: time.Now()}); err != nil {
		return err
	}
	return tx.Commit()
}

// Rename moves the record of oldPath to newPath.
func (t *Tracker) Rename(ctx context.Context, oldPath, newPath string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, newPath); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_failures WHERE path = ?`, newPath); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE documents SET path = ? WHERE path = ?`, newPath, oldPath)
	if err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rename %s: not tracked", oldPath)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chunk_failures SET path = ? WHERE path = ?`, newPath, oldPath); err != nil {
		return err
	}
	if err := logChange(ctx, tx, Change{Path: newPath, Type: ChangeMoved, Detail: "from " + oldPath, At: time.Now()}); err != nil {
		return err
	}
	return tx.Commit()
}

func logChange(ctx context.Context, tx *sql.Tx, c Change) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO changes (path, change_type, old_hash, new_hash, detail, at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Path, string(c.Type), c.OldHash, c.NewHash, c.Detail, formatTime(c.At),
	)
	if err != nil {
		return fmt.Errorf("log change for %s: %w", c.Path, err)
	}
	return nil
}

// Hashes returns the stored fingerprint of every tracked document.
func (t *Tracker) Hashes(ctx context.Context) (map[string]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT path, content_hash FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		out[path] = hash
	}
	return out, rows.Err()
}

// Status returns the last recorded status of path.
func (t *Tracker) Status(ctx context.Context, path string) (common.DocumentStatus, bool, error) {
	statuses, err := t.query(ctx, `WHERE path = ?`, path)
	if err != nil || len(statuses) == 0 {
		return common.DocumentStatus{}, false, err
	}
	return statuses[0], true, nil
}

// Statuses returns every tracked document ordered by path, optionally
// filtered by state.
func (t *Tracker) Statuses(ctx context.Context, state common.DocumentState) ([]common.DocumentStatus, error) {
	if state == "" {
		return t.query(ctx, "")
	}
	return t.query(ctx, `WHERE status = ?`, string(state))
}

func (t *Tracker) query(ctx context.Context, where string, args ...any) ([]common.DocumentStatus, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT path, content_hash, status, chunks_total, chunks_succeeded, processed_at FROM documents `+where+` ORDER BY path`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.DocumentStatus
	for rows.Next() {
		var s common.DocumentStatus
		var state, at string
		if err := rows.Scan(&s.Path, &s.ContentHash, &state, &s.ChunksTotal, &s.ChunksSucceeded, &at); err != nil {
			return nil, err
		}
		s.State = common.DocumentState(state)
		s.ProcessedAt = parseTime(at)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		failures, err := t.Failures(ctx, out[i].Path)
		if err != nil {
			return nil, err
		}
		out[i].Failures = failures
	}
	return out, nil
}

// Failures lists the failed chunks of path from its last run.
func (t *Tracker) Failures(ctx context.Context, path string) ([]common.ChunkFailure, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT chunk_index, class, message, attempts, failed_at FROM chunk_failures WHERE path = ? ORDER BY chunk_index`,
		path,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ChunkFailure
	for rows.Next() {
		f := common.ChunkFailure{DocumentPath: path}
		var at string
		if err := rows.Scan(&f.ChunkIndex, &f.Class, &f.Message, &f.Attempts, &at); err != nil {
			return nil, err
		}
		f.At = parseTime(at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Changes returns the newest change log entries first. A limit of zero
// returns everything.
func (t *Tracker) Changes(ctx context.Context, limit int) ([]Change, error) {
	query := `SELECT path, change_type, old_hash, new_hash, detail, at FROM changes ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var c Change
		var typ, at string
		if err := rows.Scan(&c.Path, &typ, &c.OldHash, &c.NewHash, &c.Detail, &at); err != nil {
			return nil, err
		}
		c.Type = ChangeType(typ)
		c.At = parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}
