// Package sqlite implements store.GraphStore on a SQLite file. Every Replace
// builds a complete database next to the active one and renames it into
// place, so a failed build never touches the graph being served.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "modernc.org/sqlite"
)

// GraphStore serves queries from the active database file.
type GraphStore struct {
	path string

	mu   sync.RWMutex
	db   *sql.DB
	info os.FileInfo
}

var _ store.GraphStore = (*GraphStore)(nil)

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}
	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	if err := addMissingColumns(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}

func addMissingColumns(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('entities')`)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		have[name] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range entityColumns {
		if have[col.name] {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE entities ADD COLUMN %s %s`, col.name, col.def)); err != nil {
			return err
		}
	}
	return nil
}

// Open opens the graph at path, creating an empty one if needed. Leftover
// build files from interrupted rebuilds are removed.
func Open(ctx context.Context, path string) (*GraphStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if stale, _ := filepath.Glob(path + ".build-*"); len(stale) > 0 {
		for _, f := range stale {
			_ = os.Remove(f)
		}
		logger.Warn("[Graph] Removed interrupted builds", "count", len(stale))
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &GraphStore{path: path, db: db, info: info}, nil
}

// Close closes the active database.
func (g *GraphStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}

// Replace writes p into a fresh database file and swaps it in.
func (g *GraphStore) Replace(ctx context.Context, p *common.Projection) error {
	if p == nil {
		return errors.New("nil projection")
	}
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	build := g.path + ".build-" + id

	if err := writeProjection(ctx, build, p); err != nil {
		_ = os.Remove(build)
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		_ = g.db.Close()
		g.db = nil
	}
	if err := os.Rename(build, g.path); err != nil {
		_ = os.Remove(build)
		if reopenErr := g.reopenLocked(ctx); reopenErr != nil {
			return errors.Join(err, reopenErr)
		}
		return fmt.Errorf("activate graph: %w", err)
	}
	return g.reopenLocked(ctx)
}

func (g *GraphStore) reopenLocked(ctx context.Context) error {
	db, err := openDB(ctx, g.path)
	if err != nil {
		return err
	}
	info, err := os.Stat(g.path)
	if err != nil {
		_ = db.Close()
		return err
	}
	g.db, g.info = db, info
	return nil
}

func writeProjection(ctx context.Context, path string, p *common.Projection) error {
	db, err := openDB(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range p.Entities {
		types, metadata, err := encodeEnrichment(e)
		if err != nil {
			return fmt.Errorf("encode entity %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (category, id, label, first_seen, last_seen, entity_types, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(e.Category), e.ID, e.Label, formatTime(e.FirstSeen), formatTime(e.LastSeen), types, metadata,
		); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
	}
	for _, d := range p.Documents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (path, label, content) VALUES (?, ?, ?)`,
			d.Path, d.Label, d.Content,
		); err != nil {
			return fmt.Errorf("insert document %s: %w", d.Path, err)
		}
	}
	for _, r := range p.Relationships {
		sc, tc := r.Bucket.Categories()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relationships (bucket, source_category, source_id, target_category, target_id, relationship, first_seen, last_seen, source_document)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(r.Bucket), string(sc), r.SourceID, string(tc), r.TargetID, r.Verb,
			formatTime(r.FirstSeen), formatTime(r.LastSeen), r.Origin,
		); err != nil {
			return fmt.Errorf("insert relationship %s-%s: %w", r.SourceID, r.TargetID, err)
		}
	}
	for _, ref := range p.References {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_references (category, entity_id, document_path) VALUES (?, ?, ?)`,
			string(ref.Category), ref.EntityID, ref.DocumentPath,
		); err != nil {
			return fmt.Errorf("insert reference %s: %w", ref.EntityID, err)
		}
	}
	for _, l := range p.Links {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_links (source_path, target_path) VALUES (?, ?)`,
			l.SourcePath, l.TargetPath,
		); err != nil {
			return fmt.Errorf("insert link %s: %w", l.SourcePath, err)
		}
	}
	for _, n := range p.Notes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entity_notes (category, entity_id, document_path) VALUES (?, ?, ?)`,
			string(n.Category), n.EntityID, n.DocumentPath,
		); err != nil {
			return fmt.Errorf("insert note %s: %w", n.EntityID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('built_at', ?)`, formatTime(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func encodeEnrichment(e common.Entity) (string, string, error) {
	types := e.Types
	if types == nil {
		types = []string{}
	}
	rawTypes, err := json.Marshal(types)
	if err != nil {
		return "", "", err
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	rawMeta, err := json.Marshal(metadata)
	if err != nil {
		return "", "", err
	}
	return string(rawTypes), string(rawMeta), nil
}

func decodeEnrichment(e *common.Entity, types, metadata string) error {
	if err := json.Unmarshal([]byte(types), &e.Types); err != nil {
		return fmt.Errorf("decode entity types of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return fmt.Errorf("decode metadata of %s: %w", e.ID, err)
	}
	if len(e.Types) == 0 {
		e.Types = nil
	}
	if len(e.Metadata) == 0 {
		e.Metadata = nil
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// reader returns the active database, reopening it when another process
// swapped the file.
func (g *GraphStore) reader(ctx context.Context) (*sql.DB, func(), error) {
	g.mu.RLock()
	current, err := os.Stat(g.path)
	if g.db != nil && err == nil && os.SameFile(current, g.info) {
		return g.db, g.mu.RUnlock, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	if g.db != nil {
		_ = g.db.Close()
		g.db = nil
	}
	if err := g.reopenLocked(ctx); err != nil {
		g.mu.Unlock()
		return nil, nil, err
	}
	g.mu.Unlock()
	return g.reader(ctx)
}

// Stats implements store.GraphStore.
func (g *GraphStore) Stats(ctx context.Context) (common.GraphStats, error) {
	db, done, err := g.reader(ctx)
	if err != nil {
		return common.GraphStats{}, err
	}
	defer done()

	var s common.GraphStats
	counts := []struct {
		dst   *int
		query string
	}{
		{&s.Persons, `SELECT COUNT(*) FROM entities WHERE category = 'Person'`},
		{&s.Companies, `SELECT COUNT(*) FROM entities WHERE category = 'Company'`},
		{&s.Documents, `SELECT COUNT(*) FROM documents`},
		{&s.Relationships, `SELECT COUNT(*) FROM relationships`},
		{&s.References, `SELECT COUNT(*) FROM entity_references`},
		{&s.Links, `SELECT COUNT(*) FROM document_links`},
		{&s.Notes, `SELECT COUNT(*) FROM entity_notes`},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return common.GraphStats{}, err
		}
	}
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'built_at'`).Scan(&s.BuiltAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return common.GraphStats{}, err
	}
	return s, nil
}

// Entities implements store.GraphStore. An empty category lists both.
func (g *GraphStore) Entities(ctx context.Context, category common.Category) ([]common.Entity, error) {
	db, done, err := g.reader(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	query := `SELECT category, id, label, first_seen, last_seen, entity_types, metadata FROM entities`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY category DESC, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		var e common.Entity
		var cat, first, last, types, metadata string
		if err := rows.Scan(&cat, &e.ID, &e.Label, &first, &last, &types, &metadata); err != nil {
			return nil, err
		}
		if err := decodeEnrichment(&e, types, metadata); err != nil {
			return nil, err
		}
		e.Category = common.Category(cat)
		e.FirstSeen, e.LastSeen = parseTime(first), parseTime(last)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Relationships implements store.GraphStore.
func (g *GraphStore) Relationships(ctx context.Context, entityID string) ([]common.CanonicalRelationship, error) {
	db, done, err := g.reader(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	rows, err := db.QueryContext(ctx,
		`SELECT bucket, source_id, target_id, relationship, first_seen, last_seen, source_document
		 FROM relationships WHERE source_id = ? OR target_id = ?
		 ORDER BY bucket, source_id, target_id`,
		entityID, entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.CanonicalRelationship
	for rows.Next() {
		var r common.CanonicalRelationship
		var bucket, first, last string
		if err := rows.Scan(&bucket, &r.SourceID, &r.TargetID, &r.Verb, &first, &last, &r.Origin); err != nil {
			return nil, err
		}
		r.Bucket = common.Bucket(bucket)
		r.FirstSeen, r.LastSeen = parseTime(first), parseTime(last)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Documents implements store.GraphStore.
func (g *GraphStore) Documents(ctx context.Context, entityID string) ([]common.DocumentNode, error) {
	db, done, err := g.reader(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT d.path, d.label, d.content
		 FROM entity_references r JOIN documents d ON d.path = r.document_path
		 WHERE r.entity_id = ? ORDER BY d.path`,
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.DocumentNode
	for rows.Next() {
		var d common.DocumentNode
		if err := rows.Scan(&d.Path, &d.Label, &d.Content); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
