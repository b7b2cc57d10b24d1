// Package csv implements store.CacheStore as a directory of CSV tables.
//
// Layout below the cache root:
//
//	content/<escaped document path>.csv   per-document legacy tables
//	db_input/person.csv, company.csv       entity tables
//	db_input/person_to_person.csv, ...    relation buckets
package csv

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/normalize"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
)

var bucketFiles = map[common.Bucket]string{
	common.BucketPersonToPerson:   "person_to_person.csv",
	common.BucketPersonToCompany:  "person_to_company.csv",
	common.BucketCompanyToCompany: "company_to_company.csv",
}

var entityFiles = map[common.Category]string{
	common.CategoryPerson:  "person.csv",
	common.CategoryCompany: "company.csv",
}

type state struct {
	legacy   map[string][]common.ExtractedRelationship
	tables   normalize.Tables
	entities map[common.Category]map[string]common.Entity
}

func newState() *state {
	st := &state{
		legacy:   make(map[string][]common.ExtractedRelationship),
		tables:   normalize.NewTables(),
		entities: make(map[common.Category]map[string]common.Entity),
	}
	for _, c := range common.Categories {
		st.entities[c] = make(map[string]common.Entity)
	}
	return st
}

// clone copies every map. Legacy row slices are replaced, never mutated, so
// they are shared.
func (s *state) clone() *state {
	out := &state{
		legacy:   maps.Clone(s.legacy),
		tables:   make(normalize.Tables, len(s.tables)),
		entities: make(map[common.Category]map[string]common.Entity, len(s.entities)),
	}
	for b, t := range s.tables {
		out.tables[b] = maps.Clone(t)
	}
	for c, e := range s.entities {
		out.entities[c] = maps.Clone(e)
	}
	return out
}

func (s *state) upsertEntity(category common.Category, label string, at time.Time) {
	at = at.UTC()
	e, ok := s.entities[category][label]
	if !ok {
		s.entities[category][label] = common.Entity{
			ID: label, Label: label, Category: category, FirstSeen: at, LastSeen: at,
		}
		return
	}
	if at.Before(e.FirstSeen) {
		e.FirstSeen = at
	}
	if at.After(e.LastSeen) {
		e.LastSeen = at
	}
	s.entities[category][label] = e
}

// ensureEntities adds an entity for every endpoint in the legacy tables that
// is missing. It reports whether anything was added.
func (s *state) ensureEntities() bool {
	added := false
	for _, rows := range s.legacy {
		for _, r := range rows {
			for _, end := range [][2]string{
				{string(r.SourceCategory), r.SourceLabel},
				{string(r.TargetCategory), r.TargetLabel},
			} {
				cat := common.Category(end[0])
				if !cat.Valid() || end[1] == "" {
					continue
				}
				if _, ok := s.entities[cat][end[1]]; !ok {
					s.upsertEntity(cat, end[1], r.ExtractedAt)
					added = true
				}
			}
		}
	}
	return added
}

// Store is a CSV backed store.CacheStore.
type Store struct {
	root string

	mu sync.RWMutex
	st *state
}

var _ store.CacheStore = (*Store)(nil)

// Open loads the cache below root, creating it when absent. Buckets that
// diverge from the legacy tables, for example after an interrupted write,
// are recomputed and rewritten.
func Open(ctx context.Context, root string) (*Store, error) {
	for _, dir := range []string{"content", "db_input"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	s := &Store{root: root}
	if err := s.Recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) contentDir() string { return filepath.Join(s.root, "content") }
func (s *Store) inputDir() string   { return filepath.Join(s.root, "db_input") }

// TableFiles lists the merged bucket and entity tables in table order.
func (s *Store) TableFiles() []string {
	files := make([]string, 0, len(bucketFiles)+len(entityFiles))
	for _, bucket := range common.Buckets {
		files = append(files, filepath.Join(s.inputDir(), bucketFiles[bucket]))
	}
	for _, category := range common.Categories {
		files = append(files, filepath.Join(s.inputDir(), entityFiles[category]))
	}
	return files
}

func (s *Store) legacyFile(path string) string {
	return filepath.Join(s.contentDir(), url.PathEscape(path)+".csv")
}

// Recover reloads every table from disk and rewrites the buckets and entity
// tables if they do not match the legacy tables.
func (s *Store) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return err
	}

	recomputed := normalize.Recompute(st.legacy)
	bucketsDirty := !st.tables.Equal(recomputed)
	if bucketsDirty {
		logger.Warn("[Cache] Relation buckets diverge from document tables, recomputing")
		st.tables = recomputed
	}
	entitiesDirty := st.ensureEntities()

	if bucketsDirty || entitiesDirty {
		if err := s.flushDerived(st); err != nil {
			return err
		}
	}
	s.st = st
	logger.Debug("[Cache] Loaded", "documents", len(st.legacy), "root", s.root)
	return nil
}

func (s *Store) load(ctx context.Context) (*state, error) {
	st := newState()

	entries, err := os.ReadDir(s.contentDir())
	if err != nil {
		return nil, fmt.Errorf("list document tables: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		path, err := url.PathUnescape(strings.TrimSuffix(name, ".csv"))
		if err != nil {
			logger.Warn("[Cache] Skipping unreadable table name", "file", name, "err", err)
			continue
		}
		records, err := readRecords(filepath.Join(s.contentDir(), name), legacyHeader)
		if err != nil {
			return nil, err
		}
		rows, err := decodeLegacy(records)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		st.legacy[path] = rows
	}

	for bucket, file := range bucketFiles {
		records, err := readRecords(filepath.Join(s.inputDir(), file), bucketHeader)
		if err != nil {
			return nil, err
		}
		rows, err := decodeBucket(bucket, records)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for _, r := range rows {
			st.tables[bucket][r.Key()] = r
		}
	}

	for category, file := range entityFiles {
		records, err := readRecords(filepath.Join(s.inputDir(), file), entityHeader)
		if err != nil {
			return nil, err
		}
		rows, err := decodeEntities(category, records)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for _, e := range rows {
			st.entities[category][e.ID] = e
		}
	}
	return st, nil
}

// flushDerived writes every bucket and entity table of st.
func (s *Store) flushDerived(st *state) error {
	for _, bucket := range common.Buckets {
		file := filepath.Join(s.inputDir(), bucketFiles[bucket])
		if err := writeAtomic(file, bucketHeader, encodeBucket(st.tables[bucket].Rows())); err != nil {
			return fmt.Errorf("write %s: %w", bucketFiles[bucket], err)
		}
	}
	for _, category := range common.Categories {
		file := filepath.Join(s.inputDir(), entityFiles[category])
		if err := writeAtomic(file, entityHeader, encodeEntities(sortedEntities(st.entities[category]))); err != nil {
			return fmt.Errorf("write %s: %w", entityFiles[category], err)
		}
	}
	return nil
}

// flush persists the legacy tables of touched paths first, since they are
// the source of truth, followed by the derived tables.
func (s *Store) flush(st *state, touched map[string]struct{}) error {
	for _, path := range slices.Sorted(maps.Keys(touched)) {
		file := s.legacyFile(path)
		rows, ok := st.legacy[path]
		if !ok {
			if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove table of %s: %w", path, err)
			}
			continue
		}
		if err := writeAtomic(file, legacyHeader, encodeLegacy(rows)); err != nil {
			return fmt.Errorf("write table of %s: %w", path, err)
		}
	}
	return s.flushDerived(st)
}

// commit verifies st and makes it current. When writing fails the store is
// reloaded from disk so memory never runs ahead of the files.
func (s *Store) commit(ctx context.Context, st *state, touched map[string]struct{}) error {
	if !st.tables.Equal(normalize.Recompute(st.legacy)) {
		return store.ErrInconsistent
	}
	if err := s.flush(st, touched); err != nil {
		if loaded, lerr := s.load(ctx); lerr == nil {
			s.st = loaded
		} else {
			logger.Error("[Cache] Reload after failed write", "err", lerr)
		}
		return err
	}
	s.st = st
	return nil
}

// Update implements store.CacheStore.
func (s *Store) Update(ctx context.Context, fn func(tx store.CacheTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &cacheTx{st: s.st.clone(), touched: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(ctx, tx.st, tx.touched)
}

// RenameDocument implements store.CacheStore.
func (s *Store) RenameDocument(ctx context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.st.legacy[newPath]; exists {
		return fmt.Errorf("rename %s: %s already has a table", oldPath, newPath)
	}
	rows, ok := s.st.legacy[oldPath]
	if !ok {
		return fmt.Errorf("rename %s: no table", oldPath)
	}

	st := s.st.clone()
	moved := make([]common.ExtractedRelationship, len(rows))
	for i, r := range rows {
		r.SourceDocumentPath = newPath
		moved[i] = r
	}
	delete(st.legacy, oldPath)
	st.legacy[newPath] = moved
	st.tables = normalize.Recompute(st.legacy)

	return s.commit(ctx, st, map[string]struct{}{oldPath: {}, newPath: {}})
}

// ReadAll implements store.CacheStore.
func (s *Store) ReadAll(_ context.Context, bucket common.Bucket) ([]common.CanonicalRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.st.tables[bucket]
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	return t.Rows(), nil
}

// Entities implements store.CacheStore.
func (s *Store) Entities(_ context.Context, category common.Category) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.st.entities[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	return sortedEntities(e), nil
}

// Legacy implements store.CacheStore.
func (s *Store) Legacy(_ context.Context, path string) ([]common.ExtractedRelationship, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.st.legacy[path]
	return slices.Clone(rows), ok, nil
}

// LegacyPaths implements store.CacheStore.
func (s *Store) LegacyPaths(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.st.legacy)), nil
}

func sortedEntities(m map[string]common.Entity) []common.Entity {
	out := make([]common.Entity, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[id])
	}
	return out
}

type cacheTx struct {
	st      *state
	touched map[string]struct{}
}

func (tx *cacheTx) PurgeDocument(path string) error {
	if _, ok := tx.st.legacy[path]; !ok {
		return nil
	}
	delete(tx.st.legacy, path)
	tx.st.tables = normalize.Recompute(tx.st.legacy)
	tx.touched[path] = struct{}{}
	return nil
}

func (tx *cacheTx) PutLegacy(path string, rows []common.ExtractedRelationship) error {
	if path == "" {
		return fmt.Errorf("empty document path")
	}
	for _, r := range rows {
		if r.SourceDocumentPath != path {
			return fmt.Errorf("row from %q in table of %q", r.SourceDocumentPath, path)
		}
	}
	tx.st.legacy[path] = slices.Clone(rows)
	tx.touched[path] = struct{}{}
	return nil
}

func (tx *cacheTx) UpsertRelationship(row common.CanonicalRelationship) error {
	t, ok := tx.st.tables[row.Bucket]
	if !ok {
		return fmt.Errorf("unknown bucket %q", row.Bucket)
	}
	t.Merge(row)
	return nil
}

func (tx *cacheTx) UpsertEntity(category common.Category, label string, at time.Time) error {
	if !category.Valid() {
		return fmt.Errorf("unknown category %q", category)
	}
	if label == "" {
		return fmt.Errorf("empty entity label")
	}
	tx.st.upsertEntity(category, label, at)
	return nil
}
