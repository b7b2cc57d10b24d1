package csv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/normalize"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rel(doc string, sc common.Category, s, verb string, tc common.Category, tl string, at time.Time) common.ExtractedRelationship {
	return common.ExtractedRelationship{
		SourceCategory: sc, SourceLabel: s, Verb: verb,
		TargetCategory: tc, TargetLabel: tl,
		SourceDocumentPath: doc, ExtractedAt: at,
	}
}

// mergeDocument replaces the contribution of one document the way the
// pipeline does.
func mergeDocument(s store.CacheStore, path string, rows []common.ExtractedRelationship) error {
	return s.Update(context.Background(), func(tx store.CacheTx) error {
		if err := tx.PurgeDocument(path); err != nil {
			return err
		}
		if err := tx.PutLegacy(path, rows); err != nil {
			return err
		}
		for _, r := range rows {
			if err := tx.UpsertEntity(r.SourceCategory, r.SourceLabel, r.ExtractedAt); err != nil {
				return err
			}
			if err := tx.UpsertEntity(r.TargetCategory, r.TargetLabel, r.ExtractedAt); err != nil {
				return err
			}
			if c, ok := normalize.Canonicalize(r); ok {
				if err := tx.UpsertRelationship(c); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func openStore(t *testing.T, root string) *Store {
	t.Helper()
	s, err := Open(context.Background(), root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func mustRead(t *testing.T, s *Store, b common.Bucket) []common.CanonicalRelationship {
	t.Helper()
	rows, err := s.ReadAll(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestStore_MergeAndReload(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)

	rows := []common.ExtractedRelationship{
		rel("notes/a.md", common.CategoryPerson, "Bob", "knows", common.CategoryPerson, "Alice", t0),
		rel("notes/a.md", common.CategoryCompany, "Acme", "employs", common.CategoryPerson, "Alice", t0),
	}
	if err := mergeDocument(s, "notes/a.md", rows); err != nil {
		t.Fatalf("merge: %v", err)
	}

	p2p := mustRead(t, s, common.BucketPersonToPerson)
	if len(p2p) != 1 || p2p[0].SourceID != "Alice" || p2p[0].TargetID != "Bob" {
		t.Fatalf("unexpected PersonToPerson %+v", p2p)
	}
	p2c := mustRead(t, s, common.BucketPersonToCompany)
	if len(p2c) != 1 || p2c[0].SourceID != "Alice" || p2c[0].TargetID != "Acme" || p2c[0].Verb != "employs" {
		t.Fatalf("unexpected PersonToCompany %+v", p2c)
	}

	for _, f := range []string{
		"content/notes%2Fa.md.csv",
		"db_input/person.csv",
		"db_input/company.csv",
		"db_input/person_to_person.csv",
		"db_input/person_to_company.csv",
		"db_input/company_to_company.csv",
	} {
		if _, err := os.Stat(filepath.Join(root, f)); err != nil {
			t.Fatalf("expected %s: %v", f, err)
		}
	}

	reopened := openStore(t, root)
	if got := mustRead(t, reopened, common.BucketPersonToCompany); len(got) != 1 || !got[0].FirstSeen.Equal(t0) {
		t.Fatalf("reload lost rows: %+v", got)
	}
	legacy, ok, _ := reopened.Legacy(context.Background(), "notes/a.md")
	if !ok || len(legacy) != 2 || legacy[1].SourceCategory != common.CategoryCompany {
		t.Fatalf("unexpected legacy %+v", legacy)
	}
	persons, _ := reopened.Entities(context.Background(), common.CategoryPerson)
	if len(persons) != 2 || persons[0].ID != "Alice" {
		t.Fatalf("unexpected persons %+v", persons)
	}
}

func TestStore_ReprocessPurgesStaleRows(t *testing.T) {
	s := openStore(t, t.TempDir())

	old := []common.ExtractedRelationship{
		rel("a.md", common.CategoryPerson, "Alice", "knows", common.CategoryPerson, "Bob", t0),
	}
	if err := mergeDocument(s, "a.md", old); err != nil {
		t.Fatal(err)
	}
	fresh := []common.ExtractedRelationship{
		rel("a.md", common.CategoryPerson, "Alice", "knows", common.CategoryPerson, "Carol", t0.Add(time.Hour)),
	}
	if err := mergeDocument(s, "a.md", fresh); err != nil {
		t.Fatal(err)
	}

	p2p := mustRead(t, s, common.BucketPersonToPerson)
	if len(p2p) != 1 || p2p[0].TargetID != "Carol" {
		t.Fatalf("expected only the fresh row, got %+v", p2p)
	}

	// entities are never deleted
	persons, _ := s.Entities(context.Background(), common.CategoryPerson)
	if len(persons) != 3 {
		t.Fatalf("expected Bob to stay in the entity table, got %+v", persons)
	}
}

func TestStore_SharedPairSurvivesPurgeOfOneDocument(t *testing.T) {
	s := openStore(t, t.TempDir())

	a := []common.ExtractedRelationship{rel("a.md", common.CategoryPerson, "Alice", "knows", common.CategoryPerson, "Bob", t0)}
	b := []common.ExtractedRelationship{rel("b.md", common.CategoryPerson, "Bob", "mentors", common.CategoryPerson, "Alice", t0.Add(time.Minute))}
	if err := mergeDocument(s, "a.md", a); err != nil {
		t.Fatal(err)
	}
	if err := mergeDocument(s, "b.md", b); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, s, common.BucketPersonToPerson); len(got) != 1 || got[0].Verb != "mentors" || !got[0].FirstSeen.Equal(t0) {
		t.Fatalf("unexpected merged row %+v", got)
	}

	if err := s.Update(context.Background(), func(tx store.CacheTx) error {
		return tx.PurgeDocument("b.md")
	}); err != nil {
		t.Fatal(err)
	}
	got := mustRead(t, s, common.BucketPersonToPerson)
	if len(got) != 1 || got[0].Verb != "knows" || got[0].Origin != "a.md" {
		t.Fatalf("expected a.md's row to remain, got %+v", got)
	}
	paths, _ := s.LegacyPaths(context.Background())
	if len(paths) != 1 || paths[0] != "a.md" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestStore_FailedUpdateLeavesNoTrace(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	boom := errors.New("boom")

	err := s.Update(context.Background(), func(tx store.CacheTx) error {
		rows := []common.ExtractedRelationship{rel("a.md", common.CategoryPerson, "Alice", "knows", common.CategoryPerson, "Bob", t0)}
		if err := tx.PutLegacy("a.md", rows); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if paths, _ := s.LegacyPaths(context.Background()); len(paths) != 0 {
		t.Fatalf("expected no documents, got %v", paths)
	}
	if _, err := os.Stat(filepath.Join(root, "content", "a.md.csv")); !os.IsNotExist(err) {
		t.Fatalf("expected no table on disk, got %v", err)
	}
}

func TestStore_RejectsInconsistentUpdate(t *testing.T) {
	s := openStore(t, t.TempDir())

	err := s.Update(context.Background(), func(tx store.CacheTx) error {
		return tx.UpsertRelationship(common.CanonicalRelationship{
			Bucket: common.BucketPersonToPerson, SourceID: "A", TargetID: "B", Verb: "knows",
			FirstSeen: t0, LastSeen: t0, Origin: "ghost.md",
		})
	})
	if !errors.Is(err, store.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}

	err = s.Update(context.Background(), func(tx store.CacheTx) error {
		return tx.PutLegacy("a.md", []common.ExtractedRelationship{
			rel("b.md", common.CategoryPerson, "A", "knows", common.CategoryPerson, "B", t0),
		})
	})
	if err == nil {
		t.Fatal("expected a foreign row to be rejected")
	}
}

func TestStore_RecoverRebuildsBuckets(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	rows := []common.ExtractedRelationship{rel("a.md", common.CategoryCompany, "Initech", "partners_with", common.CategoryCompany, "Acme", t0)}
	if err := mergeDocument(s, "a.md", rows); err != nil {
		t.Fatal(err)
	}

	// simulate a crash after the legacy table was written
	bucket := filepath.Join(root, "db_input", "company_to_company.csv")
	if err := os.WriteFile(bucket, []byte(strings.Join(bucketHeader, ",")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "db_input", "company.csv")); err != nil {
		t.Fatal(err)
	}

	reopened := openStore(t, root)
	got := mustRead(t, reopened, common.BucketCompanyToCompany)
	if len(got) != 1 || got[0].SourceID != "Acme" || got[0].TargetID != "Initech" {
		t.Fatalf("expected recomputed bucket, got %+v", got)
	}
	companies, _ := reopened.Entities(context.Background(), common.CategoryCompany)
	if len(companies) != 2 {
		t.Fatalf("expected recovered entities, got %+v", companies)
	}
	raw, err := os.ReadFile(bucket)
	if err != nil || !strings.Contains(string(raw), "Acme,Initech,partners_with") {
		t.Fatalf("expected bucket rewritten, got %q %v", raw, err)
	}
}

func TestStore_RenameDocument(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	rows := []common.ExtractedRelationship{rel("old.md", common.CategoryPerson, "Alice", "founded", common.CategoryCompany, "Acme", t0)}
	if err := mergeDocument(s, "old.md", rows); err != nil {
		t.Fatal(err)
	}

	if err := s.RenameDocument(context.Background(), "old.md", "dir/new.md"); err != nil {
		t.Fatalf("RenameDocument: %v", err)
	}
	if err := s.RenameDocument(context.Background(), "missing.md", "x.md"); err == nil {
		t.Fatal("expected error for unknown document")
	}

	got := mustRead(t, s, common.BucketPersonToCompany)
	if len(got) != 1 || got[0].Origin != "dir/new.md" {
		t.Fatalf("unexpected rows after rename %+v", got)
	}
	legacy, ok, _ := s.Legacy(context.Background(), "dir/new.md")
	if !ok || legacy[0].SourceDocumentPath != "dir/new.md" {
		t.Fatalf("unexpected legacy %+v", legacy)
	}
	if _, err := os.Stat(filepath.Join(root, "content", "old.md.csv")); !os.IsNotExist(err) {
		t.Fatalf("expected old table removed, got %v", err)
	}
}

func TestStore_EmptyDocumentKeepsTable(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	if err := mergeDocument(s, "empty.md", nil); err != nil {
		t.Fatal(err)
	}

	reopened := openStore(t, root)
	rows, ok, err := reopened.Legacy(context.Background(), "empty.md")
	if err != nil || !ok || len(rows) != 0 {
		t.Fatalf("expected an empty table, got %v %v %v", rows, ok, err)
	}
}
