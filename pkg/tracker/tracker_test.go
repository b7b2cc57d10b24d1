package tracker

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

func openTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := Open(context.Background(), filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestDecidePure(t *testing.T) {
	tests := []struct {
		name        string
		prevHash    string
		prevState   common.DocumentState
		hash        string
		retryFailed bool
		want        Decision
	}{
		{"first sight", "", "", "h1", false, Reprocess},
		{"unchanged", "h1", common.DocumentProcessed, "h1", false, Skip},
		{"changed", "h1", common.DocumentProcessed, "h2", false, DeleteAndReprocess},
		{"partial without retry", "h1", common.DocumentPartial, "h1", false, Skip},
		{"partial with retry", "h1", common.DocumentPartial, "h1", true, DeleteAndReprocess},
		{"failed with retry", "h1", common.DocumentFailed, "h1", true, DeleteAndReprocess},
		{"processed with retry", "h1", common.DocumentProcessed, "h1", true, Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.prevHash, tt.prevState, tt.hash, tt.retryFailed); got != tt.want {
				t.Fatalf("Decide() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTracker_DecideAndRecord(t *testing.T) {
	tr := openTracker(t)
	ctx := context.Background()
	doc := common.Document{Path: "notes/alice.md", ContentHash: "h1"}

	d, err := tr.Decide(ctx, doc, false)
	if err != nil || d != Reprocess {
		t.Fatalf("expected reprocess on first sight, got %v %v", d, err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err = tr.Record(ctx, common.DocumentStatus{
		Path:            doc.Path,
		ContentHash:     "h1",
		State:           common.DocumentPartial,
		ChunksTotal:     5,
		ChunksSucceeded: 3,
		Failures: []common.ChunkFailure{
			{ChunkIndex: 4, Class: "timeout", Message: "deadline", Attempts: 3, At: at},
			{ChunkIndex: 1, Class: "malformed_output", Message: "bad json", Attempts: 3, At: at},
		},
		ProcessedAt: at,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if d, _ := tr.Decide(ctx, doc, false); d != Skip {
		t.Fatalf("expected skip for unchanged doc, got %v", d)
	}
	if d, _ := tr.Decide(ctx, doc, true); d != DeleteAndReprocess {
		t.Fatalf("expected retry of partial doc, got %v", d)
	}
	doc.ContentHash = "h2"
	if d, _ := tr.Decide(ctx, doc, false); d != DeleteAndReprocess {
		t.Fatalf("expected delete+reprocess for changed doc, got %v", d)
	}

	status, ok, err := tr.Status(ctx, doc.Path)
	if err != nil || !ok {
		t.Fatalf("Status: %v %v", ok, err)
	}
	if status.Summary() != "3/5 chunks succeeded" || status.State != common.DocumentPartial {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Failures) != 2 || status.Failures[0].ChunkIndex != 1 || status.Failures[1].Class != "timeout" {
		t.Fatalf("unexpected failures %+v", status.Failures)
	}
	if !status.ProcessedAt.Equal(at) {
		t.Fatalf("unexpected processed at %v", status.ProcessedAt)
	}

	// a clean rerun clears the failures
	err = tr.Record(ctx, common.DocumentStatus{
		Path: doc.Path, ContentHash: "h2", State: common.DocumentProcessed, ChunksTotal: 5, ChunksSucceeded: 5, ProcessedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
	failures, err := tr.Failures(ctx, doc.Path)
	if err != nil || len(failures) != 0 {
		t.Fatalf("expected failures cleared, got %v %v", failures, err)
	}

	changes, err := tr.Changes(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 || changes[0].Type != ChangeModified || changes[1].Type != ChangeCreated {
		t.Fatalf("unexpected changes %+v", changes)
	}
}

func TestTracker_ForgetAndRename(t *testing.T) {
	tr := openTracker(t)
	ctx := context.Background()

	for _, p := range []string{"a.md", "b.md"} {
		if err := tr.Record(ctx, common.DocumentStatus{Path: p, ContentHash: "h-" + p, State: common.DocumentProcessed}); err != nil {
			t.Fatal(err)
		}
	}

	if err := tr.Forget(ctx, "a.md"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if err := tr.Rename(ctx, "b.md", "archive/b.md"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := tr.Rename(ctx, "missing.md", "x.md"); err == nil {
		t.Fatal("expected error renaming an untracked path")
	}

	hashes, err := tr.Hashes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"archive/b.md": "h-b.md"}
	if !reflect.DeepEqual(hashes, want) {
		t.Fatalf("Hashes() = %v, want %v", hashes, want)
	}

	statuses, err := tr.Statuses(ctx, common.DocumentProcessed)
	if err != nil || len(statuses) != 1 || statuses[0].Path != "archive/b.md" {
		t.Fatalf("unexpected statuses %+v %v", statuses, err)
	}

	changes, err := tr.Changes(ctx, 2)
	if err != nil || len(changes) != 2 || changes[0].Type != ChangeMoved || changes[1].Type != ChangeDeleted {
		t.Fatalf("unexpected changes %+v %v", changes, err)
	}
}

func TestPlan(t *testing.T) {
	tracked := map[string]string{
		"a.md":     "ha",
		"b.md":     "hb",
		"gone.md":  "hg",
		"dup1.md":  "hd",
		"dup2.md":  "hd",
		"stays.md": "hs",
	}
	docs := []common.Document{
		{Path: "stays.md", ContentHash: "hs2"},
		{Path: "new/a.md", ContentHash: "ha"},
		{Path: "b.md", ContentHash: "hb"},
		{Path: "z.md", ContentHash: "hd"},
		{Path: "fresh.md", ContentHash: "hf"},
	}

	moves, deleted := Plan(tracked, docs)
	wantMoves := []Move{{From: "a.md", To: "new/a.md"}, {From: "dup1.md", To: "z.md"}}
	if !reflect.DeepEqual(moves, wantMoves) {
		t.Fatalf("moves = %+v, want %+v", moves, wantMoves)
	}
	wantDeleted := []string{"dup2.md", "gone.md"}
	if !reflect.DeepEqual(deleted, wantDeleted) {
		t.Fatalf("deleted = %v, want %v", deleted, wantDeleted)
	}
}
