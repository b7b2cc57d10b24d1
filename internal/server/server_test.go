package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mid "github.com/OFFIS-RIT/vaultgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/tracker"
)

type fakeGraph struct {
	entities []common.Entity
	rels     map[string][]common.CanonicalRelationship
	docs     map[string][]common.DocumentNode
}

func (f *fakeGraph) Replace(context.Context, *common.Projection) error { return nil }

func (f *fakeGraph) Stats(context.Context) (common.GraphStats, error) {
	return common.GraphStats{Persons: 2, Companies: 1, BuiltAt: "2026-04-01T12:00:00Z"}, nil
}

func (f *fakeGraph) Entities(_ context.Context, category common.Category) ([]common.Entity, error) {
	var out []common.Entity
	for _, e := range f.entities {
		if category == "" || e.Category == category {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeGraph) Relationships(_ context.Context, id string) ([]common.CanonicalRelationship, error) {
	return f.rels[id], nil
}

func (f *fakeGraph) Documents(_ context.Context, id string) ([]common.DocumentNode, error) {
	return f.docs[id], nil
}

func (f *fakeGraph) Close() error { return nil }

type fakeTracker struct {
	statuses []common.DocumentStatus
}

func (f *fakeTracker) Statuses(_ context.Context, state common.DocumentState) ([]common.DocumentStatus, error) {
	var out []common.DocumentStatus
	for _, s := range f.statuses {
		if state == "" || s.State == state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeTracker) Changes(_ context.Context, limit int) ([]tracker.Change, error) {
	changes := []tracker.Change{
		{Path: "b.md", Type: tracker.ChangeProcessed, At: time.Date(2026, 4, 1, 12, 1, 0, 0, time.UTC)},
		{Path: "a.md", Type: tracker.ChangeCreated, At: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
	}
	return changes[:min(limit, len(changes))], nil
}

func newTestServer() *mid.App {
	return &mid.App{
		Graph: &fakeGraph{
			entities: []common.Entity{
				{ID: "Alice", Category: common.CategoryPerson, Label: "Alice"},
				{ID: "Bob", Category: common.CategoryPerson, Label: "Bob"},
				{ID: "Acme", Category: common.CategoryCompany, Label: "Acme"},
			},
			rels: map[string][]common.CanonicalRelationship{
				"Alice": {{Bucket: common.BucketPersonToPerson, SourceID: "Alice", TargetID: "Bob", Verb: "Friends"}},
			},
			docs: map[string][]common.DocumentNode{
				"Alice": {{Path: "a.md", Label: "a"}},
			},
		},
		Tracker: &fakeTracker{statuses: []common.DocumentStatus{
			{Path: "a.md", State: common.DocumentProcessed, ChunksTotal: 1, ChunksSucceeded: 1},
			{Path: "b.md", State: common.DocumentPartial, ChunksTotal: 5, ChunksSucceeded: 3},
		}},
	}
}

func doGet(t *testing.T, app *mid.App, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := New(app)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := doGet(t, newTestServer(), "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestRoutes(t *testing.T) {
	tests := []struct {
		name   string
		target string
		code   int
		count  int
	}{
		{"all entities", "/api/entities", http.StatusOK, 3},
		{"persons", "/api/entities?category=Person", http.StatusOK, 2},
		{"companies", "/api/entities?category=Company", http.StatusOK, 1},
		{"invalid category", "/api/entities?category=Place", http.StatusBadRequest, -1},
		{"relationships", "/api/entities/Alice/relationships", http.StatusOK, 1},
		{"relationships of unknown entity", "/api/entities/Nobody/relationships", http.StatusOK, 0},
		{"documents", "/api/entities/Alice/documents", http.StatusOK, 1},
		{"all statuses", "/api/documents/status", http.StatusOK, 2},
		{"partial statuses", "/api/documents/status?state=partial", http.StatusOK, 1},
		{"invalid state", "/api/documents/status?state=deleted", http.StatusBadRequest, -1},
		{"changes", "/api/documents/changes?limit=1", http.StatusOK, 1},
		{"invalid limit", "/api/documents/changes?limit=0x", http.StatusBadRequest, -1},
	}

	app := newTestServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, app, tt.target)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.count < 0 {
				return
			}
			var items []json.RawMessage
			if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
				t.Fatalf("decode: %v (%s)", err, rec.Body.String())
			}
			if len(items) != tt.count {
				t.Fatalf("got %d items, want %d", len(items), tt.count)
			}
		})
	}
}

func TestStats(t *testing.T) {
	rec := doGet(t, newTestServer(), "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats common.GraphStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Persons != 2 || stats.Companies != 1 || stats.BuiltAt == "" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDocumentStatus_NoTracker(t *testing.T) {
	app := newTestServer()
	app.Tracker = nil
	rec := doGet(t, app, "/api/documents/status")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
