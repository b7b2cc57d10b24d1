package neo4j

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

func TestRelType(t *testing.T) {
	tests := []struct {
		verb string
		want string
	}{
		{"works_at", "WORKS_AT"},
		{"knows", "KNOWS"},
		{"co-founded", "COFOUNDED"},
		{"_owns_", "OWNS"},
		{"", fallbackType},
		{"2nd_degree", fallbackType},
		{"kennt`) DETACH DELETE n //", "KENNTDETACHDELETEN"},
	}
	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			if got := relType(tt.verb); got != tt.want {
				t.Fatalf("relType(%q) = %q, want %q", tt.verb, got, tt.want)
			}
		})
	}
}

func TestGroupRelationships(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rels := []common.CanonicalRelationship{
		{Bucket: common.BucketPersonToPerson, SourceID: "A", TargetID: "B", Verb: "knows", FirstSeen: at, LastSeen: at},
		{Bucket: common.BucketPersonToCompany, SourceID: "A", TargetID: "Acme", Verb: "works_at", FirstSeen: at, LastSeen: at},
		{Bucket: common.BucketPersonToPerson, SourceID: "B", TargetID: "C", Verb: "knows", FirstSeen: at, LastSeen: at},
		{Bucket: common.BucketPersonToPerson, SourceID: "A", TargetID: "C", Verb: "mentors", FirstSeen: at, LastSeen: at},
	}

	groups := groupRelationships(rels)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %+v", groups)
	}
	if groups[0].bucket != common.BucketPersonToCompany || groups[0].typ != "WORKS_AT" {
		t.Fatalf("unexpected first group %+v", groups[0])
	}
	if groups[1].typ != "KNOWS" || len(groups[1].rows) != 2 || groups[1].rows[1]["source"] != "B" {
		t.Fatalf("unexpected knows group %+v", groups[1])
	}
	if groups[2].rows[0]["first_seen"] != "2026-01-01T00:00:00Z" {
		t.Fatalf("unexpected timestamp encoding %+v", groups[2].rows[0])
	}
}

func TestEntityRow(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	plain, err := entityRow(common.Entity{ID: "Jo", Label: "Jo", Category: common.CategoryPerson, FirstSeen: at, LastSeen: at})
	if err != nil {
		t.Fatal(err)
	}
	if types, ok := plain["entity_types"].([]string); !ok || len(types) != 0 || plain["metadata"] != "{}" {
		t.Fatalf("unexpected empty enrichment %+v", plain)
	}

	row, err := entityRow(common.Entity{
		ID: "Acme", Label: "Acme", Category: common.CategoryCompany, FirstSeen: at, LastSeen: at,
		Types: []string{"supplier"}, Metadata: map[string]string{"city": "Oldenburg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if row["metadata"] != `{"city":"Oldenburg"}` {
		t.Fatalf("unexpected metadata encoding %v", row["metadata"])
	}
	if got := decodeMetadata(row["metadata"]); got["city"] != "Oldenburg" {
		t.Fatalf("metadata did not round trip: %v", got)
	}
	if got := decodeEntityTypes([]any{"supplier", 3}); len(got) != 1 || got[0] != "supplier" {
		t.Fatalf("unexpected entity types %v", got)
	}
	if noteType(common.CategoryCompany) != "COMPANY_NOTE" {
		t.Fatalf("unexpected note type %s", noteType(common.CategoryCompany))
	}
}

// TestGraphStore_Integration runs against a live server when NEO4J_TEST_URI
// is set.
func TestGraphStore_Integration(t *testing.T) {
	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI not set")
	}
	ctx := context.Background()
	g, err := NewGraphStore(ctx, NewGraphStoreParams{
		URI:      uri,
		Username: os.Getenv("NEO4J_TEST_USER"),
		Password: os.Getenv("NEO4J_TEST_PASSWORD"),
		Database: os.Getenv("NEO4J_TEST_DATABASE"),
	})
	if err != nil {
		t.Fatalf("NewGraphStore: %v", err)
	}
	defer g.Close()

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &common.Projection{
		Entities: []common.Entity{
			{ID: "Alice", Label: "Alice", Category: common.CategoryPerson, FirstSeen: at, LastSeen: at},
			{ID: "Acme", Label: "Acme", Category: common.CategoryCompany, FirstSeen: at, LastSeen: at},
		},
		Documents:     []common.DocumentNode{{Path: "a.md", Label: "a", Content: "Alice works at Acme."}},
		Relationships: []common.CanonicalRelationship{{Bucket: common.BucketPersonToCompany, SourceID: "Alice", TargetID: "Acme", Verb: "works_at", FirstSeen: at, LastSeen: at, Origin: "a.md"}},
		References:    []common.EntityReference{{EntityID: "Alice", Category: common.CategoryPerson, DocumentPath: "a.md"}},
		Notes:         []common.EntityNote{{EntityID: "Alice", Category: common.CategoryPerson, DocumentPath: "a.md"}},
	}
	if err := g.Replace(ctx, p); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	stats, err := g.Stats(ctx)
	if err != nil || stats.Persons != 1 || stats.Relationships != 1 || stats.References != 1 || stats.Notes != 1 {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}
	rels, err := g.Relationships(ctx, "Alice")
	if err != nil || len(rels) != 1 || rels[0].Verb != "works_at" {
		t.Fatalf("unexpected relationships %+v %v", rels, err)
	}
	docs, err := g.Documents(ctx, "Alice")
	if err != nil || len(docs) != 1 {
		t.Fatalf("unexpected documents %+v %v", docs, err)
	}
}
