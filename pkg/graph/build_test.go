package graph

import (
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/normalize"
)

func TestBuildProjection(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rel := func(path string, sc common.Category, s, verb string, tc common.Category, tgt string) common.ExtractedRelationship {
		return common.ExtractedRelationship{
			SourceCategory: sc, SourceLabel: s, Verb: verb, TargetCategory: tc, TargetLabel: tgt,
			SourceDocumentPath: path, ExtractedAt: at,
		}
	}

	legacy := map[string][]common.ExtractedRelationship{
		"people/alice.md": {rel("people/alice.md", common.CategoryPerson, "Alice", "works_at", common.CategoryCompany, "Acme")},
		"bob.md": {
			rel("bob.md", common.CategoryPerson, "Bob", "reports_to", common.CategoryPerson, "Alice"),
			rel("bob.md", common.CategoryPerson, "Bob", "knows", common.CategoryPerson, "Alice"),
		},
		"gone.md": {rel("gone.md", common.CategoryCompany, "Globex", "owns", common.CategoryCompany, "Acme")},
	}
	entities := []common.Entity{
		{ID: "Alice", Label: "Alice", Category: common.CategoryPerson, FirstSeen: at.Add(-time.Hour), LastSeen: at},
		{ID: "Stale", Label: "Stale", Category: common.CategoryPerson, FirstSeen: at, LastSeen: at},
	}
	docs := []common.Document{
		{Path: "bob.md", Label: "bob", Content: "Bob", Links: []string{"alice", "bob", "missing", "people/alice"}},
		{Path: "people/alice.md", Label: "alice", Content: "Alice"},
	}
	var rels []common.CanonicalRelationship
	tables := normalize.Recompute(legacy)
	for _, b := range common.Buckets {
		rels = append(rels, tables[b].Rows()...)
	}

	p := BuildProjection(docs, legacy, entities, rels)

	var ids []string
	for _, e := range p.Entities {
		ids = append(ids, string(e.Category)+":"+e.ID)
	}
	wantIDs := []string{"Person:Alice", "Person:Bob", "Company:Acme", "Company:Globex"}
	if !reflect.DeepEqual(ids, wantIDs) {
		t.Fatalf("expected entities %v, got %v", wantIDs, ids)
	}
	if !p.Entities[0].FirstSeen.Equal(at.Add(-time.Hour)) {
		t.Fatal("expected cached entity timestamps")
	}

	if len(p.Documents) != 2 || p.Documents[0].Path != "bob.md" {
		t.Fatalf("unexpected documents %+v", p.Documents)
	}
	if len(p.Relationships) != 3 {
		t.Fatalf("expected 3 relationships, got %+v", p.Relationships)
	}

	wantRefs := []common.EntityReference{
		{EntityID: "Alice", Category: common.CategoryPerson, DocumentPath: "bob.md"},
		{EntityID: "Alice", Category: common.CategoryPerson, DocumentPath: "people/alice.md"},
		{EntityID: "Bob", Category: common.CategoryPerson, DocumentPath: "bob.md"},
		{EntityID: "Acme", Category: common.CategoryCompany, DocumentPath: "people/alice.md"},
	}
	if !reflect.DeepEqual(p.References, wantRefs) {
		t.Fatalf("expected references %+v, got %+v", wantRefs, p.References)
	}

	wantLinks := []common.DocumentLink{{SourcePath: "bob.md", TargetPath: "people/alice.md"}}
	if !reflect.DeepEqual(p.Links, wantLinks) {
		t.Fatalf("expected links %+v, got %+v", wantLinks, p.Links)
	}
}

func TestBuildProjection_EntityNotes(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	legacy := map[string][]common.ExtractedRelationship{
		"journal/monday.md": {{
			SourceCategory: common.CategoryPerson, SourceLabel: "Jo Park", Verb: "works_at",
			TargetCategory: common.CategoryCompany, TargetLabel: "ACME", SourceDocumentPath: "journal/monday.md", ExtractedAt: at,
		}},
	}
	docs := []common.Document{
		{Path: "journal/monday.md", Label: "monday", Content: "Jo Park works at ACME."},
		{
			Path: "companies/acme.md", Label: "acme",
			EntityTypes: []string{"supplier"}, Metadata: map[string]string{"city": "Oldenburg"},
		},
		{Path: "people/jo park.md", Label: "jo park", EntityTypes: []string{"founder", "investor"}},
		{Path: "archive/jo park.md", Label: "Jo Park", Metadata: map[string]string{"role": "old"}},
	}
	rels := []common.CanonicalRelationship{{
		Bucket: common.BucketPersonToCompany, SourceID: "Jo Park", TargetID: "ACME", Verb: "works_at",
		FirstSeen: at, LastSeen: at, Origin: "journal/monday.md",
	}}

	p := BuildProjection(docs, legacy, nil, rels)

	wantNotes := []common.EntityNote{
		{EntityID: "Jo Park", Category: common.CategoryPerson, DocumentPath: "archive/jo park.md"},
		{EntityID: "Jo Park", Category: common.CategoryPerson, DocumentPath: "people/jo park.md"},
		{EntityID: "ACME", Category: common.CategoryCompany, DocumentPath: "companies/acme.md"},
	}
	if !reflect.DeepEqual(p.Notes, wantNotes) {
		t.Fatalf("expected notes %+v, got %+v", wantNotes, p.Notes)
	}

	person, company := p.Entities[0], p.Entities[1]
	if person.ID != "Jo Park" || person.Types != nil || person.Metadata["role"] != "old" {
		t.Fatalf("expected the first note by path to enrich the person, got %+v", person)
	}
	if !reflect.DeepEqual(company.Types, []string{"supplier"}) || company.Metadata["city"] != "Oldenburg" {
		t.Fatalf("unexpected company enrichment %+v", company)
	}

	docs[1].Metadata["city"] = "Bremen"
	if p.Entities[1].Metadata["city"] != "Oldenburg" {
		t.Fatal("entity metadata must not alias the document")
	}
}
