package common

import (
	"fmt"
	"time"
)

// Category is the type of an extracted entity. Only people and companies
// are kept; everything else the model emits is dropped during validation.
type Category string

const (
	CategoryPerson  Category = "Person"
	CategoryCompany Category = "Company"
)

// Categories lists the accepted entity categories in table order.
var Categories = []Category{CategoryPerson, CategoryCompany}

// Valid reports whether c is one of the accepted categories.
func (c Category) Valid() bool {
	return c == CategoryPerson || c == CategoryCompany
}

// Bucket is one of the canonical relationship tables.
type Bucket string

const (
	BucketPersonToPerson   Bucket = "PersonToPerson"
	BucketPersonToCompany  Bucket = "PersonToCompany"
	BucketCompanyToCompany Bucket = "CompanyToCompany"
)

// Buckets lists all relation buckets in table order.
var Buckets = []Bucket{BucketPersonToPerson, BucketPersonToCompany, BucketCompanyToCompany}

// Symmetric reports whether the bucket stores unordered pairs.
func (b Bucket) Symmetric() bool {
	return b == BucketPersonToPerson || b == BucketCompanyToCompany
}

// Categories returns the source and target category of rows in b.
func (b Bucket) Categories() (Category, Category) {
	switch b {
	case BucketPersonToPerson:
		return CategoryPerson, CategoryPerson
	case BucketCompanyToCompany:
		return CategoryCompany, CategoryCompany
	default:
		return CategoryPerson, CategoryCompany
	}
}

// Document is one Markdown file of the vault.
//
// Path is vault-relative and slash separated and acts as the unique id.
// Body is Content without the front matter block. ContentHash is the
// fingerprint of the full file bytes, so front matter edits (for example
// new rename mappings) also trigger a reprocess.
//
// Metadata holds the remaining front matter fields flattened to strings and
// EntityTypes the declared `entity_types`. Both are copied onto the entity
// whose label names this note.
type Document struct {
	Path        string            `json:"path"`
	Label       string            `json:"label"`
	Content     string            `json:"content"`
	Body        string            `json:"-"`
	ContentHash string            `json:"content_hash"`
	Renames     []RenameMapping   `json:"renames,omitempty"`
	Links       []string          `json:"links,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EntityTypes []string          `json:"entity_types,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Chunk is a contiguous slice of a document body. It is recomputed on every
// reprocess and identified by (DocumentPath, Index).
type Chunk struct {
	DocumentPath string `json:"document_path"`
	Index        int    `json:"index"`
	Content      string `json:"content"`
}

// ExtractedRelationship is one fact asserted by the model for a chunk.
type ExtractedRelationship struct {
	SourceCategory     Category  `json:"source_category"`
	SourceLabel        string    `json:"source_label"`
	Verb               string    `json:"relationship"`
	TargetCategory     Category  `json:"target_category"`
	TargetLabel        string    `json:"target_label"`
	SourceDocumentPath string    `json:"source_file"`
	ChunkIndex         int       `json:"chunk_index"`
	ExtractedAt        time.Time `json:"extracted_at"`
}

func (r ExtractedRelationship) String() string {
	return fmt.Sprintf("(%s:%s)-[%s]->(%s:%s)", r.SourceCategory, r.SourceLabel, r.Verb, r.TargetCategory, r.TargetLabel)
}

// CanonicalRelationship is a deduplicated, direction-normalized row of a
// relation bucket. Origin names the document whose observation supplied the
// current verb.
type CanonicalRelationship struct {
	Bucket    Bucket    `json:"bucket"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Verb      string    `json:"relationship"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Origin    string    `json:"source_document"`
}

// Key identifies the row inside its bucket.
func (r CanonicalRelationship) Key() PairKey {
	return PairKey{SourceID: r.SourceID, TargetID: r.TargetID}
}

// PairKey is the (source, target) identity of a bucket row.
type PairKey struct {
	SourceID string
	TargetID string
}

// Entity is a Person or Company. The id equals the label.
//
// Types and Metadata are only set on graph entities and come from the note
// named like the entity. The cache never stores them.
type Entity struct {
	ID        string            `json:"id"`
	Label     string            `json:"label"`
	Category  Category          `json:"category"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	Types     []string          `json:"entity_types,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RenameMapping is a per-document `old => new` declaration.
type RenameMapping struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// DocumentState is the outcome of the last pipeline run for a document.
type DocumentState string

const (
	DocumentProcessed DocumentState = "processed"
	DocumentPartial   DocumentState = "partial"
	DocumentFailed    DocumentState = "failed"
	DocumentDeleted   DocumentState = "deleted"
)

// ChunkFailure records a chunk whose extraction exhausted its attempts.
type ChunkFailure struct {
	DocumentPath string    `json:"document_path"`
	ChunkIndex   int       `json:"chunk_index"`
	Class        string    `json:"class"`
	Message      string    `json:"message"`
	Attempts     int       `json:"attempts"`
	At           time.Time `json:"at"`
}

// DocumentStatus is the audit record of one document.
type DocumentStatus struct {
	Path            string         `json:"path"`
	ContentHash     string         `json:"content_hash"`
	State           DocumentState  `json:"state"`
	ChunksTotal     int            `json:"chunks_total"`
	ChunksSucceeded int            `json:"chunks_succeeded"`
	Failures        []ChunkFailure `json:"failures,omitempty"`
	ProcessedAt     time.Time      `json:"processed_at"`
}

// Summary renders the chunk outcome, e.g. "3/5 chunks succeeded".
func (s DocumentStatus) Summary() string {
	return fmt.Sprintf("%d/%d chunks succeeded", s.ChunksSucceeded, s.ChunksTotal)
}

// StateFor derives the document state from its chunk outcome. A document
// without chunks counts as processed.
func StateFor(total, succeeded int) DocumentState {
	switch {
	case succeeded == total:
		return DocumentProcessed
	case succeeded == 0:
		return DocumentFailed
	default:
		return DocumentPartial
	}
}

// EventType is the kind of a file system change.
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
)

// Event is a debounced file system change for one vault-relative path.
type Event struct {
	Path string    `json:"path"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}
