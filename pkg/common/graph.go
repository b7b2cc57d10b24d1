package common

// Projection is the complete node and edge set materialized into a graph
// store. It is rebuilt from scratch on every cycle and carries its contents
// in creation order: entities, documents, typed edges, entity references,
// document links and entity notes.
type Projection struct {
	Entities      []Entity                `json:"entities"`
	Documents     []DocumentNode          `json:"documents"`
	Relationships []CanonicalRelationship `json:"relationships"`
	References    []EntityReference       `json:"references"`
	Links         []DocumentLink          `json:"links"`
	Notes         []EntityNote            `json:"notes"`
}

// DocumentNode is a document as stored in the graph, carrying its full text.
type DocumentNode struct {
	Path    string `json:"path"`
	Label   string `json:"label"`
	Content string `json:"content"`
}

// EntityReference connects an entity to a document it was extracted from.
type EntityReference struct {
	EntityID     string   `json:"entity_id"`
	Category     Category `json:"category"`
	DocumentPath string   `json:"document_path"`
}

// EntityNote connects an entity to the note about it, i.e. the document
// whose label equals the entity label ignoring case.
type EntityNote struct {
	EntityID     string   `json:"entity_id"`
	Category     Category `json:"category"`
	DocumentPath string   `json:"document_path"`
}

// DocumentLink is an explicit reference from one document to another.
type DocumentLink struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`
}

// GraphStats summarizes a materialized graph.
type GraphStats struct {
	Persons       int    `json:"persons"`
	Companies     int    `json:"companies"`
	Documents     int    `json:"documents"`
	Relationships int    `json:"relationships"`
	References    int    `json:"references"`
	Links         int    `json:"links"`
	Notes         int    `json:"notes"`
	BuiltAt       string `json:"built_at,omitempty"`
}
