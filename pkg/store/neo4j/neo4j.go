// Package neo4j implements store.GraphStore on a Neo4j database. A rebuild
// clears and repopulates the graph inside one write transaction, so readers
// keep seeing the previous graph until it commits.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	batchSize = 500

	referenceType = "ENTITY_REFERENCE"
	linkType      = "LINKS_TO"
	fallbackType  = "RELATED_TO"
)

// noteType names the edge from an entity to the note about it, e.g.
// PERSON_NOTE.
func noteType(c common.Category) string {
	return strings.ToUpper(string(c)) + "_NOTE"
}

// GraphStore talks to one Neo4j database.
type GraphStore struct {
	driver   neo4jv5.DriverWithContext
	database string
}

var _ store.GraphStore = (*GraphStore)(nil)

type NewGraphStoreParams struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewGraphStore connects and verifies connectivity.
func NewGraphStore(ctx context.Context, params NewGraphStoreParams) (*GraphStore, error) {
	driver, err := neo4jv5.NewDriverWithContext(
		params.URI,
		neo4jv5.BasicAuth(params.Username, params.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}
	database := params.Database
	if database == "" {
		database = "neo4j"
	}
	return &GraphStore{driver: driver, database: database}, nil
}

func (g *GraphStore) Close() error {
	return g.driver.Close(context.Background())
}

func (g *GraphStore) session(ctx context.Context, mode neo4jv5.AccessMode) neo4jv5.SessionWithContext {
	return g.driver.NewSession(ctx, neo4jv5.SessionConfig{DatabaseName: g.database, AccessMode: mode})
}

// relType turns a normalized verb into a relationship type, e.g.
// "works_at" becomes WORKS_AT.
func relType(verb string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(verb) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		return fallbackType
	}
	return out
}

type edgeGroup struct {
	bucket common.Bucket
	typ    string
	rows   []map[string]any
}

// groupRelationships splits edges by bucket and relationship type, since
// Cypher cannot parameterize either. Groups are ordered for determinism.
func groupRelationships(rels []common.CanonicalRelationship) []edgeGroup {
	index := make(map[[2]string]int)
	var groups []edgeGroup
	for _, r := range rels {
		key := [2]string{string(r.Bucket), relType(r.Verb)}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, edgeGroup{bucket: r.Bucket, typ: key[1]})
		}
		groups[i].rows = append(groups[i].rows, map[string]any{
			"source":          r.SourceID,
			"target":          r.TargetID,
			"relationship":    r.Verb,
			"first_seen":      formatTime(r.FirstSeen),
			"last_seen":       formatTime(r.LastSeen),
			"source_document": r.Origin,
		})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].bucket != groups[j].bucket {
			return groups[i].bucket < groups[j].bucket
		}
		return groups[i].typ < groups[j].typ
	})
	return groups
}

// entityRow encodes an entity node. Metadata is stored as a JSON string
// since node properties cannot hold maps.
func entityRow(e common.Entity) (map[string]any, error) {
	types := e.Types
	if types == nil {
		types = []string{}
	}
	metadata := "{}"
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata of %s: %w", e.ID, err)
		}
		metadata = string(raw)
	}
	return map[string]any{
		"id":           e.ID,
		"label":        e.Label,
		"first_seen":   formatTime(e.FirstSeen),
		"last_seen":    formatTime(e.LastSeen),
		"entity_types": types,
		"metadata":     metadata,
	}, nil
}

func decodeEntityTypes(v any) []string {
	items, _ := v.([]any)
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeMetadata(v any) map[string]string {
	s, _ := v.(string)
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v any) time.Time {
	s, _ := v.(string)
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func runBatched(ctx context.Context, tx neo4jv5.ManagedTransaction, query string, rows []map[string]any) error {
	return store.ChunkRange(len(rows), batchSize, func(start, end int) error {
		_, err := tx.Run(ctx, query, map[string]any{"rows": rows[start:end]})
		return err
	})
}

// Replace implements store.GraphStore.
func (g *GraphStore) Replace(ctx context.Context, p *common.Projection) error {
	session := g.session(ctx, neo4jv5.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (n) WHERE n:Person OR n:Company OR n:Document OR n:GraphMeta DETACH DELETE n`, nil); err != nil {
			return nil, fmt.Errorf("clear graph: %w", err)
		}

		byCategory := make(map[common.Category][]map[string]any)
		for _, e := range p.Entities {
			row, err := entityRow(e)
			if err != nil {
				return nil, err
			}
			byCategory[e.Category] = append(byCategory[e.Category], row)
		}
		for _, category := range common.Categories {
			query := fmt.Sprintf(`UNWIND $rows AS row
				CREATE (:%s {id: row.id, label: row.label, first_seen: row.first_seen, last_seen: row.last_seen,
					entity_types: row.entity_types, metadata: row.metadata})`, category)
			if err := runBatched(ctx, tx, query, byCategory[category]); err != nil {
				return nil, fmt.Errorf("create %s nodes: %w", category, err)
			}
		}

		docs := make([]map[string]any, 0, len(p.Documents))
		for _, d := range p.Documents {
			docs = append(docs, map[string]any{"path": d.Path, "label": d.Label, "content": d.Content})
		}
		if err := runBatched(ctx, tx, `UNWIND $rows AS row
			CREATE (:Document {path: row.path, label: row.label, content: row.content})`, docs); err != nil {
			return nil, fmt.Errorf("create document nodes: %w", err)
		}

		for _, group := range groupRelationships(p.Relationships) {
			sc, tc := group.bucket.Categories()
			query := fmt.Sprintf(`UNWIND $rows AS row
				MATCH (s:%s {id: row.source}), (t:%s {id: row.target})
				CREATE (s)-[:%s {bucket: '%s', relationship: row.relationship, first_seen: row.first_seen,
					last_seen: row.last_seen, source_document: row.source_document}]->(t)`,
				sc, tc, group.typ, group.bucket)
			if err := runBatched(ctx, tx, query, group.rows); err != nil {
				return nil, fmt.Errorf("create %s edges: %w", group.typ, err)
			}
		}

		refs := make(map[common.Category][]map[string]any)
		for _, r := range p.References {
			refs[r.Category] = append(refs[r.Category], map[string]any{"id": r.EntityID, "path": r.DocumentPath})
		}
		for _, category := range common.Categories {
			query := fmt.Sprintf(`UNWIND $rows AS row
				MATCH (e:%s {id: row.id}), (d:Document {path: row.path})
				CREATE (e)-[:%s]->(d)`, category, referenceType)
			if err := runBatched(ctx, tx, query, refs[category]); err != nil {
				return nil, fmt.Errorf("create references: %w", err)
			}
		}

		links := make([]map[string]any, 0, len(p.Links))
		for _, l := range p.Links {
			links = append(links, map[string]any{"source": l.SourcePath, "target": l.TargetPath})
		}
		if err := runBatched(ctx, tx, fmt.Sprintf(`UNWIND $rows AS row
			MATCH (s:Document {path: row.source}), (t:Document {path: row.target})
			CREATE (s)-[:%s]->(t)`, linkType), links); err != nil {
			return nil, fmt.Errorf("create links: %w", err)
		}

		notes := make(map[common.Category][]map[string]any)
		for _, n := range p.Notes {
			notes[n.Category] = append(notes[n.Category], map[string]any{"id": n.EntityID, "path": n.DocumentPath})
		}
		for _, category := range common.Categories {
			query := fmt.Sprintf(`UNWIND $rows AS row
				MATCH (e:%s {id: row.id}), (d:Document {path: row.path})
				CREATE (e)-[:%s]->(d)`, category, noteType(category))
			if err := runBatched(ctx, tx, query, notes[category]); err != nil {
				return nil, fmt.Errorf("create notes: %w", err)
			}
		}

		_, err := tx.Run(ctx, `CREATE (:GraphMeta {built_at: $built_at})`, map[string]any{"built_at": formatTime(time.Now())})
		return nil, err
	})
	if err != nil {
		return err
	}
	logger.Debug("[Graph] Neo4j graph replaced", "entities", len(p.Entities), "edges", len(p.Relationships))
	return nil
}

func (g *GraphStore) read(ctx context.Context, query string, params map[string]any, fn func(rec *neo4jv5.Record)) error {
	session := g.session(ctx, neo4jv5.AccessModeRead)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			fn(result.Record())
		}
		return nil, result.Err()
	})
	return err
}

func str(rec *neo4jv5.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

// Stats implements store.GraphStore.
func (g *GraphStore) Stats(ctx context.Context) (common.GraphStats, error) {
	var s common.GraphStats
	counts := []struct {
		dst   *int
		query string
	}{
		{&s.Persons, `MATCH (n:Person) RETURN count(n) AS c`},
		{&s.Companies, `MATCH (n:Company) RETURN count(n) AS c`},
		{&s.Documents, `MATCH (n:Document) RETURN count(n) AS c`},
		{&s.Relationships, `MATCH ()-[r]->() WHERE r.bucket IS NOT NULL RETURN count(r) AS c`},
		{&s.References, fmt.Sprintf(`MATCH ()-[r:%s]->() RETURN count(r) AS c`, referenceType)},
		{&s.Links, fmt.Sprintf(`MATCH ()-[r:%s]->() RETURN count(r) AS c`, linkType)},
		{&s.Notes, fmt.Sprintf(`MATCH ()-[r:%s|%s]->() RETURN count(r) AS c`,
			noteType(common.CategoryPerson), noteType(common.CategoryCompany))},
	}
	for _, c := range counts {
		err := g.read(ctx, c.query, nil, func(rec *neo4jv5.Record) {
			v, _ := rec.Get("c")
			n, _ := v.(int64)
			*c.dst = int(n)
		})
		if err != nil {
			return common.GraphStats{}, err
		}
	}
	err := g.read(ctx, `MATCH (m:GraphMeta) RETURN m.built_at AS built_at`, nil, func(rec *neo4jv5.Record) {
		s.BuiltAt = str(rec, "built_at")
	})
	return s, err
}

// Entities implements store.GraphStore. An empty category lists both.
func (g *GraphStore) Entities(ctx context.Context, category common.Category) ([]common.Entity, error) {
	categories := common.Categories
	if category != "" {
		categories = []common.Category{category}
	}

	var out []common.Entity
	for _, c := range categories {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown category %q", c)
		}
		query := fmt.Sprintf(`MATCH (e:%s) RETURN e.id AS id, e.label AS label,
			e.first_seen AS first_seen, e.last_seen AS last_seen,
			e.entity_types AS entity_types, e.metadata AS metadata ORDER BY e.id`, c)
		err := g.read(ctx, query, nil, func(rec *neo4jv5.Record) {
			first, _ := rec.Get("first_seen")
			last, _ := rec.Get("last_seen")
			types, _ := rec.Get("entity_types")
			metadata, _ := rec.Get("metadata")
			out = append(out, common.Entity{
				ID:        str(rec, "id"),
				Label:     str(rec, "label"),
				Category:  c,
				FirstSeen: parseTime(first),
				LastSeen:  parseTime(last),
				Types:     decodeEntityTypes(types),
				Metadata:  decodeMetadata(metadata),
			})
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Relationships implements store.GraphStore.
func (g *GraphStore) Relationships(ctx context.Context, entityID string) ([]common.CanonicalRelationship, error) {
	var out []common.CanonicalRelationship
	err := g.read(ctx, `MATCH (s)-[r]->(t)
		WHERE r.bucket IS NOT NULL AND (s.id = $id OR t.id = $id)
		RETURN r.bucket AS bucket, s.id AS source, t.id AS target, r.relationship AS relationship,
			r.first_seen AS first_seen, r.last_seen AS last_seen, r.source_document AS source_document
		ORDER BY bucket, source, target`,
		map[string]any{"id": entityID},
		func(rec *neo4jv5.Record) {
			first, _ := rec.Get("first_seen")
			last, _ := rec.Get("last_seen")
			out = append(out, common.CanonicalRelationship{
				Bucket:    common.Bucket(str(rec, "bucket")),
				SourceID:  str(rec, "source"),
				TargetID:  str(rec, "target"),
				Verb:      str(rec, "relationship"),
				FirstSeen: parseTime(first),
				LastSeen:  parseTime(last),
				Origin:    str(rec, "source_document"),
			})
		})
	return out, err
}

// Documents implements store.GraphStore.
func (g *GraphStore) Documents(ctx context.Context, entityID string) ([]common.DocumentNode, error) {
	var out []common.DocumentNode
	err := g.read(ctx, fmt.Sprintf(`MATCH (e)-[:%s]->(d:Document) WHERE e.id = $id
		RETURN DISTINCT d.path AS path, d.label AS label, d.content AS content ORDER BY path`, referenceType),
		map[string]any{"id": entityID},
		func(rec *neo4jv5.Record) {
			out = append(out, common.DocumentNode{
				Path:    str(rec, "path"),
				Label:   str(rec, "label"),
				Content: str(rec, "content"),
			})
		})
	return out, err
}
