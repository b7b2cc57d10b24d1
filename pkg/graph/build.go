package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
	"github.com/OFFIS-RIT/vaultgraph/pkg/vault"
)

// Rebuild projects the cache and the current vault into a new graph and
// swaps it in. Rebuilds never overlap. On failure the previous graph stays
// active and the error wraps store.ErrRebuildFailed.
func (c *GraphClient) Rebuild(ctx context.Context) (common.GraphStats, error) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	p, err := c.Project(ctx)
	if err != nil {
		return common.GraphStats{}, fmt.Errorf("%w: %w", store.ErrRebuildFailed, err)
	}
	if err := c.graph.Replace(ctx, p); err != nil {
		logger.Error("[Build] Replacing graph failed, previous graph stays active", "err", err)
		return common.GraphStats{}, fmt.Errorf("%w: %w", store.ErrRebuildFailed, err)
	}

	stats, err := c.graph.Stats(ctx)
	if err != nil {
		return common.GraphStats{}, err
	}
	logger.Info("[Build] Graph rebuilt",
		"persons", stats.Persons,
		"companies", stats.Companies,
		"documents", stats.Documents,
		"relationships", stats.Relationships,
		"references", stats.References,
		"links", stats.Links,
		"notes", stats.Notes,
	)

	if c.onRebuild != nil {
		if err := c.onRebuild(ctx, p); err != nil {
			logger.Error("[Build] Rebuild hook failed", "err", err)
		}
	}
	return stats, nil
}

// Project reads the complete cache and vault and returns the graph they
// describe.
func (c *GraphClient) Project(ctx context.Context) (*common.Projection, error) {
	docs, err := c.source.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}

	paths, err := c.cache.LegacyPaths(ctx)
	if err != nil {
		return nil, err
	}
	legacy := make(map[string][]common.ExtractedRelationship, len(paths))
	for _, p := range paths {
		rows, _, err := c.cache.Legacy(ctx, p)
		if err != nil {
			return nil, err
		}
		legacy[p] = rows
	}

	var entities []common.Entity
	for _, cat := range common.Categories {
		e, err := c.cache.Entities(ctx, cat)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e...)
	}

	var rels []common.CanonicalRelationship
	for _, b := range common.Buckets {
		rows, err := c.cache.ReadAll(ctx, b)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rows...)
	}

	return BuildProjection(docs, legacy, entities, rels), nil
}

type entityKey struct {
	category common.Category
	id       string
}

// BuildProjection derives the graph from the vault documents, the
// per-document tables, the entity tables and the relation buckets.
//
// Only entities mentioned by some document table become nodes. Every vault
// document becomes a node. References and links only point at document
// nodes; links to missing documents are dropped. An entity is linked to the
// note named like it and takes over that note's entity types and metadata.
func BuildProjection(
	docs []common.Document,
	legacy map[string][]common.ExtractedRelationship,
	entities []common.Entity,
	rels []common.CanonicalRelationship,
) *common.Projection {
	p := &common.Projection{}

	known := make(map[entityKey]common.Entity, len(entities))
	for _, e := range entities {
		known[entityKey{e.Category, e.ID}] = e
	}

	referenced := make(map[entityKey]common.Entity)
	for _, rows := range legacy {
		for _, r := range rows {
			for _, k := range []entityKey{{r.SourceCategory, r.SourceLabel}, {r.TargetCategory, r.TargetLabel}} {
				if _, ok := referenced[k]; ok {
					continue
				}
				e, ok := known[k]
				if !ok {
					at := r.ExtractedAt.UTC()
					e = common.Entity{ID: k.id, Label: k.id, Category: k.category, FirstSeen: at, LastSeen: at}
				}
				referenced[k] = e
			}
		}
	}
	for _, cat := range common.Categories {
		var ids []string
		for k := range referenced {
			if k.category == cat {
				ids = append(ids, k.id)
			}
		}
		slices.Sort(ids)
		for _, id := range ids {
			p.Entities = append(p.Entities, referenced[entityKey{cat, id}])
		}
	}

	sorted := slices.Clone(docs)
	slices.SortFunc(sorted, func(a, b common.Document) int {
		return strings.Compare(a.Path, b.Path)
	})
	nodes := make(map[string]struct{}, len(sorted))
	docPaths := make([]string, 0, len(sorted))
	for _, d := range sorted {
		p.Documents = append(p.Documents, common.DocumentNode{Path: d.Path, Label: d.Label, Content: d.Content})
		nodes[d.Path] = struct{}{}
		docPaths = append(docPaths, d.Path)
	}

	p.Relationships = slices.Clone(rels)

	seenRef := make(map[common.EntityReference]struct{})
	for path, rows := range legacy {
		if _, ok := nodes[path]; !ok {
			continue
		}
		for _, r := range rows {
			for _, ref := range []common.EntityReference{
				{EntityID: r.SourceLabel, Category: r.SourceCategory, DocumentPath: path},
				{EntityID: r.TargetLabel, Category: r.TargetCategory, DocumentPath: path},
			} {
				if _, ok := seenRef[ref]; ok {
					continue
				}
				seenRef[ref] = struct{}{}
				p.References = append(p.References, ref)
			}
		}
	}
	slices.SortFunc(p.References, func(a, b common.EntityReference) int {
		if a.Category != b.Category {
			return categoryIndex(a.Category) - categoryIndex(b.Category)
		}
		if a.EntityID != b.EntityID {
			return strings.Compare(a.EntityID, b.EntityID)
		}
		return strings.Compare(a.DocumentPath, b.DocumentPath)
	})

	idx := vault.NewLinkIndex(docPaths)
	seenLink := make(map[common.DocumentLink]struct{})
	for _, d := range sorted {
		for _, target := range d.Links {
			resolved, ok := idx.Resolve(target)
			if !ok || resolved == d.Path {
				continue
			}
			link := common.DocumentLink{SourcePath: d.Path, TargetPath: resolved}
			if _, ok := seenLink[link]; ok {
				continue
			}
			seenLink[link] = struct{}{}
			p.Links = append(p.Links, link)
		}
	}
	slices.SortFunc(p.Links, func(a, b common.DocumentLink) int {
		if a.SourcePath != b.SourcePath {
			return strings.Compare(a.SourcePath, b.SourcePath)
		}
		return strings.Compare(a.TargetPath, b.TargetPath)
	})

	p.Notes = linkNotes(p.Entities, sorted)

	return p
}

// linkNotes connects every entity to the notes whose label matches its own
// ignoring case and copies the entity types and front matter of the first
// such note, in path order, onto the entity.
func linkNotes(entities []common.Entity, docs []common.Document) []common.EntityNote {
	byLabel := make(map[string][]common.Document)
	for _, d := range docs {
		key := strings.ToLower(d.Label)
		byLabel[key] = append(byLabel[key], d)
	}

	var notes []common.EntityNote
	for i := range entities {
		e := &entities[i]
		matches := byLabel[strings.ToLower(e.Label)]
		for _, d := range matches {
			notes = append(notes, common.EntityNote{EntityID: e.ID, Category: e.Category, DocumentPath: d.Path})
		}
		if len(matches) == 0 {
			continue
		}
		note := matches[0]
		e.Types = slices.Clone(note.EntityTypes)
		e.Metadata = maps.Clone(note.Metadata)
	}
	return notes
}

func categoryIndex(c common.Category) int {
	return slices.Index(common.Categories, c)
}
