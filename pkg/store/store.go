// Package store defines the durable extraction cache and the materialized
// graph store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

// ErrInconsistent is returned when the relation buckets no longer equal the
// recomputation from the per-document tables.
var ErrInconsistent = errors.New("relation buckets diverge from document tables")

// ErrRebuildFailed wraps any error that kept a new graph from becoming
// active. The previous graph stays in place.
var ErrRebuildFailed = errors.New("graph rebuild failed")

// CacheStore is the durable, cumulative result of all extractions.
//
// The per-document legacy tables are the source of truth. The relation
// buckets are a derived view and always equal the normalization of the union
// of all legacy tables.
type CacheStore interface {
	// Update runs fn as one atomic unit. Nothing fn wrote is visible or
	// persisted when it returns an error.
	Update(ctx context.Context, fn func(tx CacheTx) error) error

	ReadAll(ctx context.Context, bucket common.Bucket) ([]common.CanonicalRelationship, error)
	Entities(ctx context.Context, category common.Category) ([]common.Entity, error)
	Legacy(ctx context.Context, path string) ([]common.ExtractedRelationship, bool, error)
	LegacyPaths(ctx context.Context) ([]string, error)

	// RenameDocument moves the legacy table of oldPath to newPath.
	RenameDocument(ctx context.Context, oldPath, newPath string) error
	// Recover recomputes the buckets from the legacy tables.
	Recover(ctx context.Context) error
}

// CacheTx is the write side of one Update.
type CacheTx interface {
	// PurgeDocument removes the legacy table of path and every bucket
	// contribution it made.
	PurgeDocument(path string) error
	PutLegacy(path string, rows []common.ExtractedRelationship) error
	UpsertRelationship(row common.CanonicalRelationship) error
	UpsertEntity(category common.Category, label string, at time.Time) error
}

// GraphStore is the queryable graph. Replace swaps in a complete new graph;
// readers see either the previous or the new graph, never a mix.
type GraphStore interface {
	Replace(ctx context.Context, p *common.Projection) error
	Stats(ctx context.Context) (common.GraphStats, error)
	Entities(ctx context.Context, category common.Category) ([]common.Entity, error)
	Relationships(ctx context.Context, entityID string) ([]common.CanonicalRelationship, error)
	Documents(ctx context.Context, entityID string) ([]common.DocumentNode, error)
	Close() error
}

// ChunkRange calls fn for consecutive [start, end) windows of at most
// chunkSize elements.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}
