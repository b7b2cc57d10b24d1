package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/normalize"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
)

// mergeDocument replaces everything cached for path with rows and records
// the run. It is a no-op returning ErrStaleGeneration when a newer run for
// path has started.
func (c *GraphClient) mergeDocument(ctx context.Context, path string, gen uint64, rows []common.ExtractedRelationship, status common.DocumentStatus) (common.DocumentStatus, error) {
	unlock := c.gens.Lock(path)
	defer unlock()

	if !c.gens.Current(path, gen) {
		logger.Info("[Pipeline] Discarding superseded run", "path", path, "generation", gen)
		return status, ErrStaleGeneration
	}

	now := c.now()
	rows = normalize.Stamp(rows, now)
	err := c.cache.Update(ctx, func(tx store.CacheTx) error {
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
			canonical, ok := normalize.Canonicalize(r)
			if !ok {
				continue
			}
			if err := tx.UpsertRelationship(canonical); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return status, fmt.Errorf("merge %s: %w", path, err)
	}

	status.ProcessedAt = now.UTC().Truncate(time.Second)
	for i := range status.Failures {
		status.Failures[i].At = status.ProcessedAt
	}
	if err := c.tracker.Record(ctx, status); err != nil {
		return status, fmt.Errorf("record %s: %w", path, err)
	}
	return status, nil
}

// purgeDocument drops a document that left the vault. Any in-flight run for
// path is superseded.
func (c *GraphClient) purgeDocument(ctx context.Context, path string) error {
	c.gens.Begin(path)
	unlock := c.gens.Lock(path)
	defer unlock()

	if err := c.cache.Update(ctx, func(tx store.CacheTx) error {
		return tx.PurgeDocument(path)
	}); err != nil {
		return fmt.Errorf("purge %s: %w", path, err)
	}
	if err := c.tracker.Forget(ctx, path); err != nil {
		return fmt.Errorf("forget %s: %w", path, err)
	}
	logger.Info("[Pipeline] Removed document", "path", path)
	return nil
}

// moveDocument carries the cached extraction of a renamed file over to its
// new path without calling the model again.
func (c *GraphClient) moveDocument(ctx context.Context, from, to string) error {
	c.gens.Begin(from)
	c.gens.Begin(to)

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	unlockFirst := c.gens.Lock(first)
	defer unlockFirst()
	unlockSecond := c.gens.Lock(second)
	defer unlockSecond()

	if err := c.cache.RenameDocument(ctx, from, to); err != nil {
		return fmt.Errorf("move %s: %w", from, err)
	}
	if err := c.tracker.Rename(ctx, from, to); err != nil {
		return fmt.Errorf("move %s: %w", from, err)
	}
	logger.Info("[Pipeline] Moved document", "from", from, "to", to)
	return nil
}
