package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// processDocument runs chunking, extraction and entity resolution for doc
// and merges the outcome under generation gen.
//
// Failed chunks are left out of the merge and reported in the returned
// status. A chunking error leaves the cache and the tracker untouched.
func (c *GraphClient) processDocument(ctx context.Context, doc common.Document, gen uint64) (common.DocumentStatus, error) {
	chunks, err := c.chunker.Chunk(ctx, doc.Body)
	if err != nil {
		return common.DocumentStatus{}, fmt.Errorf("chunk %s: %w", doc.Path, err)
	}
	for i := range chunks {
		chunks[i].DocumentPath = doc.Path
		chunks[i].Index = i
	}
	logger.Debug("[Pipeline] Chunked document", "path", doc.Path, "chunks", len(chunks), "generation", gen)

	results := make([]chunkResult, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelChunks)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = c.extractChunk(gCtx, doc, chunk)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return common.DocumentStatus{}, err
	}

	status := common.DocumentStatus{
		Path:        doc.Path,
		ContentHash: doc.ContentHash,
		ChunksTotal: len(chunks),
	}
	var rows []common.ExtractedRelationship
	for _, res := range results {
		if res.state != chunkSucceeded {
			status.Failures = append(status.Failures, common.ChunkFailure{
				DocumentPath: doc.Path,
				ChunkIndex:   res.chunk.Index,
				Class:        string(ai.Classify(res.err)),
				Message:      res.err.Error(),
				Attempts:     res.attempts,
			})
			continue
		}
		status.ChunksSucceeded++
		rows = append(rows, res.rows...)
	}
	status.State = common.StateFor(status.ChunksTotal, status.ChunksSucceeded)

	rows = Resolve(doc.Path, doc.Renames, rows)
	status, err = c.mergeDocument(ctx, doc.Path, gen, rows, status)
	if err != nil {
		return status, err
	}

	switch status.State {
	case common.DocumentProcessed:
		logger.Info("[Pipeline] Processed document", "path", doc.Path, "relationships", len(rows), "chunks", status.ChunksTotal)
	default:
		logger.Warn("[Pipeline] Processed document with failures", "path", doc.Path, "state", status.State, "summary", status.Summary())
	}
	return status, nil
}
