package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/internal/util"
	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/normalize"
)

type extractedRelationship struct {
	SourceCategory string `json:"source_category" jsonschema:"enum=Person,enum=Company"`
	SourceLabel    string `json:"source_label" jsonschema:"description=Name of the source entity as written in the text"`
	Relationship   string `json:"relationship" jsonschema:"description=Single lowercase word or underscore joined phrase"`
	TargetCategory string `json:"target_category" jsonschema:"enum=Person,enum=Company"`
	TargetLabel    string `json:"target_label" jsonschema:"description=Name of the target entity as written in the text"`
}

type extractResponse struct {
	Relationships []extractedRelationship `json:"relationships"`
}

type chunkState int

const (
	chunkPending chunkState = iota
	chunkAttempting
	chunkSucceeded
	chunkFailed
)

func (s chunkState) String() string {
	switch s {
	case chunkPending:
		return "pending"
	case chunkAttempting:
		return "attempting"
	case chunkSucceeded:
		return "succeeded"
	case chunkFailed:
		return "failed"
	}
	return "unknown"
}

// chunkResult is the terminal state of one chunk extraction.
type chunkResult struct {
	chunk    common.Chunk
	state    chunkState
	attempts int
	rows     []common.ExtractedRelationship
	err      error
}

// extractChunk runs the attempt loop for one chunk. Every attempt starts
// from scratch; only the rows of the successful attempt are kept.
func (c *GraphClient) extractChunk(ctx context.Context, doc common.Document, chunk common.Chunk) chunkResult {
	res := chunkResult{chunk: chunk, state: chunkPending}
	prompt := fmt.Sprintf(ai.ExtractRelationshipsPrompt, doc.Label)

	rows, err := util.RetryWithContext(ctx, util.RetryOptions{
		MaxTries:  c.maxRetries,
		Delay:     c.retryDelay,
		MaxDelay:  30 * time.Second,
		Retryable: ai.Retryable,
	}, func(ctx context.Context) ([]common.ExtractedRelationship, error) {
		res.state = chunkAttempting
		res.attempts++

		var out extractResponse
		if err := c.ai.GenerateCompletionWithFormat(
			ctx,
			ai.ExtractRelationshipsName,
			ai.ExtractRelationshipsDescription,
			chunk.Content,
			&out,
			ai.WithSystemPrompts(prompt),
		); err != nil {
			logger.Debug("[Extract] Attempt failed", "path", doc.Path, "chunk", chunk.Index, "attempt", res.attempts, "class", ai.Classify(err), "err", err)
			return nil, err
		}
		return toRows(doc.Path, chunk.Index, out.Relationships), nil
	})
	if err != nil {
		res.state = chunkFailed
		res.err = err
		logger.Warn("[Extract] Chunk failed", "path", doc.Path, "chunk", chunk.Index, "attempts", res.attempts, "class", ai.Classify(err), "err", err)
		return res
	}

	res.state = chunkSucceeded
	res.rows = rows
	return res
}

// toRows converts the model output into validated relationships. Rows with
// a category other than Person or Company, an empty label or an empty verb
// are dropped.
func toRows(path string, index int, in []extractedRelationship) []common.ExtractedRelationship {
	rows := make([]common.ExtractedRelationship, 0, len(in))
	for _, r := range in {
		row, ok := normalize.Validate(common.ExtractedRelationship{
			SourceCategory:     common.Category(r.SourceCategory),
			SourceLabel:        r.SourceLabel,
			Verb:               r.Relationship,
			TargetCategory:     common.Category(r.TargetCategory),
			TargetLabel:        r.TargetLabel,
			SourceDocumentPath: path,
			ChunkIndex:         index,
		})
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
