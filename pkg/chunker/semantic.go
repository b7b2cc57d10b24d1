package chunker

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"

	"golang.org/x/sync/errgroup"
)

// SemanticChunker starts a new chunk wherever the embedding similarity of two
// adjacent sentences drops below the threshold, and otherwise packs sentences
// up to the token limit like SentenceChunker.
type SemanticChunker struct {
	embedder  ai.Embedder
	threshold float64
	maxTokens int
	count     TokenCounter
	parallel  int
}

type NewSemanticChunkerParams struct {
	Embedder  ai.Embedder
	Threshold float64
	MaxTokens int
	Count     TokenCounter
	// Parallel bounds concurrent embedding requests.
	Parallel int
}

func NewSemanticChunker(params NewSemanticChunkerParams) *SemanticChunker {
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	return &SemanticChunker{
		embedder:  params.Embedder,
		threshold: params.Threshold,
		maxTokens: params.MaxTokens,
		count:     params.Count,
		parallel:  parallel,
	}
}

func (c *SemanticChunker) Chunk(ctx context.Context, text string) ([]common.Chunk, error) {
	sentences := splitIntoSentences(strings.TrimSpace(text))
	if len(sentences) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(sentences))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i, s := range sentences {
		g.Go(func() error {
			v, err := c.embedder.GenerateEmbedding(gCtx, []byte(s))
			if err != nil {
				return fmt.Errorf("embed sentence %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	shift := func(i int) bool {
		return cosine(vectors[i-1], vectors[i]) < c.threshold
	}
	return pack(sentences, shift, c.maxTokens, c.count), nil
}

// cosine returns the cosine similarity of a and b. Two zero vectors are
// treated as identical.
func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 && nb == 0 {
		return 1
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
