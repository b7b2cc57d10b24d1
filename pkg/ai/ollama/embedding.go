package ollama

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama. Blank input yields a zero
// vector of the configured dimension without a request.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	if strings.TrimSpace(string(input)) == "" {
		return make([]float32, c.embeddingDim), nil
	}

	rCtx, release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	})
	if err != nil {
		return nil, wrapError(rCtx, err)
	}

	c.Record(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	var out []float32
	for _, v := range res.Embeddings {
		for _, val := range v {
			if c.embeddingDim > 0 && len(out) >= c.embeddingDim {
				break
			}
			out = append(out, float32(val))
		}
	}
	return out, nil
}
