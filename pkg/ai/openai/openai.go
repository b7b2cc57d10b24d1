package openai

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient talks to an OpenAI compatible API. It keeps separate
// clients for chat and embeddings so both can point at different hosts.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	ai.MetricsRecorder

	embeddingModel  string
	extractionModel string
	embeddingDim    int

	chatURL string
	timeout time.Duration

	reqLock *semaphore.Weighted

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for creating
// a new GraphOpenAIClient.
//
// Timeout bounds every single request. MaxConcurrentRequests limits how
// many requests are in flight at once across all callers.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	EmbeddingDim    int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

// NewGraphOpenAIClient creates a client configured with the provided parameters.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		ExtractionModel: "gpt-4o-mini",
//		ChatKey:         os.Getenv("OPENAI_API_KEY"),
//		Timeout:         2 * time.Minute,
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = 4
	}
	embedURL, embedKey := params.EmbeddingURL, params.EmbeddingKey
	if embedKey == "" {
		embedURL, embedKey = params.ChatURL, params.ChatKey
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		embeddingDim:    params.EmbeddingDim,

		chatURL: params.ChatURL,
		timeout: timeout,

		reqLock: semaphore.NewWeighted(parallel),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(embedURL, embedKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are owned by the extractor.
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ModelName returns the extraction model, used as part of cache keys.
func (c *GraphOpenAIClient) ModelName() string {
	return c.extractionModel
}

// EmbeddingModelName returns the embedding model.
func (c *GraphOpenAIClient) EmbeddingModelName() string {
	return c.embeddingModel
}

// acquire limits concurrency and derives the per-request timeout context.
func (c *GraphOpenAIClient) acquire(ctx context.Context) (context.Context, func(), error) {
	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		cancel()
		return nil, nil, ai.WrapRequestError(rCtx, err, 0)
	}
	return rCtx, func() {
		c.reqLock.Release(1)
		cancel()
	}, nil
}

func wrapError(rCtx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ai.WrapRequestError(rCtx, err, apiErr.StatusCode)
	}
	return ai.WrapRequestError(rCtx, err, 0)
}
