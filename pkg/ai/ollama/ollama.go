package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements the ai.GraphAIClient interface using Ollama as the backend.
type GraphOllamaClient struct {
	ai.MetricsRecorder

	embeddingModel  string
	extractionModel string
	embeddingDim    int
	tokenEncoder    string
	timeout         time.Duration

	reqLock *semaphore.Weighted

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	EmbeddingDim    int

	BaseURL string
	ApiKey  string

	// TokenEncoder is the tiktoken encoding used to size the context window.
	TokenEncoder string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based AI client with the specified configuration.
// It connects to the Ollama server at the given BaseURL (or the default if empty).
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		u = &url.URL{Scheme: "http", Host: "127.0.0.1:11434"}
	}

	rt := http.DefaultTransport
	if params.ApiKey != "" {
		rt = &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		}
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	parallel := params.MaxConcurrentRequests
	if parallel <= 0 {
		parallel = 1
	}
	encoder := params.TokenEncoder
	if encoder == "" {
		encoder = "o200k_base"
	}

	return &GraphOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		embeddingDim:    params.EmbeddingDim,
		tokenEncoder:    encoder,
		timeout:         timeout,

		reqLock: semaphore.NewWeighted(parallel),

		Client: api.NewClient(u, &http.Client{Transport: rt}),
	}, nil
}

// ModelName returns the extraction model, used as part of cache keys.
func (c *GraphOllamaClient) ModelName() string {
	return c.extractionModel
}

// EmbeddingModelName returns the embedding model.
func (c *GraphOllamaClient) EmbeddingModelName() string {
	return c.embeddingModel
}

func (c *GraphOllamaClient) acquire(ctx context.Context) (context.Context, func(), error) {
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
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return ai.WrapRequestError(rCtx, err, statusErr.StatusCode)
	}
	var pStatusErr *api.StatusError
	if errors.As(err, &pStatusErr) {
		return ai.WrapRequestError(rCtx, err, pStatusErr.StatusCode)
	}
	return ai.WrapRequestError(rCtx, err, 0)
}
