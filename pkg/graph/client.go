package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/chunker"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
	"github.com/OFFIS-RIT/vaultgraph/pkg/tracker"
)

// Source lists and loads the documents of a vault.
type Source interface {
	Scan(ctx context.Context) ([]common.Document, error)
	Load(rel string) (common.Document, error)
	Include(rel string) bool
}

// Tracker is the ChangeDetector's memory of processed documents.
type Tracker interface {
	Decide(ctx context.Context, doc common.Document, retryFailed bool) (tracker.Decision, error)
	Record(ctx context.Context, status common.DocumentStatus) error
	Forget(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Hashes(ctx context.Context) (map[string]string, error)
}

// RebuildHook runs after every successful rebuild with the new projection.
type RebuildHook func(ctx context.Context, p *common.Projection) error

// GraphClient runs the incremental extraction pipeline: change detection,
// chunking, extraction, entity resolution, merge into the cache and graph
// rebuild.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	source  Source
	chunker chunker.Chunker
	ai      ai.GraphAIClient
	cache   store.CacheStore
	graph   store.GraphStore
	tracker Tracker

	parallelFiles  int
	parallelChunks int
	maxRetries     int
	retryDelay     time.Duration
	retryFailed    bool

	onRebuild RebuildHook
	now       func() time.Time

	gens      *generations
	rebuildMu sync.Mutex
}

// NewGraphClientParams defines the collaborators and limits of a GraphClient.
//
// ParallelFiles bounds how many documents are processed at once and
// ParallelChunks how many chunks of one document are extracted at once.
// MaxRetries is the attempt budget per chunk and defaults to 3.
// RetryFailed reprocesses unchanged documents whose last run was partial
// or failed.
type NewGraphClientParams struct {
	Source  Source
	Chunker chunker.Chunker
	AI      ai.GraphAIClient
	Cache   store.CacheStore
	Graph   store.GraphStore
	Tracker Tracker

	ParallelFiles  int
	ParallelChunks int
	MaxRetries     int
	RetryDelay     time.Duration
	RetryFailed    bool

	OnRebuild RebuildHook
	Now       func() time.Time
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Source:        v,
//		Chunker:       chunker.NewSentenceChunker(1024, count),
//		AI:            aiClient,
//		Cache:         cacheStore,
//		Graph:         graphStore,
//		Tracker:       tr,
//		ParallelFiles: 5,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	switch {
	case params.Source == nil:
		return nil, errors.New("graph: source is required")
	case params.Chunker == nil:
		return nil, errors.New("graph: chunker is required")
	case params.AI == nil:
		return nil, errors.New("graph: ai client is required")
	case params.Cache == nil:
		return nil, errors.New("graph: cache store is required")
	case params.Graph == nil:
		return nil, errors.New("graph: graph store is required")
	case params.Tracker == nil:
		return nil, errors.New("graph: tracker is required")
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	parallelFiles := params.ParallelFiles
	if parallelFiles <= 0 {
		parallelFiles = 1
	}
	parallelChunks := params.ParallelChunks
	if parallelChunks <= 0 {
		parallelChunks = 4
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &GraphClient{
		source:         params.Source,
		chunker:        params.Chunker,
		ai:             params.AI,
		cache:          params.Cache,
		graph:          params.Graph,
		tracker:        params.Tracker,
		parallelFiles:  parallelFiles,
		parallelChunks: parallelChunks,
		maxRetries:     maxRetries,
		retryDelay:     params.RetryDelay,
		retryFailed:    params.RetryFailed,
		onRebuild:      params.OnRebuild,
		now:            now,
		gens:           newGenerations(),
	}, nil
}
