package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/internal/config"
	"github.com/OFFIS-RIT/vaultgraph/internal/queue"
	"github.com/OFFIS-RIT/vaultgraph/internal/server"
	mid "github.com/OFFIS-RIT/vaultgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/vaultgraph/internal/storage"
	"github.com/OFFIS-RIT/vaultgraph/internal/util"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/ai/cache"
	oai "github.com/OFFIS-RIT/vaultgraph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/vaultgraph/pkg/ai/openai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/chunker"
	"github.com/OFFIS-RIT/vaultgraph/pkg/graph"
	"github.com/OFFIS-RIT/vaultgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger/console"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store/csv"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store/neo4j"
	"github.com/OFFIS-RIT/vaultgraph/pkg/store/sqlite"
	"github.com/OFFIS-RIT/vaultgraph/pkg/tracker"
	"github.com/OFFIS-RIT/vaultgraph/pkg/vault"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		logger.Fatal("Could not create state dir", "dir", cfg.StateDir, "err", err)
	}

	// only one worker may own a vault
	lease, err := leaselock.New(cfg.LockDir()).Acquire(ctx, "worker", leaselock.Options{})
	if err != nil {
		if errors.Is(err, leaselock.ErrBusy) {
			logger.Fatal("Another worker is already processing this vault", "state_dir", cfg.StateDir)
		}
		logger.Fatal("Could not acquire worker lock", "err", err)
	}
	defer lease.Release()

	v, err := vault.NewVault(vault.NewVaultParams{Root: cfg.VaultPath})
	if err != nil {
		logger.Fatal("Could not open vault", "err", err)
	}

	aiClient := newAIClient(ctx, cfg)
	if c, ok := aiClient.(*cache.Client); ok {
		defer c.Close()
	}

	ch, err := newChunker(cfg, aiClient)
	if err != nil {
		logger.Fatal("Could not create chunker", "err", err)
	}

	cacheStore, err := csv.Open(ctx, cfg.CacheDir())
	if err != nil {
		logger.Fatal("Could not open extraction cache", "dir", cfg.CacheDir(), "err", err)
	}

	graphStore, err := newGraphStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not open graph store", "adapter", cfg.GraphAdapter, "err", err)
	}
	defer graphStore.Close()

	tr, err := tracker.Open(ctx, cfg.TrackerPath())
	if err != nil {
		logger.Fatal("Could not open tracker", "err", err)
	}
	defer tr.Close()

	var onRebuild graph.RebuildHook
	if cfg.SnapshotsEnabled() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3Params{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			logger.Fatal("Could not create S3 client", "err", err)
		}
		files := cacheStore.TableFiles()
		if cfg.GraphAdapter == "sqlite" {
			files = append(files, cfg.GraphPath())
		}
		exporter := storage.NewExporter(storage.NewExporterParams{
			Client: s3Client,
			Bucket: cfg.AWSBucket,
			Prefix: cfg.AWSPrefix,
			Files:  files,
			Keep:   cfg.SnapshotKeep,
		})
		onRebuild = exporter.Export
	}

	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Source:  v,
		Chunker: ch,
		AI:      aiClient,
		Cache:   cacheStore,
		Graph:   graphStore,
		Tracker: tr,

		ParallelFiles:  cfg.ParallelFiles,
		ParallelChunks: cfg.AIParallel,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     time.Second,
		RetryFailed:    cfg.RetryFailed,

		OnRebuild: onRebuild,
	})
	if err != nil {
		logger.Fatal("Could not create graph client", "err", err)
	}

	workCtx := lease.Context

	if cfg.Port != "" {
		go func() {
			app := &mid.App{Graph: graphStore, Tracker: tr}
			if err := server.Serve(workCtx, app, cfg.Port); err != nil {
				logger.Error("Query server stopped", "err", err)
			}
		}()
	}

	if _, err := queue.RunVault(workCtx, client, aiClient); err != nil && workCtx.Err() == nil {
		logger.Error("Initial vault run failed", "err", err)
	}

	if !cfg.Watch {
		logger.Info("Vault processed, exiting")
		return
	}

	watcher, err := queue.NewWatcher(v)
	if err != nil {
		logger.Fatal("Could not watch vault", "err", err)
	}
	defer watcher.Close()

	go func() {
		if err := watcher.Run(workCtx); err != nil {
			logger.Error("Watcher stopped", "err", err)
		}
	}()

	logger.Info("Watching for changes", "vault", v.Root(), "debounce", cfg.Debounce)
	events := queue.Supersede(workCtx, watcher.Events(), client)
	batches := queue.Debounce(workCtx, events, cfg.Debounce)
	queue.Consume(workCtx, batches, client, v.Include, aiClient)

	logger.Info("Shutdown signal received, exiting...")
}

func newAIClient(ctx context.Context, cfg *config.Config) ai.GraphAIClient {
	var aiClient ai.GraphAIClient

	switch cfg.AIAdapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  cfg.EmbedModel,
			ExtractionModel: cfg.ExtractModel,

			BaseURL:      cfg.ChatURL,
			ApiKey:       cfg.ChatKey,
			TokenEncoder: cfg.TokenEncoder,

			Timeout:               cfg.AITimeout,
			MaxConcurrentRequests: int64(cfg.AIParallel),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  cfg.EmbedModel,
			ExtractionModel: cfg.ExtractModel,

			EmbeddingURL: cfg.EmbedURL,
			EmbeddingKey: cfg.EmbedKey,
			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,

			Timeout:               cfg.AITimeout,
			MaxConcurrentRequests: int64(cfg.AIParallel),
		})
	}

	var backend cache.Backend
	switch cfg.LLMCache {
	case "sqlite":
		b, err := cache.NewSQLiteBackend(ctx, cfg.LLMCachePath())
		if err != nil {
			logger.Fatal("Could not open LLM cache", "path", cfg.LLMCachePath(), "err", err)
		}
		backend = b
	case "redis":
		b, err := cache.NewRedisBackend(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Fatal("Could not connect to redis", "err", err)
		}
		backend = b
	default:
		return aiClient
	}
	return cache.NewClient(aiClient, backend)
}

func newChunker(cfg *config.Config, embedder ai.Embedder) (chunker.Chunker, error) {
	count, err := chunker.TiktokenCounter(cfg.TokenEncoder)
	if err != nil {
		return nil, err
	}
	if cfg.Chunker == "semantic" {
		return chunker.NewSemanticChunker(chunker.NewSemanticChunkerParams{
			Embedder:  embedder,
			Threshold: cfg.ChunkThreshold,
			MaxTokens: cfg.ChunkMaxTokens,
			Count:     count,
			Parallel:  cfg.AIParallel,
		}), nil
	}
	return chunker.NewSentenceChunker(cfg.ChunkMaxTokens, count), nil
}

func newGraphStore(ctx context.Context, cfg *config.Config) (store.GraphStore, error) {
	if cfg.GraphAdapter == "neo4j" {
		return neo4j.NewGraphStore(ctx, neo4j.NewGraphStoreParams{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
	}
	return sqlite.Open(ctx, cfg.GraphPath())
}
