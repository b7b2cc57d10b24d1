// Package config assembles the runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/internal/util"

	"github.com/go-playground/validator"
)

type Config struct {
	VaultPath string `validate:"required"`
	StateDir  string `validate:"required"`
	Debug     bool

	AIAdapter    string `validate:"oneof=openai ollama"`
	ChatURL      string
	ChatKey      string
	ExtractModel string `validate:"required"`
	EmbedURL     string
	EmbedKey     string
	EmbedModel   string
	AITimeout    time.Duration `validate:"gt=0"`
	AIParallel   int           `validate:"min=1"`

	ParallelFiles int `validate:"min=1"`
	MaxRetries    int `validate:"min=1,max=10"`
	RetryFailed   bool

	Chunker        string  `validate:"oneof=sentence semantic"`
	ChunkThreshold float64 `validate:"gte=0,lte=1"`
	ChunkMaxTokens int     `validate:"min=16"`
	TokenEncoder   string  `validate:"required"`

	GraphAdapter  string `validate:"oneof=sqlite neo4j"`
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	LLMCache string `validate:"oneof=sqlite redis none"`
	RedisURL string
	CacheTTL time.Duration

	Watch    bool
	Debounce time.Duration `validate:"gt=0"`
	Port     string

	AWSRegion    string
	AWSEndpoint  string
	AWSAccessKey string
	AWSSecretKey string
	AWSBucket    string
	AWSPrefix    string
	SnapshotKeep int `validate:"min=0"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer reads the configuration for the read-only query server, which
// needs neither the AI provider nor the chunker settings.
func LoadServer() (*Config, error) {
	cfg := Read()
	if err := validator.New().StructPartial(cfg, "StateDir", "GraphAdapter"); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.GraphAdapter == "neo4j" && cfg.Neo4jURI == "" {
		return nil, errors.New("invalid configuration: NEO4J_URI is required for GRAPH_ADAPTER=neo4j")
	}
	return cfg, nil
}

// Read reads the configuration from the environment without validating it.
func Read() *Config {
	vaultPath := util.GetEnv("VAULT_PATH")
	stateDir := util.GetEnv("STATE_DIR")
	if stateDir == "" && vaultPath != "" {
		stateDir = filepath.Join(vaultPath, ".vaultgraph")
	}

	cfg := &Config{
		VaultPath: vaultPath,
		StateDir:  stateDir,
		Debug:     util.GetEnvBool("DEBUG", false),

		AIAdapter:    util.GetEnvString("AI_ADAPTER", "openai"),
		ChatURL:      util.GetEnv("AI_CHAT_URL"),
		ChatKey:      util.GetEnv("AI_CHAT_KEY"),
		ExtractModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
		EmbedURL:     util.GetEnv("AI_EMBED_URL"),
		EmbedKey:     util.GetEnv("AI_EMBED_KEY"),
		EmbedModel:   util.GetEnv("AI_EMBED_MODEL"),
		AITimeout:    util.GetEnvSeconds("AI_TIMEOUT_SECONDS", 120*time.Second),
		AIParallel:   util.GetEnvInt("AI_PARALLEL_REQ", 4),

		ParallelFiles: util.GetEnvInt("PARALLEL_FILES", 5),
		MaxRetries:    util.GetEnvInt("MAX_RETRIES", 3),
		RetryFailed:   util.GetEnvBool("RETRY_FAILED", false),

		Chunker:        util.GetEnvString("CHUNKER", "sentence"),
		ChunkThreshold: util.GetEnvNumeric("CHUNK_THRESHOLD", 0.75),
		ChunkMaxTokens: util.GetEnvInt("CHUNK_MAX_TOKENS", 1024),
		TokenEncoder:   util.GetEnvString("TOKEN_ENCODER", "o200k_base"),

		GraphAdapter:  util.GetEnvString("GRAPH_ADAPTER", "sqlite"),
		Neo4jURI:      util.GetEnv("NEO4J_URI"),
		Neo4jUser:     util.GetEnvString("NEO4J_USER", "neo4j"),
		Neo4jPassword: util.GetEnv("NEO4J_PASSWORD"),
		Neo4jDatabase: util.GetEnvString("NEO4J_DATABASE", "neo4j"),

		LLMCache: util.GetEnvString("LLM_CACHE", "sqlite"),
		RedisURL: util.GetEnv("REDIS_URL"),
		CacheTTL: util.GetEnvSeconds("LLM_CACHE_TTL_SECONDS", 0),

		Watch:    util.GetEnvBool("WATCH", false),
		Debounce: util.GetEnvSeconds("DEBOUNCE_SECONDS", 5*time.Second),
		Port:     util.GetEnv("PORT"),

		AWSRegion:    util.GetEnvString("AWS_REGION", "us-east-1"),
		AWSEndpoint:  util.GetEnv("AWS_ENDPOINT"),
		AWSAccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		AWSSecretKey: util.GetEnv("AWS_SECRET_KEY"),
		AWSBucket:    util.GetEnv("AWS_BUCKET"),
		AWSPrefix:    util.GetEnvString("AWS_PREFIX", "vaultgraph"),
		SnapshotKeep: util.GetEnvInt("SNAPSHOT_KEEP", 10),
	}
	return cfg
}

// Validate checks field constraints and the settings that depend on each
// other.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var errs []error
	if c.GraphAdapter == "neo4j" && c.Neo4jURI == "" {
		errs = append(errs, errors.New("NEO4J_URI is required for GRAPH_ADAPTER=neo4j"))
	}
	if c.LLMCache == "redis" && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for LLM_CACHE=redis"))
	}
	if c.Chunker == "semantic" && c.EmbedModel == "" {
		errs = append(errs, errors.New("AI_EMBED_MODEL is required for CHUNKER=semantic"))
	}
	if c.AWSBucket != "" && (c.AWSAccessKey == "") != (c.AWSSecretKey == "") {
		errs = append(errs, errors.New("AWS_ACCESS_KEY and AWS_SECRET_KEY must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) CacheDir() string     { return filepath.Join(c.StateDir, "cache") }
func (c *Config) GraphPath() string    { return filepath.Join(c.StateDir, "graph.db") }
func (c *Config) TrackerPath() string  { return filepath.Join(c.StateDir, "tracker.db") }
func (c *Config) LLMCachePath() string { return filepath.Join(c.StateDir, "llm_cache.db") }
func (c *Config) LockDir() string      { return filepath.Join(c.StateDir, "locks") }

// SnapshotsEnabled reports whether rebuilt graphs are exported to S3.
func (c *Config) SnapshotsEnabled() bool { return c.AWSBucket != "" }
