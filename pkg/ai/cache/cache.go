// Package cache memoizes LLM responses so unchanged prompts are not sent to
// the provider twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
)

// Backend stores opaque values by key.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Client wraps an ai.GraphAIClient. Only successful responses are stored;
// backend failures are logged and the request falls through to the provider.
type Client struct {
	ai.GraphAIClient
	backend Backend
}

var _ ai.GraphAIClient = (*Client)(nil)

func NewClient(inner ai.GraphAIClient, backend Backend) *Client {
	return &Client{GraphAIClient: inner, backend: backend}
}

// Key derives the cache key for one request.
func Key(kind string, options ai.GenerateOptions, parts ...string) string {
	h := sha256.New()
	write := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write(kind)
	write(options.Model)
	write(options.Thinking)
	var temp [8]byte
	binary.BigEndian.PutUint64(temp[:], math.Float64bits(options.Temperature))
	h.Write(temp[:])
	for _, p := range options.SystemPrompts {
		write(p)
	}
	for _, p := range parts {
		write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) options(opts []ai.GenerateOption) ai.GenerateOptions {
	return ai.ApplyOptions(ai.GenerateOptions{Model: c.ModelName()}, opts...)
}

func (c *Client) get(ctx context.Context, key string) ([]byte, bool) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		logger.Warn("[Cache] lookup failed", "key", key, "err", err)
		return nil, false
	}
	return raw, ok
}

func (c *Client) put(ctx context.Context, key string, raw []byte) {
	if err := c.backend.Put(ctx, key, raw); err != nil {
		logger.Warn("[Cache] store failed", "key", key, "err", err)
	}
}

func (c *Client) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	key := Key("completion", c.options(opts), prompt)
	if raw, ok := c.get(ctx, key); ok {
		return string(raw), nil
	}
	out, err := c.GraphAIClient.GenerateCompletion(ctx, prompt, opts...)
	if err != nil {
		return "", err
	}
	c.put(ctx, key, []byte(out))
	return out, nil
}

func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	key := Key("format", c.options(opts), name, prompt)
	if raw, ok := c.get(ctx, key); ok {
		if err := json.Unmarshal(raw, out); err == nil {
			logger.Debug("[Cache] hit", "name", name)
			return nil
		}
		logger.Warn("[Cache] discarding unreadable entry", "key", key)
	}

	if err := c.GraphAIClient.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...); err != nil {
		return err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		logger.Warn("[Cache] encode failed", "name", name, "err", err)
		return nil
	}
	c.put(ctx, key, raw)
	return nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	key := Key("embedding", ai.GenerateOptions{Model: c.EmbeddingModelName()}, string(input))
	if raw, ok := c.get(ctx, key); ok {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil {
			return vec, nil
		}
	}
	vec, err := c.GraphAIClient.GenerateEmbedding(ctx, input)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(vec); err == nil {
		c.put(ctx, key, raw)
	}
	return vec, nil
}

// Close releases the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}
