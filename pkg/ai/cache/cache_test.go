package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
)

type fakeClient struct {
	ai.MetricsRecorder
	calls      int
	err        error
	embedModel string
}

func (f *fakeClient) ModelName() string { return "fake" }

func (f *fakeClient) EmbeddingModelName() string {
	if f.embedModel == "" {
		return "fake-embed"
	}
	return f.embedModel
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	f.calls++
	return []float32{float32(len(input))}, f.err
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "echo:" + prompt, nil
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return ai.UnmarshalFlexible(`{"relationships":[{"source":"`+prompt+`"}]}`, out)
}

type payload struct {
	Relationships []struct {
		Source string `json:"source"`
	} `json:"relationships"`
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}
func (brokenBackend) Put(context.Context, string, []byte) error { return errors.New("down") }
func (brokenBackend) Close() error                              { return nil }

func newSQLiteClient(t *testing.T, inner ai.GraphAIClient) *Client {
	t.Helper()
	backend, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	c := NewClient(inner, backend)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_FormatIsMemoized(t *testing.T) {
	inner := &fakeClient{}
	c := newSQLiteClient(t, inner)
	ctx := context.Background()

	for range 3 {
		var out payload
		if err := c.GenerateCompletionWithFormat(ctx, "extract", "", "Alice", &out, ai.WithSystemPrompts("sys")); err != nil {
			t.Fatalf("GenerateCompletionWithFormat: %v", err)
		}
		if len(out.Relationships) != 1 || out.Relationships[0].Source != "Alice" {
			t.Fatalf("unexpected output %+v", out)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", inner.calls)
	}

	var other payload
	if err := c.GenerateCompletionWithFormat(ctx, "extract", "", "Alice", &other, ai.WithSystemPrompts("different")); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected a changed system prompt to miss, got %d calls", inner.calls)
	}
}

func TestClient_ErrorsAreNotCached(t *testing.T) {
	inner := &fakeClient{err: ai.Malformed(errors.New("bad json"))}
	c := newSQLiteClient(t, inner)
	ctx := context.Background()

	if _, err := c.GenerateCompletion(ctx, "hi"); err == nil {
		t.Fatal("expected error")
	}
	inner.err = nil
	got, err := c.GenerateCompletion(ctx, "hi")
	if err != nil || got != "echo:hi" {
		t.Fatalf("unexpected %q %v", got, err)
	}
	if _, err := c.GenerateCompletion(ctx, "hi"); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", inner.calls)
	}
}

func TestClient_EmbeddingCached(t *testing.T) {
	inner := &fakeClient{}
	c := newSQLiteClient(t, inner)

	for range 2 {
		vec, err := c.GenerateEmbedding(context.Background(), []byte("abc"))
		if err != nil || len(vec) != 1 || vec[0] != 3 {
			t.Fatalf("unexpected %v %v", vec, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", inner.calls)
	}
}

func TestClient_EmbeddingKeyedByEmbeddingModel(t *testing.T) {
	backend, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	defer backend.Close()
	ctx := context.Background()

	small := &fakeClient{embedModel: "embed-small"}
	if _, err := NewClient(small, backend).GenerateEmbedding(ctx, []byte("abc")); err != nil {
		t.Fatal(err)
	}

	// same extraction model, different embedding model
	large := &fakeClient{embedModel: "embed-large"}
	if _, err := NewClient(large, backend).GenerateEmbedding(ctx, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if large.calls != 1 {
		t.Fatalf("expected a new embedding model to miss the cache, got %d calls", large.calls)
	}

	again := &fakeClient{embedModel: "embed-small"}
	if _, err := NewClient(again, backend).GenerateEmbedding(ctx, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if again.calls != 0 {
		t.Fatalf("expected a hit for the original embedding model, got %d calls", again.calls)
	}
}

func TestClient_BackendFailureFallsThrough(t *testing.T) {
	inner := &fakeClient{}
	c := NewClient(inner, brokenBackend{})

	got, err := c.GenerateCompletion(context.Background(), "x")
	if err != nil || got != "echo:x" {
		t.Fatalf("unexpected %q %v", got, err)
	}
}

func TestKey(t *testing.T) {
	base := ai.GenerateOptions{Model: "m", SystemPrompts: []string{"a"}}
	if Key("k", base, "p") != Key("k", base, "p") {
		t.Fatal("key not stable")
	}
	tests := []struct {
		name string
		opts ai.GenerateOptions
		kind string
		part string
	}{
		{"model", ai.GenerateOptions{Model: "n", SystemPrompts: []string{"a"}}, "k", "p"},
		{"system", ai.GenerateOptions{Model: "m", SystemPrompts: []string{"b"}}, "k", "p"},
		{"kind", base, "j", "p"},
		{"prompt", base, "k", "q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Key(tt.kind, tt.opts, tt.part) == Key("k", base, "p") {
				t.Fatal("expected a different key")
			}
		})
	}
}
