package chunker

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// wordCount stands in for a tokenizer so tests need no encoder download.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: []string(nil),
		},
		{
			name: "multiple sentences",
			text: "Hello world. This is a test! How are you?",
			want: []string{"Hello world.", "This is a test!", "How are you?"},
		},
		{
			name: "sentences with empty lines",
			text: "First sentence.\n\nSecond sentence.",
			want: []string{"First sentence.", "Second sentence."},
		},
		{
			name: "multi-line sentence",
			text: "This is a long\nsentence that spans\nmultiple lines.",
			want: []string{"This is a long sentence that spans multiple lines."},
		},
		{
			name: "text with table",
			text: "Introduction text.\nHeader1 | Header2\n------- | -------\nValue1  | Value2\nConclusion text.",
			want: []string{
				"Introduction text.",
				"Header1 | Header2\n------- | -------\nValue1  | Value2",
				"Conclusion text.",
			},
		},
		{
			name: "table without delimiter",
			text: "Header1 | Header2\nValue1  | Value2",
			want: []string{"Header1 | Header2", "Value1  | Value2"},
		},
		{
			name: "mixed content",
			text: "Start here.\n\n| Col1 | Col2 |\n|------|------|\n| Val1 | Val2 |\n\nEnd here!",
			want: []string{
				"Start here.",
				"| Col1 | Col2 |\n|------|------|\n| Val1 | Val2 |",
				"End here!",
			},
		},
		{
			name: "numeric listing stays in one sentence",
			text: "Today we discuss three points. 1. First item 2. Second item 3. Third item. Done!",
			want: []string{
				"Today we discuss three points.",
				"1. First item 2. Second item 3. Third item.",
				"Done!",
			},
		},
		{
			name: "wiki links and quotes",
			text: "Alice met [[Bob]] at \"Acme.\" They talked.",
			want: []string{"Alice met [[Bob]] at \"Acme.\"", "They talked."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIntoSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitIntoSentences() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSentenceChunker(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxTokens int
		want      []string
	}{
		{
			name:      "under limit",
			text:      "First sentence. Second sentence.",
			maxTokens: 10,
			want:      []string{"First sentence. Second sentence."},
		},
		{
			name:      "split by token limit",
			text:      "First sentence. Second sentence. Third sentence.",
			maxTokens: 3,
			want:      []string{"First sentence.", "Second sentence.", "Third sentence."},
		},
		{
			name:      "oversized sentence kept whole",
			text:      "Short. This sentence is much longer than the limit allows.",
			maxTokens: 2,
			want:      []string{"Short.", "This sentence is much longer than the limit allows."},
		},
		{
			name:      "empty text",
			text:      "   ",
			maxTokens: 10,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewSentenceChunker(tt.maxTokens, wordCount)
			got, err := c.Chunk(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Chunk() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Chunk() returned %d chunks, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, ch := range got {
				if ch.Index != i {
					t.Errorf("chunk[%d].Index = %d", i, ch.Index)
				}
				if ch.Content != tt.want[i] {
					t.Errorf("chunk[%d].Content = %q, want %q", i, ch.Content, tt.want[i])
				}
			}
		})
	}
}

func TestSentenceChunker_Deterministic(t *testing.T) {
	text := "Alice works at Acme. Bob knows Alice.\n\nCarol founded Initech. Dave advises Carol."
	c := NewSentenceChunker(6, wordCount)

	first, err := c.Chunk(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := c.Chunk(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("chunking not deterministic: %+v vs %+v", first, again)
		}
	}
}

// topicEmbedder maps sentences mentioning "Acme" and everything else onto
// orthogonal vectors.
type topicEmbedder struct {
	fail bool
}

func (e topicEmbedder) GenerateEmbedding(_ context.Context, input []byte) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding backend down")
	}
	if strings.Contains(string(input), "Acme") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func TestSemanticChunker(t *testing.T) {
	text := "Alice works at Acme. Acme builds rockets. Bob likes tea. Bob drinks tea daily."
	c := NewSemanticChunker(NewSemanticChunkerParams{
		Embedder:  topicEmbedder{},
		Threshold: 0.75,
		MaxTokens: 100,
		Count:     wordCount,
	})

	got, err := c.Chunk(context.Background(), text)
	if err != nil {
		t.Fatalf("Chunk() error = %v", err)
	}
	want := []string{
		"Alice works at Acme. Acme builds rockets.",
		"Bob likes tea. Bob drinks tea daily.",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Content != want[i] || got[i].Index != i {
			t.Errorf("chunk[%d] = %+v, want %q", i, got[i], want[i])
		}
	}
}

func TestSemanticChunker_TokenLimit(t *testing.T) {
	text := "Acme one two. Acme three four. Acme five six."
	c := NewSemanticChunker(NewSemanticChunkerParams{
		Embedder:  topicEmbedder{},
		Threshold: 0.5,
		MaxTokens: 6,
		Count:     wordCount,
	})

	got, err := c.Chunk(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "Acme one two. Acme three four." {
		t.Fatalf("unexpected chunks %+v", got)
	}
}

func TestSemanticChunker_EmbeddingError(t *testing.T) {
	c := NewSemanticChunker(NewSemanticChunkerParams{Embedder: topicEmbedder{fail: true}, Threshold: 0.5})
	if _, err := c.Chunk(context.Background(), "One. Two."); err == nil {
		t.Fatal("expected embedding error")
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := cosine(nil, nil); got != 1 {
		t.Fatalf("expected zero vectors to match, got %v", got)
	}
}
