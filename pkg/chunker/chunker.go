// Package chunker splits document bodies into ordered chunks for extraction.
package chunker

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

// Chunker splits text into ordered chunks. Implementations are
// deterministic for identical input and configuration.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]common.Chunk, error)
}

// TokenCounter returns the number of tokens in s.
type TokenCounter func(s string) int

// TiktokenCounter returns a TokenCounter backed by the named tiktoken encoding.
func TiktokenCounter(encoding string) (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load token encoding %q: %w", encoding, err)
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// SentenceChunker packs whole sentences into chunks of at most MaxTokens.
// A sentence longer than the limit becomes its own chunk.
type SentenceChunker struct {
	maxTokens int
	count     TokenCounter
}

func NewSentenceChunker(maxTokens int, count TokenCounter) *SentenceChunker {
	return &SentenceChunker{maxTokens: maxTokens, count: count}
}

func (c *SentenceChunker) Chunk(ctx context.Context, text string) ([]common.Chunk, error) {
	sentences := splitIntoSentences(strings.TrimSpace(text))
	if len(sentences) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pack(sentences, nil, c.maxTokens, c.count), nil
}

// pack groups consecutive sentences. A group is closed when adding the next
// sentence would exceed maxTokens or when breakBefore reports a topic shift.
func pack(sentences []string, breakBefore func(i int) bool, maxTokens int, count TokenCounter) []common.Chunk {
	var chunks []common.Chunk
	start := 0

	emit := func(end int) {
		chunks = append(chunks, common.Chunk{
			Index:   len(chunks),
			Content: strings.TrimSpace(strings.Join(sentences[start:end], " ")),
		})
		start = end
	}

	for i := 1; i < len(sentences); i++ {
		if breakBefore != nil && breakBefore(i) {
			emit(i)
			continue
		}
		if maxTokens > 0 && count != nil && count(strings.Join(sentences[start:i+1], " ")) > maxTokens {
			emit(i)
		}
	}
	emit(len(sentences))
	return chunks
}
