package textproc

import (
	"fmt"
	"strings"
)

// Chunk is one token-window slice of a document.
type Chunk struct {
	Text       string
	Ordinal    int
	TokenCount int
}

// CountTokens returns the whitespace-token count of text. The chunker and
// the normalizer agree on this definition for sizing purposes.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// SplitTokens slices text into overlapping token-bounded chunks: chunk i
// starts at i*(chunkSize-overlap) tokens and spans chunkSize tokens; the
// final chunk may be shorter. Joining chunk 0 with every later chunk minus
// its first overlap tokens reconstructs the original token sequence.
//
// Requires 0 <= overlap < chunkSize; anything else is a configuration error.
func SplitTokens(text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrChunkConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must satisfy 0 <= overlap < chunk size %d", ErrChunkConfig, overlap, chunkSize)
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyInput
	}

	stride := chunkSize - overlap
	var chunks []Chunk
	for start := 0; start < len(tokens); start += stride {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			Text:       strings.Join(window, " "),
			Ordinal:    len(chunks),
			TokenCount: len(window),
		})
		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}
