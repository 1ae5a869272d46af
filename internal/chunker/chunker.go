// Package chunker splits raw document text into bounded, overlapping chunks
// suitable for embedding. The policy is a word-based sliding window: chunk
// boundaries may split mid-sentence, and callers needing semantic chunking
// must pre-segment before ingestion.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// DefaultTargetSize is the default chunk size in words.
const DefaultTargetSize = 400

// DefaultOverlap is the default overlap between consecutive chunks in words.
const DefaultOverlap = 50

// Splitter is a deterministic word-window chunker. The window holds
// targetSize words and advances by targetSize-overlap words per step; the
// final chunk may be shorter and is emitted unless empty.
type Splitter struct {
	// targetSize is the window size in whitespace-separated words.
	targetSize int

	// overlap is the number of words shared between consecutive chunks.
	overlap int
}

// New constructs a Splitter. Passing zero for both values selects the
// defaults (DefaultTargetSize, DefaultOverlap); a zero targetSize with an
// explicit overlap keeps that overlap and defaults only the size. Overlap
// zero alongside an explicit targetSize is honored as "no overlap". The
// configuration must satisfy 0 <= overlap < targetSize; anything else fails
// with an InvalidConfiguration error.
func New(targetSize, overlap int) (*Splitter, error) {
	if targetSize == 0 && overlap == 0 {
		overlap = DefaultOverlap
	}
	if targetSize == 0 {
		targetSize = DefaultTargetSize
	}
	if targetSize < 0 {
		return nil, retrieval.NewError(retrieval.KindInvalidConfiguration, "chunker",
			fmt.Sprintf("target size must be positive, got %d", targetSize))
	}
	if overlap < 0 || overlap >= targetSize {
		return nil, retrieval.NewError(retrieval.KindInvalidConfiguration, "chunker",
			fmt.Sprintf("overlap must satisfy 0 <= overlap < target size, got overlap=%d target=%d", overlap, targetSize))
	}
	return &Splitter{targetSize: targetSize, overlap: overlap}, nil
}

// token is a whitespace-delimited word with its byte offsets in the source.
type token struct {
	// start and end are byte offsets into the original text.
	start, end int
}

// Split returns the chunks of text in sequence order. Chunk text is sliced
// directly from the input, so internal whitespace between words is preserved
// and offsets always point back into the original string. Empty or
// whitespace-only input yields zero chunks.
func (s *Splitter) Split(text string) ([]retrieval.Chunk, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	step := s.targetSize - s.overlap
	chunks := make([]retrieval.Chunk, 0, len(tokens)/step+1)

	seq := 0
	for start := 0; start < len(tokens); start += step {
		end := start + s.targetSize
		if end > len(tokens) {
			end = len(tokens)
		}

		lo := tokens[start].start
		hi := tokens[end-1].end
		chunks = append(chunks, retrieval.Chunk{
			Sequence:    seq,
			Text:        text[lo:hi],
			StartOffset: lo,
			EndOffset:   hi,
		})
		seq++

		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

// WordCount returns the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// tokenize scans text into whitespace-delimited tokens with byte offsets.
// strings.Fields would lose the offsets needed for chunk provenance.
func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, token{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{start: start, end: len(text)})
	}
	return tokens
}
