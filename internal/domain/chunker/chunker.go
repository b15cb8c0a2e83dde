// Package chunker splits message bodies into bounded, overlapping text
// chunks, the unit of embedding and search.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidChunkParams reports a configuration error. It is never
// retried; callers are expected to fail fast on it.
type ErrInvalidChunkParams struct {
	MaxChars     int
	OverlapChars int
}

func (e ErrInvalidChunkParams) Error() string {
	return fmt.Sprintf("chunker: invalid parameters: max_chars=%d overlap_chars=%d (need max_chars > overlap_chars >= 0)", e.MaxChars, e.OverlapChars)
}

// Chunker produces deterministic chunks for identical input, which the
// ingestion pipeline relies on for idempotent re-runs.
type Chunker struct {
	MaxChars     int
	OverlapChars int
}

func New(maxChars, overlapChars int) (*Chunker, error) {
	if overlapChars < 0 || maxChars <= overlapChars {
		return nil, ErrInvalidChunkParams{MaxChars: maxChars, OverlapChars: overlapChars}
	}
	return &Chunker{MaxChars: maxChars, OverlapChars: overlapChars}, nil
}

// Split chunks text greedily up to MaxChars, preferring a sentence or
// whitespace boundary inside a lookback window before falling back to
// a hard cut. Every chunk after the first starts OverlapChars before
// the previous chunk's end. Whitespace-only text yields no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.MaxChars {
		return []string{text}
	}

	lookback := c.MaxChars / 5
	if lookback < 1 {
		lookback = 1
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.MaxChars
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		cut := boundaryCut(runes, end, lookback)
		// A boundary cut must still make forward progress past the
		// overlap region, otherwise chunking would stall.
		if cut <= start+c.OverlapChars {
			cut = end
		}

		chunks = append(chunks, string(runes[start:cut]))
		start = cut - c.OverlapChars
	}

	return chunks
}

// boundaryCut scans backwards from the hard limit looking first for a
// sentence end, then for any whitespace. Returns the index one past
// the boundary, or end when the window contains neither.
func boundaryCut(runes []rune, end, lookback int) int {
	low := end - lookback
	if low < 0 {
		low = 0
	}

	for i := end - 1; i > low; i-- {
		if isSentenceEnd(runes[i-1]) && unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	for i := end - 1; i > low; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}
