// Package chunk splits normalized documents into overlapping fixed-size
// passages suitable for embedding and retrieval.
package chunk

import (
	"fmt"

	"github.com/docbot-ai/docbot/internal/source"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Passage is a contiguous slice of a Document's text with the Document's
// provenance metadata copied onto it.
type Passage struct {
	Text     string
	Metadata source.Metadata
}

// Chunker performs deterministic sliding-window splitting. Passages never
// cross Document boundaries; each Document is split independently.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker with the given window size and overlap in characters.
// Non-positive size or negative overlap fall back to the defaults. Overlap
// must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= size {
		return nil, fmt.Errorf("overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split chunks every document and returns the passages in document order.
func (c *Chunker) Split(docs []source.Document) []Passage {
	var passages []Passage
	for _, doc := range docs {
		passages = append(passages, c.splitDocument(doc)...)
	}
	return passages
}

// splitDocument walks the document text with a window of c.size characters,
// stepping by size-overlap. The final passage may be shorter than the window.
// Size and overlap count runes, not bytes, so multi-byte text never splits
// mid-character.
func (c *Chunker) splitDocument(doc source.Document) []Passage {
	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var passages []Passage
	for start := 0; start < len(runes); start += step {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		passages = append(passages, Passage{
			Text:     string(runes[start:end]),
			Metadata: doc.Metadata,
		})
		if end == len(runes) {
			break
		}
	}
	return passages
}
