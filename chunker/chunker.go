// Package chunker splits document text into overlapping, rune addressed windows.
//
// Offsets are rune offsets into the content, not byte offsets, so that
// snippets and highlights stay valid for multi-byte text.
package chunker

import (
	"github.com/poiesic/inkwell/core"
)

const (
	// DefaultChunkSize is the default number of runes per chunk.
	DefaultChunkSize = 512

	// DefaultChunkOverlap is the default number of runes shared by consecutive chunks.
	DefaultChunkOverlap = 64
)

// Chunker holds a validated chunk size and overlap.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in runes.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.size = size
	}
}

// WithOverlap sets the overlap between chunks in runes.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// New creates a Chunker. It fails with core.ErrInvalidConfiguration when the
// resulting size and overlap do not satisfy 0 <= overlap < size.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := core.ValidateChunkParams(c.size, c.overlap); err != nil {
		return nil, err
	}
	return c, nil
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks content with the configured parameters.
func (c *Chunker) Split(content string) []core.Chunk {
	return split(content, c.size, c.overlap)
}

// Split chunks content into windows of up to chunkSize runes, advancing by
// chunkSize-overlap. The last window may be shorter. Empty content yields no chunks.
func Split(content string, chunkSize, overlap int) ([]core.Chunk, error) {
	if err := core.ValidateChunkParams(chunkSize, overlap); err != nil {
		return nil, err
	}
	return split(content, chunkSize, overlap), nil
}

// SplitDocument chunks a document's content and stamps the document id on each chunk.
func SplitDocument(doc *core.Document, chunkSize, overlap int) ([]core.Chunk, error) {
	chunks, err := Split(doc.Content, chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].DocumentId = doc.Id
	}
	return chunks, nil
}

func split(content string, chunkSize, overlap int) []core.Chunk {
	if content == "" {
		return nil
	}

	runes := []rune(content)
	total := len(runes)
	step := chunkSize - overlap

	chunks := make([]core.Chunk, 0, total/step+1)
	for start := 0; ; start += step {
		end := min(start+chunkSize, total)
		chunks = append(chunks, core.Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		// Once a window reaches the end, any further window would lie inside it.
		if end == total {
			break
		}
	}
	return chunks
}
