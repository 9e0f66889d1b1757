package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is the identifier type used for documents and projects.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Checksum returns the hex encoded BLAKE2b-256 digest of content.
// It is the staleness key for embeddings: a document whose checksum differs
// from the one recorded on its embeddings must be re-embedded.
func Checksum(content string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Document is a unit of text owned by a project.
type Document struct {
	Id         ID
	ProjectId  ID
	Title      string
	Content    string
	Source     string    // Origin of the content (file path for watched files), may be empty
	Checksum   string    // Digest of Content, see Checksum
	Version    uint64    // Drawn from a durable counter, bumped on every update
	Deleted    bool      // Soft delete flag
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// Active reports whether the document exists and is not soft deleted.
func (d *Document) Active() bool {
	return d != nil && !d.Deleted
}

// Chunk is a window of a document's content. Offsets are rune offsets.
type Chunk struct {
	DocumentId ID
	Index      int
	Text       string
	Start      int
	End        int
}

// Metadata keys recorded on every embedding.
const (
	MetaChecksum        = "checksum"
	MetaChunkSize       = "chunk_size"
	MetaChunkOverlap    = "chunk_overlap"
	MetaDocumentVersion = "document_version"
)

// DocumentEmbedding is the persisted vector for one chunk of a document.
type DocumentEmbedding struct {
	Id         string
	DocumentId ID
	ChunkIndex int
	Text       string // Chunk text, kept for snippets
	Start      int
	End        int
	Vector     []float32
	Model      string
	CreatedAt  time.Time
	Metadata   map[string]string
}

// Checksum returns the document checksum the embedding was produced for.
func (e *DocumentEmbedding) Checksum() string {
	return e.Metadata[MetaChecksum]
}

// ChunkParams returns the chunk size and overlap recorded on the embedding.
// Missing or malformed values are reported as -1.
func (e *DocumentEmbedding) ChunkParams() (size, overlap int) {
	return metaInt(e.Metadata, MetaChunkSize), metaInt(e.Metadata, MetaChunkOverlap)
}

// Dimension returns the vector length.
func (e *DocumentEmbedding) Dimension() int {
	return len(e.Vector)
}

func metaInt(m map[string]string, key string) int {
	v, ok := m[key]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// EmbeddingMetadata builds the metadata map recorded on a new embedding.
func EmbeddingMetadata(doc *Document, chunkSize, chunkOverlap int) map[string]string {
	return map[string]string{
		MetaChecksum:        doc.Checksum,
		MetaChunkSize:       strconv.Itoa(chunkSize),
		MetaChunkOverlap:    strconv.Itoa(chunkOverlap),
		MetaDocumentVersion: strconv.FormatUint(doc.Version, 10),
	}
}

// BatchEmbeddingRequest asks for a set of documents to be (re-)embedded.
type BatchEmbeddingRequest struct {
	DocumentIds  []ID
	Model        string
	ChunkSize    int
	ChunkOverlap int
}

// SearchResult is a ranked chunk match. Score is cosine similarity in [-1, 1].
type SearchResult struct {
	DocumentId  ID      `json:"document_id"`
	Title       string  `json:"title"`
	Score       float64 `json:"score"`
	Snippet     string  `json:"snippet"`
	ChunkIndex  int     `json:"chunk_index"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	EmbeddingId string  `json:"embedding_id"`
}

// EmbeddingStatistics summarizes the embedding store.
type EmbeddingStatistics struct {
	TotalEmbeddings          int            `json:"total_embeddings"`
	DocumentCount            int            `json:"document_count"`
	AvgEmbeddingsPerDocument float64        `json:"avg_embeddings_per_document"`
	Model                    string         `json:"model"`
	Dimension                int            `json:"dimension"`
	PerModel                 map[string]int `json:"per_model"`
	PerModelDimension        map[string]int `json:"per_model_dimension"`
	AvgChunkLength           float64        `json:"avg_chunk_length"`
}

// Status is the result of processing one document in a batch.
type Status int

const (
	// StatusEmbedded means fresh embeddings were written.
	StatusEmbedded Status = iota + 1
	// StatusSkipped means existing embeddings were already current.
	StatusSkipped
	// StatusFailed means the document has no embeddings; see Outcome.Err.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEmbedded:
		return "embedded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "embedded":
		*s = StatusEmbedded
	case "skipped":
		*s = StatusSkipped
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Outcome is the per-document result of a batch run.
type Outcome struct {
	Status Status
	Chunks int
	Err    error
}

// Outcomes maps document ids to their batch outcome.
type Outcomes map[ID]Outcome

// Count returns how many outcomes have the given status.
func (o Outcomes) Count(status Status) int {
	n := 0
	for _, outcome := range o {
		if outcome.Status == status {
			n++
		}
	}
	return n
}
