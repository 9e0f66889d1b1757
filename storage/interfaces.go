package storage

import (
	"context"
	"iter"

	"github.com/poiesic/inkwell/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	// The underlying backend is closed separately by its owner.
	Close() error
}

// DocumentRepository stores documents and hands out durable version numbers.
type DocumentRepository interface {
	Repository

	// CreateDocument stores a new document.
	// Assigns ID, Checksum, Version, InsertedAt and UpdatedAt.
	// Returns the document with generated fields populated.
	CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// GetDocument retrieves a document by ID, including soft deleted ones.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// GetDocumentBySource retrieves the active document ingested from source.
	// Returns ErrNotFound if no active document has that source.
	GetDocumentBySource(ctx context.Context, source string) (*core.Document, error)

	// UpdateDocument stores new title, project or content for an existing document.
	// Recomputes the checksum and draws a new version number.
	// Returns ErrNotFound if the document doesn't exist.
	UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error)

	// SoftDeleteDocument marks a document deleted without removing it.
	// Deleting an already deleted document is not an error.
	// Returns ErrNotFound if the document doesn't exist.
	SoftDeleteDocument(ctx context.Context, id core.ID) error

	// ListDocuments returns all documents ordered by ID.
	// Soft deleted documents are included only when includeDeleted is true.
	ListDocuments(ctx context.Context, includeDeleted bool) ([]*core.Document, error)
}

// EmbeddingRepository is the sole owner of DocumentEmbedding records.
// Records are never modified in place; they are replaced by identifier.
type EmbeddingRepository interface {
	Repository

	// Put inserts or replaces an embedding by its ID.
	// No uniqueness is enforced on (document, chunk, model).
	// Returns core.ErrDimensionMismatch if the vector length differs from
	// the dimension already recorded for the embedding's model.
	Put(ctx context.Context, emb *core.DocumentEmbedding) error

	// ReplaceForDocument removes every embedding of docID and writes embs in a
	// single transaction. Concurrent readers see either the old or the new set.
	// All of embs must belong to docID.
	ReplaceForDocument(ctx context.Context, docID core.ID, embs []*core.DocumentEmbedding) error

	// DeleteForDocument removes all embeddings of a document.
	// Idempotent: no error if none exist.
	DeleteForDocument(ctx context.Context, docID core.ID) error

	// GetForDocument returns the embeddings of a document ordered by chunk index.
	GetForDocument(ctx context.Context, docID core.ID) ([]*core.DocumentEmbedding, error)

	// All lazily yields every stored embedding. Each call starts a fresh
	// traversal over a consistent snapshot. Iteration stops at the first error.
	All(ctx context.Context) iter.Seq2[*core.DocumentEmbedding, error]

	// ModelDimension returns the vector length recorded for model, or 0 if
	// no embedding of that model has been stored.
	ModelDimension(ctx context.Context, model string) (int, error)
}
