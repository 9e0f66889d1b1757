package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
)

const selectColumns = `id, document_id, chunk_index, text, start_offset, end_offset, vector, model, created_at, metadata`

// EmbeddingRepository implements storage.EmbeddingRepository on SQLite.
//
// An in-memory database is limited to a single connection, so the body of a
// loop over All must not call back into the same repository.
type EmbeddingRepository struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

var _ storage.EmbeddingRepository = (*EmbeddingRepository)(nil)

// Open opens or creates the embedding database at path.
// An empty path opens a private in-memory database.
func Open(path string) (*EmbeddingRepository, error) {
	var (
		db  *sql.DB
		err error
	)
	if path == "" {
		db, err = sql.Open("sqlite", ":memory:")
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		// WAL lets readers keep their snapshot while a replacement commits
		db, err = sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &EmbeddingRepository{db: db, path: path}, nil
}

// Close closes the database. The repository owns its connection pool.
func (r *EmbeddingRepository) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.db.Close()
}

// Path returns the database file path, empty for in-memory databases.
func (r *EmbeddingRepository) Path() string {
	return r.path
}

// Put inserts or replaces an embedding by its ID.
func (r *EmbeddingRepository) Put(ctx context.Context, emb *core.DocumentEmbedding) error {
	if err := core.ValidateEmbedding(emb); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkDimension(ctx, tx, emb); err != nil {
			return err
		}
		return writeEmbedding(ctx, tx, emb)
	})
}

// ReplaceForDocument swaps the embedding set of a document in one transaction.
func (r *EmbeddingRepository) ReplaceForDocument(ctx context.Context, docID core.ID, embs []*core.DocumentEmbedding) error {
	for _, emb := range embs {
		if err := core.ValidateEmbedding(emb); err != nil {
			return err
		}
		if emb.DocumentId != docID {
			return fmt.Errorf("%w: embedding %s has document %d, want %d", storage.ErrDocumentMismatch, emb.Id, emb.DocumentId, docID)
		}
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, int64(docID)); err != nil {
			return err
		}
		for _, emb := range embs {
			if err := checkDimension(ctx, tx, emb); err != nil {
				return err
			}
			if err := writeEmbedding(ctx, tx, emb); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteForDocument removes all embeddings of a document.
func (r *EmbeddingRepository) DeleteForDocument(ctx context.Context, docID core.ID) error {
	if r.closed.Load() {
		return storage.ErrStorageClosed
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, int64(docID))
	return err
}

// GetForDocument returns the embeddings of a document ordered by chunk index.
func (r *EmbeddingRepository) GetForDocument(ctx context.Context, docID core.ID) ([]*core.DocumentEmbedding, error) {
	if r.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM embeddings WHERE document_id = ? ORDER BY chunk_index, id`, int64(docID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.DocumentEmbedding
	for rows.Next() {
		emb, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, emb)
	}
	return results, rows.Err()
}

// All lazily yields every stored embedding from a single read statement.
func (r *EmbeddingRepository) All(ctx context.Context) iter.Seq2[*core.DocumentEmbedding, error] {
	return func(yield func(*core.DocumentEmbedding, error) bool) {
		if r.closed.Load() {
			yield(nil, storage.ErrStorageClosed)
			return
		}
		rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM embeddings ORDER BY id`)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			emb, err := scanEmbedding(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(emb, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// ModelDimension returns the recorded vector length for model, or 0.
func (r *EmbeddingRepository) ModelDimension(ctx context.Context, model string) (int, error) {
	if r.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	var dim int
	err := r.db.QueryRowContext(ctx, `SELECT dimension FROM model_dimensions WHERE model = ?`, model).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dim, err
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (r *EmbeddingRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if r.closed.Load() {
		return storage.ErrStorageClosed
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// checkDimension enforces one vector length per model, recording the first one seen.
func checkDimension(ctx context.Context, tx *sql.Tx, emb *core.DocumentEmbedding) error {
	var want int
	err := tx.QueryRowContext(ctx, `SELECT dimension FROM model_dimensions WHERE model = ?`, emb.Model).Scan(&want)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `INSERT INTO model_dimensions (model, dimension) VALUES (?, ?)`, emb.Model, len(emb.Vector))
		return err
	case err != nil:
		return err
	}
	if want != len(emb.Vector) {
		return fmt.Errorf("%w: model %q stores %d dimensions, embedding %s has %d",
			core.ErrDimensionMismatch, emb.Model, want, emb.Id, len(emb.Vector))
	}
	return nil
}

func writeEmbedding(ctx context.Context, tx *sql.Tx, emb *core.DocumentEmbedding) error {
	meta, err := encodeMetadata(emb.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO embeddings (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		emb.Id,
		int64(emb.DocumentId),
		emb.ChunkIndex,
		emb.Text,
		emb.Start,
		emb.End,
		encodeVector(emb.Vector),
		emb.Model,
		encodeTime(emb.CreatedAt),
		meta,
	)
	return err
}

func scanEmbedding(rows *sql.Rows) (*core.DocumentEmbedding, error) {
	var (
		emb       core.DocumentEmbedding
		docID     int64
		vector    []byte
		createdAt int64
		meta      string
	)
	if err := rows.Scan(&emb.Id, &docID, &emb.ChunkIndex, &emb.Text, &emb.Start, &emb.End,
		&vector, &emb.Model, &createdAt, &meta); err != nil {
		return nil, err
	}

	var err error
	if emb.Vector, err = decodeVector(vector); err != nil {
		return nil, err
	}
	if emb.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	emb.DocumentId = core.ID(docID)
	emb.CreatedAt = decodeTime(createdAt)
	return &emb, nil
}
