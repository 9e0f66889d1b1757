package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
)

// EmbeddingRepository implements storage.EmbeddingRepository using BadgerDB.
//
// Each embedding is stored under its own key with a secondary index keyed by
// document and chunk index, and the vector dimension of every model is
// recorded so mixed dimensions are rejected at write time.
type EmbeddingRepository struct {
	backend *Backend
}

var _ storage.EmbeddingRepository = (*EmbeddingRepository)(nil)

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(backend *Backend) *EmbeddingRepository {
	return &EmbeddingRepository{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (r *EmbeddingRepository) Close() error {
	return nil
}

// Put inserts or replaces an embedding by its ID.
func (r *EmbeddingRepository) Put(ctx context.Context, emb *core.DocumentEmbedding) error {
	if err := core.ValidateEmbedding(emb); err != nil {
		return err
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		dims := map[string]int{}
		if err := r.checkDimension(tx, dims, emb); err != nil {
			return err
		}

		// A replaced record may have moved to another document or chunk
		old, err := r.readEmbedding(tx, emb.Id)
		if err != nil {
			return err
		}
		if old != nil {
			if err := tx.Delete(makeEmbeddingDocKey(old.DocumentId, old.ChunkIndex, old.Id)); err != nil {
				return err
			}
		}

		if err := r.writeEmbedding(tx, emb); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
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

	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := r.deleteForDocument(tx, docID); err != nil {
			return err
		}

		dims := map[string]int{}
		for _, emb := range embs {
			if err := r.checkDimension(tx, dims, emb); err != nil {
				return err
			}
			if err := r.writeEmbedding(tx, emb); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// DeleteForDocument removes all embeddings of a document.
func (r *EmbeddingRepository) DeleteForDocument(ctx context.Context, docID core.ID) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := r.deleteForDocument(tx, docID); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetForDocument returns the embeddings of a document ordered by chunk index.
func (r *EmbeddingRepository) GetForDocument(ctx context.Context, docID core.ID) ([]*core.DocumentEmbedding, error) {
	var results []*core.DocumentEmbedding
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		ids, err := r.documentEmbeddingIDs(tx, docID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			emb, err := r.readEmbedding(tx, id)
			if err != nil {
				return err
			}
			if emb != nil {
				results = append(results, emb)
			}
		}
		return nil
	}, false)
	return results, err
}

// All lazily yields every stored embedding from a read-only snapshot.
func (r *EmbeddingRepository) All(ctx context.Context) iter.Seq2[*core.DocumentEmbedding, error] {
	return func(yield func(*core.DocumentEmbedding, error) bool) {
		stopped := false
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(embeddingPrefix + ":")
			it := tx.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				var emb *core.DocumentEmbedding
				if err := it.Item().Value(func(val []byte) error {
					var err error
					emb, err = storage.UnmarshalEmbedding(val)
					return err
				}); err != nil {
					return err
				}
				if !yield(emb, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		}, false)
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// ModelDimension returns the recorded vector length for model, or 0.
func (r *EmbeddingRepository) ModelDimension(ctx context.Context, model string) (int, error) {
	var dim int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		dim, err = r.readDimension(tx, model)
		return err
	}, false)
	return dim, err
}

// deleteForDocument removes a document's records and index entries within tx.
func (r *EmbeddingRepository) deleteForDocument(tx *badger.Txn, docID core.ID) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialEmbeddingDocKey(docID)
	opts.PrefetchValues = false
	it := tx.NewIterator(opts)

	var indexKeys [][]byte
	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		indexKeys = append(indexKeys, key)
		ids = append(ids, string(key[len(opts.Prefix)+8:]))
	}
	it.Close()

	for i, key := range indexKeys {
		if err := tx.Delete(key); err != nil {
			return err
		}
		if err := tx.Delete(makeEmbeddingKey(ids[i])); err != nil {
			return err
		}
	}
	return nil
}

// documentEmbeddingIDs returns embedding IDs of a document in chunk order.
func (r *EmbeddingRepository) documentEmbeddingIDs(tx *badger.Txn, docID core.ID) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialEmbeddingDocKey(docID)
	opts.PrefetchValues = false
	it := tx.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		ids = append(ids, string(key[len(opts.Prefix)+8:]))
	}
	return ids, nil
}

// writeEmbedding stores the record and its document index entry.
func (r *EmbeddingRepository) writeEmbedding(tx *badger.Txn, emb *core.DocumentEmbedding) error {
	if err := tx.Set(makeEmbeddingKey(emb.Id), storage.MarshalEmbedding(emb)); err != nil {
		return err
	}
	return tx.Set(makeEmbeddingDocKey(emb.DocumentId, emb.ChunkIndex, emb.Id), nil)
}

// checkDimension enforces one vector length per model. pending holds
// dimensions claimed earlier in the same transaction.
func (r *EmbeddingRepository) checkDimension(tx *badger.Txn, pending map[string]int, emb *core.DocumentEmbedding) error {
	want, ok := pending[emb.Model]
	if !ok {
		var err error
		want, err = r.readDimension(tx, emb.Model)
		if err != nil {
			return err
		}
	}
	if want == 0 {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(len(emb.Vector)))
		if err := tx.Set(makeEmbeddingDimKey(emb.Model), buf); err != nil {
			return err
		}
		pending[emb.Model] = len(emb.Vector)
		return nil
	}
	if want != len(emb.Vector) {
		return fmt.Errorf("%w: model %q stores %d dimensions, embedding %s has %d",
			core.ErrDimensionMismatch, emb.Model, want, emb.Id, len(emb.Vector))
	}
	pending[emb.Model] = want
	return nil
}

func (r *EmbeddingRepository) readDimension(tx *badger.Txn, model string) (int, error) {
	item, err := tx.Get(makeEmbeddingDimKey(model))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var dim int
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return storage.ErrTruncatedData
		}
		dim = int(binary.BigEndian.Uint64(val))
		return nil
	})
	return dim, err
}

// readEmbedding reads an embedding within a transaction.
// Returns nil, nil if the embedding doesn't exist.
func (r *EmbeddingRepository) readEmbedding(tx *badger.Txn, id string) (*core.DocumentEmbedding, error) {
	item, err := tx.Get(makeEmbeddingKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var emb *core.DocumentEmbedding
	err = item.Value(func(val []byte) error {
		var err error
		emb, err = storage.UnmarshalEmbedding(val)
		return err
	})
	return emb, err
}
