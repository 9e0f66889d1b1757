package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
)

// DocumentRepository implements storage.DocumentRepository using BadgerDB.
type DocumentRepository struct {
	backend    *Backend
	idSeq      *badger.Sequence
	versionSeq *badger.Sequence
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	idSeq, err := backend.GetSequence(documentIDSeq)
	if err != nil {
		return nil, err
	}
	versionSeq, err := backend.GetSequence(documentVersionSeq)
	if err != nil {
		idSeq.Release()
		return nil, err
	}

	return &DocumentRepository{
		backend:    backend,
		idSeq:      idSeq,
		versionSeq: versionSeq,
	}, nil
}

// Close releases the ID and version sequences.
func (r *DocumentRepository) Close() error {
	return errors.Join(r.idSeq.Release(), r.versionSeq.Release())
}

// CreateDocument stores a new document.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		nextID, err := nextFromSequence(r.idSeq)
		if err != nil {
			return err
		}
		version, err := nextFromSequence(r.versionSeq)
		if err != nil {
			return err
		}

		doc.Id = core.ID(nextID)
		doc.Version = version
		doc.Checksum = core.Checksum(doc.Content)
		doc.Deleted = false
		doc.InsertedAt = now()
		doc.UpdatedAt = doc.InsertedAt

		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}
		if doc.Source != "" {
			if err := tx.Set(makeDocumentSourceKey(doc.Source), storage.MarshalID(doc.Id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.readDocument(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetDocumentBySource retrieves the active document ingested from source.
func (r *DocumentRepository) GetDocumentBySource(ctx context.Context, source string) (*core.Document, error) {
	if source == "" {
		return nil, storage.ErrInvalidQuery
	}

	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeDocumentSourceKey(source))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		var id core.ID
		if err := item.Value(func(val []byte) error {
			var err error
			id, err = storage.UnmarshalID(val)
			return err
		}); err != nil {
			return err
		}

		result, err = r.readDocument(tx, id)
		if err != nil {
			return err
		}
		if !result.Active() {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// UpdateDocument stores new fields for an existing document.
// Version always advances; Checksum follows Content.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		old, err := r.readDocument(tx, doc.Id)
		if err != nil {
			return err
		}
		// Deleted documents are frozen
		if !old.Active() {
			return storage.ErrNotFound
		}

		version, err := nextFromSequence(r.versionSeq)
		if err != nil {
			return err
		}

		doc.Version = version
		doc.Checksum = core.Checksum(doc.Content)
		doc.Deleted = false
		doc.InsertedAt = old.InsertedAt
		doc.UpdatedAt = now()

		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}

		// Update source index if source changed
		if old.Source != doc.Source {
			if old.Source != "" {
				if err := tx.Delete(makeDocumentSourceKey(old.Source)); err != nil {
					return err
				}
			}
			if doc.Source != "" {
				if err := tx.Set(makeDocumentSourceKey(doc.Source), storage.MarshalID(doc.Id)); err != nil {
					return err
				}
			}
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SoftDeleteDocument marks a document deleted and drops it from the source index.
func (r *DocumentRepository) SoftDeleteDocument(ctx context.Context, id core.ID) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		doc, err := r.readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		if doc.Deleted {
			return nil
		}

		doc.Deleted = true
		doc.UpdatedAt = now()
		if err := tx.Set(makeDocumentKey(id), storage.MarshalDocument(doc)); err != nil {
			return err
		}
		if doc.Source != "" {
			if err := tx.Delete(makeDocumentSourceKey(doc.Source)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// ListDocuments returns documents ordered by ID.
func (r *DocumentRepository) ListDocuments(ctx context.Context, includeDeleted bool) ([]*core.Document, error) {
	var results []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(documentPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc *core.Document
			err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			})
			if err != nil {
				return err
			}
			if doc.Deleted && !includeDeleted {
				continue
			}
			results = append(results, doc)
		}
		return nil
	}, false)
	return results, err
}

// readDocument reads a document within a transaction.
// Returns nil, nil if the document doesn't exist.
func (r *DocumentRepository) readDocument(tx *badger.Txn, id core.ID) (*core.Document, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

// now returns the current time at the precision records are stored with.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
