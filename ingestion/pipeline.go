package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/events"
	"github.com/poiesic/inkwell/reembed"
	"github.com/poiesic/inkwell/storage"
)

// Pipeline orchestrates document changes and their embeddings.
type Pipeline struct {
	documents     storage.DocumentRepository
	embeddings    storage.EmbeddingRepository
	embeddingPool *ants.Pool
	embeddingProc processor
	coordinator   *reembed.Coordinator
	bus           *events.Bus
	logger        *slog.Logger
	pending       sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.embeddingPool != nil {
			p.embeddingPool.Release()
		}
		p.embeddingPool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithBus publishes DocumentChanged and DocumentEmbeddingsRemoved events.
func WithBus(bus *events.Bus) Option {
	return func(p *Pipeline) error {
		p.bus = bus
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline. Documents are embedded with
// the model and chunk parameters in config.
func NewPipeline(
	documents storage.DocumentRepository,
	embeddings storage.EmbeddingRepository,
	coordinator *reembed.Coordinator,
	config *reembed.Config,
	opts ...Option,
) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	if coordinator == nil {
		return nil, ErrCoordinatorRequired
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		documents:     documents,
		embeddings:    embeddings,
		embeddingPool: pool,
		coordinator:   coordinator,
		logger:        slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	embeddingProc, err := newEmbeddingProcessor(coordinator, config, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.embeddingProc = embeddingProc

	return p, nil
}

// AddDocument stores a new document and queues it for embedding.
func (p *Pipeline) AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	added, err := p.documents.CreateDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	p.changed(added)
	return added, nil
}

// UpdateDocument stores new fields for an existing document and queues it for
// embedding. Documents whose content did not change are skipped by the
// coordinator.
func (p *Pipeline) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	updated, err := p.documents.UpdateDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	p.changed(updated)
	return updated, nil
}

// DeleteDocument soft deletes a document and removes its embeddings.
// Deletion waits for any embedding of the same document that is in progress.
func (p *Pipeline) DeleteDocument(ctx context.Context, id core.ID) error {
	if err := p.coordinator.DeleteDocument(ctx, id); err != nil {
		return err
	}
	p.publish(events.Event{Kind: events.DocumentEmbeddingsRemoved, DocumentID: id})
	p.logger.Info("document deleted", "document", id)
	return nil
}

// IngestFile creates or updates the document sourced from path. The title is
// the file name without its extension. Unchanged files are left alone.
func (p *Pipeline) IngestFile(ctx context.Context, path string, projectID core.ID) (*core.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", abs, err)
	}
	content := strings.ToValidUTF8(string(data), "�")

	existing, err := p.documents.GetDocumentBySource(ctx, abs)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		title := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		p.logger.Debug("ingesting new file", "path", abs)
		return p.AddDocument(ctx, &core.Document{
			ProjectId: projectID,
			Title:     title,
			Content:   content,
			Source:    abs,
		})
	case err != nil:
		return nil, err
	}

	if existing.Checksum == core.Checksum(content) {
		p.logger.Debug("file unchanged", "path", abs, "document", existing.Id)
		return existing, nil
	}
	existing.Content = content
	p.logger.Debug("ingesting changed file", "path", abs, "document", existing.Id)
	return p.UpdateDocument(ctx, existing)
}

// RemoveFile deletes the document sourced from path, if any.
func (p *Pipeline) RemoveFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	doc, err := p.documents.GetDocumentBySource(ctx, abs)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return p.DeleteDocument(ctx, doc.Id)
}

// Wait blocks until all queued embedding work has finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

// changed announces a stored document and queues it for embedding.
func (p *Pipeline) changed(doc *core.Document) {
	p.publish(events.Event{Kind: events.DocumentChanged, DocumentID: doc.Id})
	if err := p.submit(doc.Id); err != nil {
		p.logger.Error("error queueing document for embedding", "document", doc.Id, "err", err)
	}
}

func (p *Pipeline) submit(ids ...core.ID) error {
	p.pending.Add(1)
	err := p.embeddingPool.Submit(func() {
		defer p.pending.Done()
		if err := p.embeddingProc.process(context.Background(), ids...); err != nil {
			p.logger.Error("error processing embeddings", "err", err)
		}
	})
	if err != nil {
		p.pending.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPipelineReleased
		}
		return err
	}
	return nil
}

func (p *Pipeline) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

// Release waits for queued work and releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.pending.Wait()
	if p.embeddingPool != nil {
		p.embeddingPool.Release()
	}
}
