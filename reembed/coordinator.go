package reembed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/inkwell/ai"
	"github.com/poiesic/inkwell/chunker"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/events"
	"github.com/poiesic/inkwell/storage"
)

// Coordinator runs batch embedding requests against the stores.
// It is safe for concurrent use; concurrent runs touching the same document
// are serialized on that document.
type Coordinator struct {
	documents  storage.DocumentRepository
	embeddings storage.EmbeddingRepository
	embedder   ai.Embedder
	config     *Config
	bus        *events.Bus
	locks      *keyedMutex
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBus publishes an event for every document whose embeddings change.
func WithBus(bus *events.Bus) Option {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

// NewCoordinator creates a coordinator. A nil config uses DefaultConfig.
func NewCoordinator(
	documents storage.DocumentRepository,
	embeddings storage.EmbeddingRepository,
	provider ai.AIProvider,
	config *Config,
	opts ...Option,
) (*Coordinator, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	if config.Parallelism <= 0 {
		return nil, ErrInvalidParallelism
	}

	c := &Coordinator{
		documents:  documents,
		embeddings: embeddings,
		embedder:   provider.Embedder(),
		config:     config,
		locks:      newKeyedMutex(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")
	return c, nil
}

// Run embeds the requested documents and reports an outcome per document.
//
// An invalid request fails before any work starts. Per-document failures are
// recorded in the outcomes and never stop other documents. A storage failure
// cancels the documents that have not started and is returned wrapped in
// core.ErrStorageFailure along with the outcomes gathered so far.
//
// Cancelling ctx stops documents from starting; they fail with
// core.ErrCancelled. Documents already started run to completion.
func (c *Coordinator) Run(ctx context.Context, req core.BatchEmbeddingRequest) (core.Outcomes, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ids := uniqueIDs(req.DocumentIds)
	outcomes := make(core.Outcomes, len(ids))
	if len(ids) == 0 {
		return outcomes, nil
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	pool, err := ants.NewPool(min(c.config.Parallelism, len(ids)))
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		fatal error
	)
	record := func(id core.ID, outcome core.Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		outcomes[id] = outcome
		if err != nil && fatal == nil {
			fatal = err
			cancel(err)
		}
	}

	c.logger.Debug("starting batch", "documents", len(ids), "model", req.Model)
	for _, id := range ids {
		if runCtx.Err() != nil {
			record(id, cancelled(runCtx), nil)
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			outcome, err := c.processDocument(runCtx, id, req)
			record(id, outcome, err)
		}); err != nil {
			wg.Done()
			record(id, core.Outcome{Status: core.StatusFailed, Err: err}, nil)
		}
	}
	wg.Wait()

	c.logger.Info("batch finished",
		"embedded", outcomes.Count(core.StatusEmbedded),
		"skipped", outcomes.Count(core.StatusSkipped),
		"failed", outcomes.Count(core.StatusFailed))

	if fatal != nil {
		return outcomes, fmt.Errorf("%w: %w", core.ErrStorageFailure, fatal)
	}
	return outcomes, nil
}

// DeleteDocument soft deletes a document and removes its embeddings while
// holding the document's lock, so an embedding run already in progress for
// it finishes first and later runs see the document as deleted.
func (c *Coordinator) DeleteDocument(ctx context.Context, id core.ID) error {
	unlock := c.locks.Lock(id)
	defer unlock()

	if err := c.documents.SoftDeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := c.embeddings.DeleteForDocument(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorageFailure, err)
	}
	return nil
}

// processDocument brings one document's embeddings up to date. A non-nil
// error is a storage failure that must stop the batch.
func (c *Coordinator) processDocument(ctx context.Context, id core.ID, req core.BatchEmbeddingRequest) (core.Outcome, error) {
	if ctx.Err() != nil {
		return cancelled(ctx), nil
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if ctx.Err() != nil {
		return cancelled(ctx), nil
	}
	// From here the document finishes even if the batch is cancelled
	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With("document", id)

	doc, err := c.documents.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failed(fmt.Errorf("%w: %d", core.ErrNotFound, id)), nil
		}
		return failed(err), err
	}
	if doc.Deleted {
		return failed(fmt.Errorf("%w: %d is deleted", core.ErrNotFound, id)), nil
	}

	existing, err := c.embeddings.GetForDocument(ctx, id)
	if err != nil {
		return failed(err), err
	}
	if upToDate(doc, existing, req) {
		logger.Debug("embeddings are current")
		return core.Outcome{Status: core.StatusSkipped, Chunks: len(existing)}, nil
	}
	if doc.Content == "" && len(existing) == 0 {
		return core.Outcome{Status: core.StatusSkipped}, nil
	}

	chunks, err := chunker.SplitDocument(doc, req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		return failed(err), nil
	}

	embs, reason := c.embedChunks(ctx, doc, chunks, req)
	if reason != nil {
		logger.Warn("embedding failed, discarding document embeddings", "err", reason)
		if err := c.embeddings.DeleteForDocument(ctx, id); err != nil {
			return failed(reason), err
		}
		if len(existing) > 0 {
			c.publish(events.Event{Kind: events.DocumentEmbeddingsRemoved, DocumentID: id, Model: req.Model})
		}
		return failed(reason), nil
	}

	if err := c.embeddings.ReplaceForDocument(ctx, id, embs); err != nil {
		if errors.Is(err, core.ErrDimensionMismatch) {
			// The model's stored dimension disagrees with what the provider returned
			logger.Warn("provider dimension disagrees with stored embeddings", "err", err)
			if delErr := c.embeddings.DeleteForDocument(ctx, id); delErr != nil {
				return failed(err), delErr
			}
			return failed(err), nil
		}
		return failed(err), err
	}

	kind := events.DocumentReembedded
	if len(embs) == 0 {
		kind = events.DocumentEmbeddingsRemoved
	}
	c.publish(events.Event{Kind: kind, DocumentID: id, Model: req.Model, Chunks: len(embs)})
	logger.Debug("document embedded", "chunks", len(embs))
	return core.Outcome{Status: core.StatusEmbedded, Chunks: len(embs)}, nil
}

// embedChunks embeds every chunk. It returns a failure reason instead of
// partial results when any chunk cannot be embedded.
func (c *Coordinator) embedChunks(ctx context.Context, doc *core.Document, chunks []core.Chunk, req core.BatchEmbeddingRequest) ([]*core.DocumentEmbedding, error) {
	meta := core.EmbeddingMetadata(doc, req.ChunkSize, req.ChunkOverlap)
	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	embs := make([]*core.DocumentEmbedding, 0, len(chunks))
	dim := 0
	for _, chunk := range chunks {
		vec, err := c.embedText(ctx, req.Model, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", core.ErrProviderFailure, chunk.Index, err)
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: chunk %d: empty vector", core.ErrProviderFailure, chunk.Index)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, chunk 0 has %d",
				core.ErrDimensionMismatch, chunk.Index, len(vec), dim)
		}

		embs = append(embs, &core.DocumentEmbedding{
			Id:         uuid.NewString(),
			DocumentId: doc.Id,
			ChunkIndex: chunk.Index,
			Text:       chunk.Text,
			Start:      chunk.Start,
			End:        chunk.End,
			Vector:     vec,
			Model:      req.Model,
			CreatedAt:  createdAt,
			Metadata:   meta,
		})
	}
	return embs, nil
}

// embedText calls the provider with a per-attempt timeout and retries.
func (c *Coordinator) embedText(ctx context.Context, model, text string) ([]float32, error) {
	var vec []float32
	err := RetryWithBackoff(ctx, func(attempt int) error {
		if attempt > 1 {
			c.logger.Debug("retrying embedding call", "model", model, "attempt", attempt)
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.config.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		}
		defer cancel()

		v, err := c.embedder.EmbedText(callCtx, model, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}, c.config.MaxRetries, c.config.RetryDelay)
	return vec, err
}

func (c *Coordinator) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

// upToDate reports whether existing embeddings already match the document's
// content, the requested model and the chunk parameters.
func upToDate(doc *core.Document, existing []*core.DocumentEmbedding, req core.BatchEmbeddingRequest) bool {
	if len(existing) == 0 {
		return false
	}
	for _, emb := range existing {
		if emb.Model != req.Model || emb.Checksum() != doc.Checksum {
			return false
		}
		size, overlap := emb.ChunkParams()
		if size != req.ChunkSize || overlap != req.ChunkOverlap {
			return false
		}
	}
	return true
}

func uniqueIDs(ids []core.ID) []core.ID {
	seen := make(map[core.ID]struct{}, len(ids))
	out := make([]core.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func failed(reason error) core.Outcome {
	return core.Outcome{Status: core.StatusFailed, Err: reason}
}

func cancelled(ctx context.Context) core.Outcome {
	return failed(fmt.Errorf("%w: %w", core.ErrCancelled, context.Cause(ctx)))
}
