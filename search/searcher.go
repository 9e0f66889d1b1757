package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/inkwell/ai"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
)

// Query describes a semantic search request.
type Query struct {
	Text string
	// Model names the embedding model; empty uses the searcher's default.
	Model     string
	Threshold float64
	TopK      int
	// ProjectId restricts results to one project when set.
	ProjectId *core.ID
}

// Searcher answers semantic queries over stored document embeddings.
type Searcher struct {
	documents    storage.DocumentRepository
	embeddings   storage.EmbeddingRepository
	embedder     ai.Embedder
	defaultModel string
	logger       *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithDefaultModel sets the model used when a query names none.
func WithDefaultModel(model string) Option {
	return func(s *Searcher) error {
		s.defaultModel = model
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	documents storage.DocumentRepository,
	embeddings storage.EmbeddingRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Searcher, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		documents:  documents,
		embeddings: embeddings,
		embedder:   provider.Embedder(),
		logger:     slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")

	return s, nil
}

// Search returns the best matching chunks for q.
func (s *Searcher) Search(ctx context.Context, q Query) ([]*core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, q, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
//
// Candidates are dropped when they belong to another model, to a missing or
// deleted document, to another project, or when their checksum no longer
// matches the document's content. Dimension mismatches are logged and skipped.
func (s *Searcher) SearchWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if q.Model == "" {
		q.Model = s.defaultModel
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	monitor.Start(q)

	queryVec, err := s.embedder.EmbedText(ctx, q.Model, q.Text)
	if err != nil {
		s.logger.Error("error generating embedding for query", "model", q.Model, "err", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrCancelled, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrProviderFailure, err)
	}
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", core.ErrProviderFailure)
	}
	monitor.AfterQueryEmbedding(len(queryVec))

	docs := make(map[core.ID]*core.Document)
	var scanErr error
	candidates := func(yield func(*core.DocumentEmbedding) bool) {
		for emb, err := range s.embeddings.All(ctx) {
			if err != nil {
				scanErr = err
				return
			}
			reason, err := s.exclusion(ctx, q, emb, docs)
			if err != nil {
				scanErr = err
				return
			}
			if reason != "" {
				monitor.CandidateExcluded(emb, reason)
				continue
			}
			if !yield(emb) {
				return
			}
		}
	}

	ranking, err := Rank(queryVec, candidates, q.Threshold, q.TopK)
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		s.logger.Error("error scanning embeddings", "err", scanErr)
		if errors.Is(scanErr, context.Canceled) || errors.Is(scanErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", core.ErrCancelled, scanErr)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrStorageFailure, scanErr)
	}
	for _, skipped := range ranking.Skipped {
		s.logger.Warn("skipping embedding with mismatched dimension",
			"embedding", skipped.EmbeddingId, "document", skipped.DocumentId,
			"want", skipped.Want, "got", skipped.Got)
	}
	monitor.AfterRanking(ranking)

	for _, result := range ranking.Results {
		result.Title = docs[result.DocumentId].Title
	}
	monitor.Finish(ranking.Results)

	return ranking.Results, nil
}

// exclusion returns why emb must not be ranked, or "" if it is eligible.
// Looked up documents are cached in docs; a nil entry marks a missing document.
func (s *Searcher) exclusion(ctx context.Context, q Query, emb *core.DocumentEmbedding, docs map[core.ID]*core.Document) (ExclusionReason, error) {
	if emb.Model != q.Model {
		return ExcludedModel, nil
	}

	doc, seen := docs[emb.DocumentId]
	if !seen {
		var err error
		doc, err = s.documents.GetDocument(ctx, emb.DocumentId)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return "", err
			}
			doc = nil
		}
		docs[emb.DocumentId] = doc
	}

	switch {
	case doc == nil:
		return ExcludedMissingDocument, nil
	case doc.Deleted:
		return ExcludedDeleted, nil
	case q.ProjectId != nil && doc.ProjectId != *q.ProjectId:
		return ExcludedProject, nil
	case emb.Checksum() != doc.Checksum:
		return ExcludedStale, nil
	}
	return "", nil
}

func validateQuery(q Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, ErrEmptyQuery)
	}
	if q.Model == "" {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, core.ErrEmptyModel)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("%w: topK must be positive, got %d", core.ErrInvalidConfiguration, q.TopK)
	}
	return nil
}
