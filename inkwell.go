// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package inkwell wires document storage, embedding and semantic search into
// a single Service.
package inkwell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/poiesic/inkwell/ai"
	"github.com/poiesic/inkwell/ai/openai"
	"github.com/poiesic/inkwell/config"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/events"
	"github.com/poiesic/inkwell/ingestion"
	"github.com/poiesic/inkwell/reembed"
	"github.com/poiesic/inkwell/search"
	"github.com/poiesic/inkwell/stats"
	"github.com/poiesic/inkwell/storage"
	"github.com/poiesic/inkwell/storage/badger"
	"github.com/poiesic/inkwell/storage/sqlite"
)

// ErrNotReady is returned by operations on a service that is not open.
var ErrNotReady = errors.New("service is not ready")

// State is a Service lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Service owns every component of an inkwell instance.
//
// New returns an uninitialized service; Open makes it ready. Close waits for
// in-flight operations, then releases everything. Operations outside the
// ready state fail with ErrNotReady.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	inMemory bool

	mu       sync.Mutex
	state    State
	inflight sync.WaitGroup

	backend     *badger.Backend
	documents   storage.DocumentRepository
	embeddings  storage.EmbeddingRepository
	provider    ai.AIProvider
	bus         *events.Bus
	coordinator *reembed.Coordinator
	searcher    *search.Searcher
	aggregator  *stats.Aggregator
	statsCache  *stats.Cache
	pipeline    *ingestion.Pipeline
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProvider uses provider instead of building one from the configuration.
// The service closes it on Close.
func WithProvider(provider ai.AIProvider) Option {
	return func(s *Service) {
		s.provider = provider
	}
}

// WithInMemory keeps the badger database in memory.
func WithInMemory() Option {
	return func(s *Service) {
		s.inMemory = true
	}
}

// New creates an uninitialized service. A nil cfg uses config.Default().
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service")
	return s, nil
}

// Open opens storage and builds every component.
func (s *Service) Open() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return fmt.Errorf("%w: cannot open a service that is %s", ErrNotReady, s.state)
	}

	defer func() {
		if err != nil {
			s.release()
		}
	}()

	s.backend, err = badger.OpenBackend(s.cfg.Storage.DataDir, s.inMemory)
	if err != nil {
		return err
	}
	documents, err := badger.NewDocumentRepository(s.backend)
	if err != nil {
		return err
	}
	s.documents = documents

	switch s.cfg.Storage.EmbeddingBackend {
	case config.BackendSQLite:
		embeddings, err := sqlite.Open(s.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		s.embeddings = embeddings
	default:
		s.embeddings = badger.NewEmbeddingRepository(s.backend)
	}

	if s.provider == nil {
		s.provider, err = openai.NewProvider(s.cfg.AIConfig())
		if err != nil {
			return err
		}
	}

	s.bus = events.NewBus()
	reembedConfig := s.cfg.ReembedConfig()

	s.coordinator, err = reembed.NewCoordinator(s.documents, s.embeddings, s.provider, reembedConfig,
		reembed.WithBus(s.bus), reembed.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.searcher, err = search.NewSearcher(s.documents, s.embeddings, s.provider,
		search.WithDefaultModel(s.cfg.Embedding.Model), search.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.aggregator, err = stats.NewAggregator(s.embeddings)
	if err != nil {
		return err
	}
	s.statsCache = stats.NewCache(s.aggregator, s.bus, s.logger)
	s.pipeline, err = ingestion.NewPipeline(s.documents, s.embeddings, s.coordinator, reembedConfig,
		ingestion.WithBus(s.bus), ingestion.WithLogger(s.logger), ingestion.WithPoolSize(reembedConfig.Parallelism))
	if err != nil {
		return err
	}

	s.state = StateReady
	s.logger.Info("service ready",
		"data_dir", s.cfg.Storage.DataDir,
		"embeddings", s.cfg.Storage.EmbeddingBackend,
		"model", s.cfg.Embedding.Model)
	return nil
}

// Close waits for in-flight operations and releases every component.
// Closing a closed service is a no-op.
func (s *Service) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateShuttingDown:
		s.mu.Unlock()
		return nil
	case StateUninitialized:
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	s.mu.Unlock()

	s.logger.Info("shutting down")
	s.inflight.Wait()
	err := s.release()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return err
}

// release closes whatever has been built, in reverse order.
func (s *Service) release() error {
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	if s.statsCache != nil {
		s.statsCache.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}

	var errs []error
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if s.embeddings != nil {
		if err := s.embeddings.Close(); err != nil {
			s.logger.Error("error closing embedding repository", "err", err)
			errs = append(errs, err)
		}
	}
	if s.documents != nil {
		if err := s.documents.Close(); err != nil {
			s.logger.Error("error closing document repository", "err", err)
			errs = append(errs, err)
		}
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Bus returns the change notification bus. It is nil before Open.
func (s *Service) Bus() *events.Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

// enter registers an in-flight operation.
func (s *Service) enter() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, s.state)
	}
	s.inflight.Add(1)
	return s.inflight.Done, nil
}

// SearchDocuments ranks stored chunks against the query. A zero TopK uses
// the configured default and TopK is capped at the configured maximum.
func (s *Service) SearchDocuments(ctx context.Context, q search.Query) ([]*core.SearchResult, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if q.TopK == 0 {
		q.TopK = s.cfg.Search.DefaultTopK
	}
	q.TopK = min(q.TopK, s.cfg.Search.MaxTopK)
	return s.searcher.Search(ctx, q)
}

// GetEmbeddingStatistics summarizes the embedding store.
func (s *Service) GetEmbeddingStatistics(ctx context.Context) (*core.EmbeddingStatistics, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.statsCache.Get(ctx)
}

// GetEmbeddingStatisticsForModel summarizes the embedding store, reporting
// the dimension of model.
func (s *Service) GetEmbeddingStatisticsForModel(ctx context.Context, model string) (*core.EmbeddingStatistics, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.aggregator.ComputeForModel(ctx, model)
}

// Reembed brings the embeddings of ids up to date with the configured model
// and chunk parameters.
func (s *Service) Reembed(ctx context.Context, ids []core.ID) (core.Outcomes, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.coordinator.Run(ctx, s.cfg.ReembedConfig().Request(ids))
}

// RunBatch runs an explicit batch request.
func (s *Service) RunBatch(ctx context.Context, req core.BatchEmbeddingRequest) (core.Outcomes, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.coordinator.Run(ctx, req)
}

// ReembedAll re-embeds every active document, reporting progress to w.
func (s *Service) ReembedAll(ctx context.Context, w io.Writer) (core.Outcomes, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	r, err := reembed.NewReembedder(s.documents, s.coordinator, s.cfg.ReembedConfig(), w)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// AddDocument stores a document and embeds it in the background.
func (s *Service) AddDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.pipeline.AddDocument(ctx, doc)
}

// UpdateDocument stores new fields for a document and re-embeds it in the
// background when its content changed.
func (s *Service) UpdateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.pipeline.UpdateDocument(ctx, doc)
}

// DeleteDocument soft deletes a document and removes its embeddings.
func (s *Service) DeleteDocument(ctx context.Context, id core.ID) error {
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()
	return s.pipeline.DeleteDocument(ctx, id)
}

// GetDocument returns a document, including soft deleted ones.
func (s *Service) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.documents.GetDocument(ctx, id)
}

// ListDocuments returns documents ordered by ID.
func (s *Service) ListDocuments(ctx context.Context, includeDeleted bool) ([]*core.Document, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.documents.ListDocuments(ctx, includeDeleted)
}

// DocumentEmbeddings returns the stored embeddings of a document.
func (s *Service) DocumentEmbeddings(ctx context.Context, id core.ID) ([]*core.DocumentEmbedding, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.embeddings.GetForDocument(ctx, id)
}

// IngestFile creates or updates the document sourced from path.
func (s *Service) IngestFile(ctx context.Context, path string, projectID core.ID) (*core.Document, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.pipeline.IngestFile(ctx, path, projectID)
}

// NewWatcher creates a watcher over roots using the watch configuration.
// Empty roots use the configured directories.
func (s *Service) NewWatcher(roots ...string) (*ingestion.Watcher, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if len(roots) == 0 {
		roots = s.cfg.Watch.Directories
	}
	w := s.cfg.Watch
	return ingestion.NewWatcher(s.pipeline, roots,
		ingestion.WithExtensions(w.Extensions...),
		ingestion.WithRecursive(w.RecursiveOrDefault()),
		ingestion.WithDebounce(w.Debounce),
		ingestion.WithProject(core.ID(w.ProjectID)),
		ingestion.WithWatcherLogger(s.logger))
}

// Wait blocks until background embedding work has finished.
func (s *Service) Wait() {
	done, err := s.enter()
	if err != nil {
		return
	}
	defer done()
	s.pipeline.Wait()
}
