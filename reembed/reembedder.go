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

package reembed

import (
	"context"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/poiesic/inkwell/chunker"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
)

// Config holds configuration for embedding runs.
type Config struct {
	// BatchSize is the number of documents handed to the coordinator at once
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxRetries is the number of provider attempts per chunk
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Parallelism is the number of documents processed concurrently
	Parallelism int

	// CallTimeout bounds a single provider call; zero disables it
	CallTimeout time.Duration

	// Model is the embedding model used by full reembedding runs
	Model string

	// ChunkSize and ChunkOverlap are measured in runes
	ChunkSize    int
	ChunkOverlap int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		Parallelism:    4,
		CallTimeout:    30 * time.Second,
		ChunkSize:      chunker.DefaultChunkSize,
		ChunkOverlap:   chunker.DefaultChunkOverlap,
	}
}

// Request builds a batch request for ids from the configured model and
// chunk parameters.
func (c *Config) Request(ids []core.ID) core.BatchEmbeddingRequest {
	return core.BatchEmbeddingRequest{
		DocumentIds:  ids,
		Model:        c.Model,
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
	}
}

// Reembedder brings the embeddings of every active document up to date.
type Reembedder struct {
	coordinator *Coordinator
	config      *Config
	progress    io.Writer
	iterator    *DocumentIterator
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(documents storage.DocumentRepository, coordinator *Coordinator, config *Config, progress io.Writer) (*Reembedder, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if coordinator == nil {
		return nil, ErrCoordinatorRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		coordinator: coordinator,
		config:      config,
		progress:    progress,
		iterator:    NewDocumentIterator(documents, config.BatchSize),
	}, nil
}

// Run embeds every active document with the configured model.
// Documents whose embeddings are already current are skipped.
func (r *Reembedder) Run(ctx context.Context) (core.Outcomes, error) {
	if err := r.config.Request(nil).Validate(); err != nil {
		return nil, err
	}

	total, err := r.iterator.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	outcomes := make(core.Outcomes, total)
	if total == 0 {
		fmt.Fprintf(r.progress, "No documents found (0 documents)\n")
		return outcomes, nil
	}

	fmt.Fprintf(r.progress, "Starting embedding of %d documents with %s (batch size: %d)\n",
		total, r.config.Model, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, func(docs []*core.Document) error {
		ids := make([]core.ID, len(docs))
		for i, doc := range docs {
			ids[i] = doc.Id
		}

		batch, err := r.coordinator.Run(ctx, r.config.Request(ids))
		maps.Copy(outcomes, batch)
		for _, outcome := range batch {
			tracker.Record(outcome.Status)
		}
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		return nil
	})
	tracker.Finish()
	if err != nil {
		return outcomes, err
	}

	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Embedding complete. %d embedded, %d skipped, %d failed in %v (%.1f documents/sec)\n",
		outcomes.Count(core.StatusEmbedded), outcomes.Count(core.StatusSkipped), outcomes.Count(core.StatusFailed),
		elapsed.Round(time.Millisecond), float64(len(outcomes))/max(elapsed.Seconds(), 1e-9))

	return outcomes, nil
}
