package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/reembed"
)

// embeddingProcessor re-embeds documents through the batch coordinator.
type embeddingProcessor struct {
	coordinator *reembed.Coordinator
	config      *reembed.Config
	logger      *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(coordinator *reembed.Coordinator, config *reembed.Config, logger *slog.Logger) (processor, error) {
	if coordinator == nil {
		return nil, ErrCoordinatorRequired
	}
	if config == nil {
		config = reembed.DefaultConfig()
	}
	if err := config.Request(nil).Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		coordinator: coordinator,
		config:      config,
		logger:      logger.With("processor", "embeddings"),
	}, nil
}

// process embeds the specified documents. Per-document failures are logged;
// only a storage failure is returned.
func (ep *embeddingProcessor) process(ctx context.Context, ids ...core.ID) error {
	ep.logger.Debug("processing documents for embeddings", "documents", len(ids))

	slices.Sort(ids)
	outcomes, err := ep.coordinator.Run(ctx, ep.config.Request(ids))
	for id, outcome := range outcomes {
		switch outcome.Status {
		case core.StatusFailed:
			ep.logger.Warn("document not embedded", "document", id, "err", outcome.Err)
		case core.StatusEmbedded:
			ep.logger.Debug("document embedded", "document", id, "chunks", outcome.Chunks)
		}
	}
	if err != nil {
		return fmt.Errorf("embedding documents: %w", err)
	}
	return nil
}
