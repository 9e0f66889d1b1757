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

package stats

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"unicode/utf8"

	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
)

// ErrEmbeddingRepositoryRequired is returned when no embedding repository is given.
var ErrEmbeddingRepositoryRequired = errors.New("embedding repository is required")

// Aggregator computes EmbeddingStatistics from an embedding repository.
type Aggregator struct {
	embeddings storage.EmbeddingRepository
}

// NewAggregator creates an aggregator reading from embeddings.
func NewAggregator(embeddings storage.EmbeddingRepository) (*Aggregator, error) {
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	return &Aggregator{embeddings: embeddings}, nil
}

// Compute summarizes every stored embedding. Model and Dimension describe
// the model with the most embeddings; ties go to the lexically smallest name.
func (a *Aggregator) Compute(ctx context.Context) (*core.EmbeddingStatistics, error) {
	t, err := a.fold(ctx)
	if err != nil {
		return nil, err
	}
	return t.statistics(t.dominant()), nil
}

// ComputeForModel summarizes every stored embedding and reports Model and
// Dimension for model. Dimension is 0 if model has no embeddings.
func (a *Aggregator) ComputeForModel(ctx context.Context, model string) (*core.EmbeddingStatistics, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, core.ErrEmptyModel)
	}
	t, err := a.fold(ctx)
	if err != nil {
		return nil, err
	}
	return t.statistics(model), nil
}

type tally struct {
	total      int
	documents  map[core.ID]struct{}
	perModel   map[string]int
	dimensions map[string]int
	runes      int
}

func (a *Aggregator) fold(ctx context.Context) (*tally, error) {
	t := &tally{
		documents:  make(map[core.ID]struct{}),
		perModel:   make(map[string]int),
		dimensions: make(map[string]int),
	}
	for emb, err := range a.embeddings.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", core.ErrCancelled, err)
			}
			return nil, fmt.Errorf("%w: %w", core.ErrStorageFailure, err)
		}
		t.total++
		t.documents[emb.DocumentId] = struct{}{}
		t.perModel[emb.Model]++
		if _, ok := t.dimensions[emb.Model]; !ok {
			t.dimensions[emb.Model] = len(emb.Vector)
		}
		t.runes += utf8.RuneCountInString(emb.Text)
	}
	return t, nil
}

func (t *tally) dominant() string {
	var (
		best  string
		count int
	)
	for model, n := range t.perModel {
		if n > count || (n == count && model < best) {
			best, count = model, n
		}
	}
	return best
}

func (t *tally) statistics(model string) *core.EmbeddingStatistics {
	stats := &core.EmbeddingStatistics{
		TotalEmbeddings:   t.total,
		DocumentCount:     len(t.documents),
		Model:             model,
		Dimension:         t.dimensions[model],
		PerModel:          maps.Clone(t.perModel),
		PerModelDimension: maps.Clone(t.dimensions),
	}
	if stats.DocumentCount > 0 {
		stats.AvgEmbeddingsPerDocument = float64(t.total) / float64(stats.DocumentCount)
	}
	if t.total > 0 {
		stats.AvgChunkLength = float64(t.runes) / float64(t.total)
	}
	return stats
}
