package search

import (
	"cmp"
	"fmt"
	"iter"
	"slices"

	"github.com/poiesic/inkwell/core"
)

// DimensionMismatchError records a candidate skipped because its vector
// length differs from the query's.
type DimensionMismatchError struct {
	EmbeddingId string
	DocumentId  core.ID
	Want        int
	Got         int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding %s of document %d has %d dimensions, query has %d",
		e.EmbeddingId, e.DocumentId, e.Got, e.Want)
}

func (e *DimensionMismatchError) Unwrap() error {
	return core.ErrDimensionMismatch
}

// Ranking is the outcome of Rank.
type Ranking struct {
	// Results are ordered by score descending, then document ID, chunk index
	// and embedding ID ascending. No result scores below the threshold.
	Results []*core.SearchResult

	// Skipped lists candidates whose dimension did not match the query.
	Skipped []*DimensionMismatchError
}

// Rank scores every candidate against query and keeps the best topK at or
// above threshold. Result titles are left empty.
func Rank(query []float32, candidates iter.Seq[*core.DocumentEmbedding], threshold float64, topK int) (*Ranking, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", core.ErrInvalidConfiguration, topK)
	}

	ranking := &Ranking{Results: []*core.SearchResult{}}
	for emb := range candidates {
		if len(emb.Vector) != len(query) {
			ranking.Skipped = append(ranking.Skipped, &DimensionMismatchError{
				EmbeddingId: emb.Id,
				DocumentId:  emb.DocumentId,
				Want:        len(query),
				Got:         len(emb.Vector),
			})
			continue
		}
		score, _ := Cosine(query, emb.Vector)
		if score < threshold {
			continue
		}
		ranking.Results = append(ranking.Results, &core.SearchResult{
			DocumentId:  emb.DocumentId,
			Score:       score,
			Snippet:     emb.Text,
			ChunkIndex:  emb.ChunkIndex,
			Start:       emb.Start,
			End:         emb.End,
			EmbeddingId: emb.Id,
		})
	}

	slices.SortFunc(ranking.Results, compareResults)
	if len(ranking.Results) > topK {
		clear(ranking.Results[topK:])
		ranking.Results = ranking.Results[:topK]
	}
	return ranking, nil
}

func compareResults(a, b *core.SearchResult) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.DocumentId, b.DocumentId); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ChunkIndex, b.ChunkIndex); c != 0 {
		return c
	}
	return cmp.Compare(a.EmbeddingId, b.EmbeddingId)
}
