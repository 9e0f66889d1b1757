package search

import (
	"fmt"
	"math"

	"github.com/poiesic/inkwell/core"
)

// Cosine returns the cosine similarity of a and b in [-1, 1].
// A zero-norm vector has similarity 0 with anything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", core.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors just past 1
	return max(-1, min(1, score)), nil
}
