package search

import (
	"errors"
	"math"
	"testing"

	"github.com/poiesic/inkwell/core"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 2}, []float32{-1, -2}, -1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"empty", []float32{}, []float32{}, 0},
		{"45 degrees", []float32{1, 0}, []float32{1, 1}, 1 / math.Sqrt2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Cosine() unexpected error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosine_Symmetric(t *testing.T) {
	a := []float32{0.3, -1.2, 4.5, 0.01}
	b := []float32{2.2, 0.4, -0.7, 3.3}

	ab, _ := Cosine(a, b)
	ba, _ := Cosine(b, a)
	if ab != ba {
		t.Errorf("Cosine(a, b) = %v, Cosine(b, a) = %v", ab, ba)
	}
}

func TestCosine_Bounded(t *testing.T) {
	v := []float32{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}
	got, _ := Cosine(v, v)
	if got > 1 || got < -1 {
		t.Errorf("Cosine(v, v) = %v, outside [-1, 1]", got)
	}
}

func TestCosine_DimensionMismatch(t *testing.T) {
	_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, core.ErrDimensionMismatch) {
		t.Errorf("Cosine() error = %v, want ErrDimensionMismatch", err)
	}
}
