package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/runner"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"gonum.org/v1/gonum/blas/gonum"
)

var blas32 = gonum.Implementation{}

// MeanPool averages the token rows of t weighted by the attention mask.
// Padding rows (mask 0) do not contribute. A nil mask counts every row.
func MeanPool(t runner.Tensor) (vector.Vector, error) {
	if t.Rows <= 0 || t.Cols <= 0 {
		return nil, fmt.Errorf("empty tensor %dx%d", t.Rows, t.Cols)
	}
	if len(t.Data) != t.Rows*t.Cols {
		return nil, fmt.Errorf("tensor data has %d values, want %d", len(t.Data), t.Rows*t.Cols)
	}
	if t.Mask != nil && len(t.Mask) != t.Rows {
		return nil, fmt.Errorf("mask has %d entries for %d rows", len(t.Mask), t.Rows)
	}

	out := make(vector.Vector, t.Cols)
	var weight float32
	for i := 0; i < t.Rows; i++ {
		w := float32(1)
		if t.Mask != nil {
			w = float32(t.Mask[i])
		}
		if w == 0 {
			continue
		}
		blas32.Saxpy(t.Cols, w, t.Row(i), 1, out, 1)
		weight += w
	}
	if weight == 0 {
		return nil, errors.New("every token is masked")
	}
	blas32.Sscal(t.Cols, 1/weight, out, 1)
	return out, nil
}
