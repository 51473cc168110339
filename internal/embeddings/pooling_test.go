package embeddings

import (
	"testing"

	"github.com/fyrsmithlabs/embedkit/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeanPool(t *testing.T) {
	tests := []struct {
		name   string
		tensor runner.Tensor
		want   []float32
	}{
		{
			name:   "single row is identity",
			tensor: runner.Tensor{Rows: 1, Cols: 3, Data: []float32{1, 2, 3}, Mask: []int{1}},
			want:   []float32{1, 2, 3},
		},
		{
			name:   "average of unmasked rows",
			tensor: runner.Tensor{Rows: 2, Cols: 2, Data: []float32{1, 3, 3, 5}, Mask: []int{1, 1}},
			want:   []float32{2, 4},
		},
		{
			name:   "padding rows ignored",
			tensor: runner.Tensor{Rows: 3, Cols: 2, Data: []float32{2, 4, 1000, 1000, 1000, 1000}, Mask: []int{1, 0, 0}},
			want:   []float32{2, 4},
		},
		{
			name:   "nil mask counts every row",
			tensor: runner.Tensor{Rows: 2, Cols: 1, Data: []float32{1, 2}},
			want:   []float32{1.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MeanPool(tt.tensor)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-6)
			}
		})
	}
}

func TestMeanPool_Errors(t *testing.T) {
	tests := map[string]runner.Tensor{
		"empty":             {},
		"short data":        {Rows: 2, Cols: 2, Data: []float32{1, 2, 3}, Mask: []int{1, 1}},
		"mask length":       {Rows: 2, Cols: 1, Data: []float32{1, 2}, Mask: []int{1}},
		"everything masked": {Rows: 2, Cols: 1, Data: []float32{1, 2}, Mask: []int{0, 0}},
	}
	for name, tensor := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := MeanPool(tensor)
			assert.Error(t, err)
		})
	}
}

func TestMeanPool_DoesNotModifyInput(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	_, err := MeanPool(runner.Tensor{Rows: 2, Cols: 2, Data: data, Mask: []int{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, data)
}
