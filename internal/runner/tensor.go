package runner

import (
	"errors"
	"fmt"
)

// newTensor wraps flat row-major hidden states for the tokens of one input.
func newTensor(data []float32, rows, cols int, mask []int) (Tensor, error) {
	if rows <= 0 || cols <= 0 {
		return Tensor{}, fmt.Errorf("empty hidden states %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return Tensor{}, fmt.Errorf("hidden states have %d values, want %dx%d", len(data), rows, cols)
	}
	if len(mask) != rows {
		return Tensor{}, fmt.Errorf("attention mask has %d entries for %d tokens", len(mask), rows)
	}
	return Tensor{Rows: rows, Cols: cols, Data: data, Mask: mask}, nil
}

// stackRows flattens per-token hidden states into a Tensor.
func stackRows(rows [][]float32, mask []int) (Tensor, error) {
	if len(rows) == 0 {
		return Tensor{}, errors.New("no hidden states")
	}
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return Tensor{}, fmt.Errorf("token %d has %d values, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return newTensor(data, len(rows), cols, mask)
}

// modelInputs converts enc into the int64 input_ids, attention_mask and
// token_type_ids expected by BERT-style ONNX graphs. Token types are all
// zero for single-sentence input.
func modelInputs(enc Encoding) (ids, mask, types []int64, err error) {
	if enc.Len() == 0 {
		return nil, nil, nil, errors.New("no tokens")
	}
	if len(enc.Mask) != enc.Len() {
		return nil, nil, nil, fmt.Errorf("attention mask has %d entries for %d tokens", len(enc.Mask), enc.Len())
	}
	ids = make([]int64, enc.Len())
	mask = make([]int64, enc.Len())
	types = make([]int64, enc.Len())
	for i := range enc.IDs {
		ids[i] = int64(enc.IDs[i])
		mask[i] = int64(enc.Mask[i])
	}
	return ids, mask, types, nil
}
