// Package runner defines the contract between the embedder and the
// transformer that actually computes embeddings, plus the providers that
// implement it.
//
// A Provider acquires model weights and reports what hardware it can use.
// Open returns a Runner bound to one accelerator. A Runner is not safe for
// concurrent use; share runners through a Pool.
package runner

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable indicates the model could not be acquired or loaded.
	ErrUnavailable = errors.New("model unavailable")

	// ErrUnsupportedAccelerator indicates a provider cannot run on the
	// requested accelerator.
	ErrUnsupportedAccelerator = errors.New("unsupported accelerator")

	// ErrClosed is returned by a closed Pool or Runner.
	ErrClosed = errors.New("runner closed")
)

// Model describes acquired model weights.
type Model struct {
	Name      string
	Version   string
	Dimension int
	// Path is the local directory holding the weights, if any.
	Path string
}

// Encoding is the tokenizer output for one text.
type Encoding struct {
	// Text is the original input. Runners whose backend takes raw text use it.
	Text string
	IDs  []int
	// Mask is the attention mask; 1 for real tokens, 0 for padding.
	Mask []int
}

// Len returns the number of tokens.
func (e Encoding) Len() int {
	return len(e.IDs)
}

// Tensor is a row-major [Rows x Cols] matrix of per-token hidden states.
// Mask has one entry per row. Pooling is the caller's job.
type Tensor struct {
	Rows int
	Cols int
	Data []float32
	Mask []int
}

// Row returns row i without copying.
func (t Tensor) Row(i int) []float32 {
	return t.Data[i*t.Cols : (i+1)*t.Cols]
}

// Runner computes hidden states for tokenized text.
type Runner interface {
	Tokenize(ctx context.Context, text string) (Encoding, error)
	Forward(ctx context.Context, enc Encoding) (Tensor, error)
	Close() error
}

// Provider acquires a model and opens runners for it.
type Provider interface {
	// Name identifies the provider in logs and config.
	Name() string
	// Hardware reports the accelerators this provider can use here.
	Hardware() Hardware
	// Acquire makes the model available locally, downloading it if needed.
	// It is safe to call repeatedly; the result is cached by the provider.
	Acquire(ctx context.Context) (Model, error)
	// Open loads m onto accel.
	Open(ctx context.Context, m Model, accel Accelerator) (Runner, error)
}
