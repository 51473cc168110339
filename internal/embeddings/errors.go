package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
)

var (
	// ErrInit is the root of every initialization failure.
	ErrInit = errors.New("embedder initialization failed")

	// ErrModelUnavailable means the model could not be acquired or loaded.
	ErrModelUnavailable = fmt.Errorf("%w: model unavailable", ErrInit)

	// ErrHardwareUnsupported means the requested accelerator is missing and
	// CPU fallback is disabled.
	ErrHardwareUnsupported = fmt.Errorf("%w: hardware unsupported", ErrInit)
)

var (
	// ErrEmbed is the root of every embedding failure.
	ErrEmbed = errors.New("embedding failed")

	// ErrNotInitialized means the embedder is not Ready.
	ErrNotInitialized = fmt.Errorf("%w: embedder not initialized", ErrEmbed)

	// ErrEmptyInput means the text was empty or only whitespace.
	ErrEmptyInput = fmt.Errorf("%w: empty input", ErrEmbed)

	// ErrModelFailure means the runner failed or produced a degenerate
	// vector. Model failures are never retried.
	ErrModelFailure = fmt.Errorf("%w: model failure", ErrEmbed)

	// ErrDimensionMismatch means two vectors of different length were
	// compared. It also matches vector.ErrDimensionMismatch.
	ErrDimensionMismatch = fmt.Errorf("%w: %w", ErrEmbed, vector.ErrDimensionMismatch)
)
