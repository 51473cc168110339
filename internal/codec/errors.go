package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrCodec is the root of every codec failure.
	ErrCodec = errors.New("codec")

	// ErrMalformedInput indicates a byte stream that is not a structurally
	// valid collection.
	ErrMalformedInput = fmt.Errorf("%w: malformed input", ErrCodec)

	// ErrDimensionMismatch indicates a record whose length differs from the
	// declared dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrCodec)
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// parseErr converts a negative protowire length into a malformed-input error.
func parseErr(what string, n int) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedInput, what, protowire.ParseError(n))
}
