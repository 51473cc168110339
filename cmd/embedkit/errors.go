package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/fyrsmithlabs/embedkit/internal/codec"
	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
)

// Error kinds printed as "error (<kind>): <message>".
const (
	kindInit  = "init"
	kindEmbed = "embed"
	kindCodec = "codec"
	kindIO    = "io"
	kindUsage = "usage"
)

// kindError pins the kind of an error that carries no sentinel.
type kindError struct {
	kind string
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func usageErr(err error) error { return &kindError{kind: kindUsage, err: err} }
func ioErr(err error) error    { return &kindError{kind: kindIO, err: err} }

// errorKind classifies err for the error stream. Sentinels from the
// embedder and codec win over file system errors; anything unrecognized
// came from argument handling.
func errorKind(err error) string {
	var ke *kindError
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	var sysErr *os.SyscallError

	switch {
	case errors.Is(err, embeddings.ErrInit):
		return kindInit
	case errors.Is(err, embeddings.ErrEmbed):
		return kindEmbed
	case errors.Is(err, codec.ErrCodec):
		return kindCodec
	case errors.As(err, &ke):
		return ke.kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return kindEmbed
	case errors.As(err, &pathErr), errors.As(err, &linkErr), errors.As(err, &sysErr),
		errors.Is(err, bufio.ErrTooLong), errors.Is(err, io.ErrUnexpectedEOF):
		return kindIO
	default:
		return kindUsage
	}
}
