package codec

import (
	"fmt"
	"io"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
)

// autoFlushBytes triggers a flush once this many encoded bytes are pending.
const autoFlushBytes = 4 << 20

// Writer streams a collection record by record.
//
// Records are buffered whole and Flush only ever writes complete records,
// so the bytes written so far always decode as a valid collection.
type Writer struct {
	w      io.Writer
	header vector.Header
	buf    []byte
	count  int
	err    error
}

// NewWriter returns a Writer for a collection with header h. The header is
// emitted with the first Flush.
func NewWriter(w io.Writer, h vector.Header) (*Writer, error) {
	if err := checkHeader(h); err != nil {
		return nil, err
	}
	return &Writer{
		w:      w,
		header: h,
		buf:    appendHeader(make([]byte, 0, 64<<10), h),
	}, nil
}

// Header returns the collection header.
func (w *Writer) Header() vector.Header {
	return w.header
}

// Count returns the number of records accepted by Write.
func (w *Writer) Count() int {
	return w.count
}

// Write appends r. A record with the wrong dimension is rejected with
// ErrDimensionMismatch and leaves the stream untouched.
func (w *Writer) Write(r vector.Record) error {
	if w.err != nil {
		return w.err
	}
	if err := vector.CheckDimension(r.Values, w.header.Dimension); err != nil {
		return fmt.Errorf("%w: record %d: %w", ErrDimensionMismatch, w.count, err)
	}
	w.buf = appendRecord(w.buf, r)
	w.count++
	if len(w.buf) >= autoFlushBytes {
		return w.Flush()
	}
	return nil
}

// Flush writes every buffered record to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if len(w.buf) == 0 {
		return nil
	}
	if _, err := w.w.Write(w.buf); err != nil {
		w.err = fmt.Errorf("writing collection: %w", err)
		return w.err
	}
	w.buf = w.buf[:0]
	return nil
}
