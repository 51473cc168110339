package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"google.golang.org/protobuf/encoding/protowire"
)

// Reader decodes a collection one record at a time.
//
// Header fields may appear anywhere in the stream. Header returns the fields
// seen so far; it is complete once Next has returned io.EOF. Files produced
// by Writer carry the header first, so it is complete after the first Next.
type Reader struct {
	br     *bufio.Reader
	header vector.Header

	sawDimension bool
	firstLen     int
	count        int
	err          error
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64<<10)
	}
	return &Reader{br: br, firstLen: -1}
}

// Header returns the header fields decoded so far.
func (r *Reader) Header() vector.Header {
	return r.header
}

// Count returns the number of records returned by Next.
func (r *Reader) Count() int {
	return r.count
}

// Next returns the next record. It returns io.EOF after the last record,
// ErrMalformedInput for unparsable input and ErrDimensionMismatch for a
// record that disagrees with the collection dimension. Errors are sticky.
func (r *Reader) Next() (vector.Record, error) {
	if r.err != nil {
		return vector.Record{}, r.err
	}
	rec, err := r.next()
	if err != nil {
		r.err = err
	}
	return rec, err
}

func (r *Reader) next() (vector.Record, error) {
	for {
		tag, err := binary.ReadUvarint(r.br)
		if errors.Is(err, io.EOF) {
			return vector.Record{}, r.finish()
		}
		if err != nil {
			return vector.Record{}, malformed("reading tag: %v", err)
		}
		num, typ := protowire.DecodeTag(tag)
		if num < protowire.MinValidNumber || num > protowire.MaxValidNumber {
			return vector.Record{}, malformed("invalid field number %d", num)
		}

		switch num {
		case fieldEmbeddings:
			if typ != protowire.BytesType {
				return vector.Record{}, malformed("embeddings field has wire type %d", typ)
			}
			payload, err := r.readBytes()
			if err != nil {
				return vector.Record{}, err
			}
			rec, err := decodeRecord(payload)
			if err != nil {
				return vector.Record{}, fmt.Errorf("record %d: %w", r.count, err)
			}
			if err := r.checkRecord(rec); err != nil {
				return vector.Record{}, err
			}
			r.count++
			return rec, nil

		case fieldModelName, fieldModelVersion:
			if typ != protowire.BytesType {
				return vector.Record{}, malformed("field %d has wire type %d", num, typ)
			}
			b, err := r.readBytes()
			if err != nil {
				return vector.Record{}, err
			}
			if !utf8.Valid(b) {
				return vector.Record{}, malformed("field %d is not valid UTF-8", num)
			}
			if num == fieldModelName {
				r.header.ModelName = string(b)
			} else {
				r.header.ModelVersion = string(b)
			}

		case fieldDimension:
			if typ != protowire.VarintType {
				return vector.Record{}, malformed("dimension field has wire type %d", typ)
			}
			v, err := binary.ReadUvarint(r.br)
			if err != nil {
				return vector.Record{}, malformed("reading dimension: %v", err)
			}
			dim := int(int32(v))
			if dim < 0 {
				return vector.Record{}, malformed("negative dimension %d", dim)
			}
			r.header.Dimension = dim
			r.sawDimension = true
			if r.firstLen >= 0 && r.firstLen != dim {
				return vector.Record{}, fmt.Errorf("%w: records have %d values, header declares %d",
					ErrDimensionMismatch, r.firstLen, dim)
			}

		default:
			if err := r.skip(typ); err != nil {
				return vector.Record{}, err
			}
		}
	}
}

// checkRecord validates rec against the header dimension when known, and
// against earlier records otherwise.
func (r *Reader) checkRecord(rec vector.Record) error {
	want := r.firstLen
	if r.sawDimension {
		want = r.header.Dimension
	}
	if want >= 0 && len(rec.Values) != want {
		return fmt.Errorf("%w: record %d has %d values, want %d",
			ErrDimensionMismatch, r.count, len(rec.Values), want)
	}
	if r.firstLen < 0 {
		r.firstLen = len(rec.Values)
	}
	return nil
}

// finish validates records against a header that never declared a dimension
// (proto3 omits zero).
func (r *Reader) finish() error {
	if !r.sawDimension && r.firstLen > 0 {
		return fmt.Errorf("%w: records have %d values, header declares 0", ErrDimensionMismatch, r.firstLen)
	}
	return io.EOF
}

func (r *Reader) readBytes() ([]byte, error) {
	n, err := binary.ReadUvarint(r.br)
	if err != nil {
		return nil, malformed("reading length: %v", err)
	}
	if n > maxRecordBytes {
		return nil, malformed("field length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, malformed("reading %d bytes: %v", n, err)
	}
	return buf, nil
}

func (r *Reader) skip(typ protowire.Type) error {
	var n uint64
	switch typ {
	case protowire.VarintType:
		if _, err := binary.ReadUvarint(r.br); err != nil {
			return malformed("skipping varint: %v", err)
		}
		return nil
	case protowire.Fixed32Type:
		n = 4
	case protowire.Fixed64Type:
		n = 8
	case protowire.BytesType:
		l, err := binary.ReadUvarint(r.br)
		if err != nil {
			return malformed("reading length: %v", err)
		}
		n = l
	default:
		return malformed("unsupported wire type %d", typ)
	}
	if _, err := r.br.Discard(int(n)); err != nil {
		return malformed("skipping %d bytes: %v", n, err)
	}
	return nil
}
