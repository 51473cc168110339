package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
)

// Encode serializes c. The output is deterministic: header fields first,
// then one embeddings field per record in collection order.
func Encode(c *vector.Collection) ([]byte, error) {
	if err := checkHeader(c.Header); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
	}

	size := 64
	for _, r := range c.Records {
		size += 16 + recordSize(r)
	}
	b := appendHeader(make([]byte, 0, size), c.Header)
	for _, r := range c.Records {
		b = appendRecord(b, r)
	}
	return b, nil
}

// Decode parses a complete collection from b.
func Decode(b []byte) (*vector.Collection, error) {
	return ReadAll(bytes.NewReader(b))
}

// ReadAll decodes every record from r into memory.
func ReadAll(r io.Reader) (*vector.Collection, error) {
	rd := NewReader(r)
	records := make([]vector.Record, 0)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return &vector.Collection{Header: rd.Header(), Records: records}, nil
}
