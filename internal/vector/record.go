package vector

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch indicates a vector whose length differs from the
// expected dimension.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Vector is a fixed-length embedding.
type Vector []float32

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Record is one embedding plus its provenance.
type Record struct {
	// Values holds the embedding; length equals the collection dimension.
	Values Vector
	// Text is the source string. Optional.
	Text string
	// Timestamp is the creation time in Unix seconds.
	Timestamp int64
}

// Header identifies the model that produced a collection.
type Header struct {
	ModelName    string
	ModelVersion string
	Dimension    int
}

// Collection is an ordered set of records sharing one header.
type Collection struct {
	Header
	Records []Record
}

// NewCollection creates an empty collection for the given header.
func NewCollection(h Header) *Collection {
	return &Collection{
		Header:  h,
		Records: make([]Record, 0),
	}
}

// CheckDimension returns ErrDimensionMismatch if len(v) != dim.
func CheckDimension(v Vector, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

// Append adds r to the end of the collection.
func (c *Collection) Append(r Record) error {
	if err := CheckDimension(r.Values, c.Dimension); err != nil {
		return fmt.Errorf("record %d: %w", len(c.Records), err)
	}
	c.Records = append(c.Records, r)
	return nil
}

// Validate checks every record against the declared dimension.
func (c *Collection) Validate() error {
	if c.Dimension < 0 {
		return fmt.Errorf("%w: negative dimension %d", ErrDimensionMismatch, c.Dimension)
	}
	for i, r := range c.Records {
		if err := CheckDimension(r.Values, c.Dimension); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.Records)
}

// Texts returns the source text of every record, in order.
func (c *Collection) Texts() []string {
	texts := make([]string, len(c.Records))
	for i, r := range c.Records {
		texts[i] = r.Text
	}
	return texts
}
