package pipeline

import (
	"github.com/fyrsmithlabs/embedkit/internal/codec"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
)

// Sink receives records in input order. Flush is called after every chunk;
// everything written before a successful Flush must survive a later
// failure.
type Sink interface {
	Write(r vector.Record) error
	Flush() error
}

var (
	_ Sink = (*CollectionSink)(nil)
	_ Sink = (*codec.Writer)(nil)
	_ Sink = (*codec.FileWriter)(nil)
)

// CollectionSink buffers records in memory.
type CollectionSink struct {
	Collection *vector.Collection
}

// NewCollectionSink returns a sink that appends to a new collection with
// header h.
func NewCollectionSink(h vector.Header) *CollectionSink {
	return &CollectionSink{Collection: vector.NewCollection(h)}
}

// Write appends r, rejecting records of the wrong dimension.
func (s *CollectionSink) Write(r vector.Record) error {
	return s.Collection.Append(r)
}

// Flush is a no-op.
func (s *CollectionSink) Flush() error { return nil }
