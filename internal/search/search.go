// Package search finds the stored records nearest to a query embedding.
//
// An Index loads a decoded collection into an in-memory chromem-go
// collection and answers top-k queries by cosine similarity.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"

	"github.com/fyrsmithlabs/embedkit/internal/logging"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const collectionName = "records"

var (
	// ErrInvalidK is returned for a non-positive result count.
	ErrInvalidK = errors.New("k must be positive")

	// ErrZeroQuery is returned for a query vector with zero norm.
	ErrZeroQuery = errors.New("query vector has zero norm")

	// errNoEmbeddingFunc guards against chromem embedding text on its own.
	errNoEmbeddingFunc = errors.New("search index only accepts precomputed embeddings")
)

// Hit is one query result.
type Hit struct {
	// Index is the record's position in the source collection.
	Index int
	Text  string
	Score float32
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(ix *Index) { ix.tracer = t }
}

// Index is an in-memory nearest-neighbour index. It is safe for concurrent
// queries.
type Index struct {
	header  vector.Header
	coll    *chromem.Collection
	skipped int
	logger  *logging.Logger
	tracer  trace.Tracer
}

// New indexes every record of c. Records with a zero norm cannot be
// compared by cosine similarity and are left out; Skipped reports how many.
func New(ctx context.Context, c *vector.Collection, opts ...Option) (*Index, error) {
	ix := &Index{header: c.Header}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.logger == nil {
		ix.logger = logging.Nop()
	}
	if ix.tracer == nil {
		ix.tracer = otel.Tracer("github.com/fyrsmithlabs/embedkit/internal/search")
	}

	ctx, span := ix.tracer.Start(ctx, "search.New", trace.WithAttributes(
		attribute.Int("records", c.Len()),
		attribute.Int("dimension", c.Dimension),
	))
	defer span.End()

	if err := c.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid collection")
		return nil, err
	}

	db := chromem.NewDB()
	coll, err := db.CreateCollection(collectionName, nil, rejectEmbed)
	if err != nil {
		return nil, fmt.Errorf("creating search collection: %w", err)
	}

	docs := make([]chromem.Document, 0, c.Len())
	for i, r := range c.Records {
		if vector.Norm(r.Values) == 0 {
			ix.skipped++
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   r.Text,
			Embedding: r.Values.Clone(),
		})
	}
	if len(docs) > 0 {
		if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "indexing failed")
			return nil, fmt.Errorf("indexing records: %w", err)
		}
	}
	ix.coll = coll

	if ix.skipped > 0 {
		ix.logger.Warn(ctx, "skipped zero-norm records", zap.Int("skipped", ix.skipped))
	}
	ix.logger.Debug(ctx, "search index built", zap.Int("records", len(docs)))
	return ix, nil
}

func rejectEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Header returns the header of the indexed collection.
func (ix *Index) Header() vector.Header { return ix.header }

// Len returns the number of indexed records.
func (ix *Index) Len() int { return ix.coll.Count() }

// Skipped returns the number of records left out of the index.
func (ix *Index) Skipped() int { return ix.skipped }

// Query returns up to k records ordered by descending similarity to q. Ties
// are broken by record position. k larger than the index is capped.
func (ix *Index) Query(ctx context.Context, q vector.Vector, k int) ([]Hit, error) {
	ctx, span := ix.tracer.Start(ctx, "search.Query", trace.WithAttributes(attribute.Int("k", k)))
	defer span.End()

	if k <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidK, k)
	}
	if err := vector.CheckDimension(q, ix.header.Dimension); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if vector.Norm(q) == 0 {
		return nil, ErrZeroQuery
	}

	n := ix.coll.Count()
	if n == 0 {
		return []Hit{}, nil
	}
	k = min(k, n)

	results, err := ix.coll.QueryEmbedding(ctx, q.Clone(), k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("querying index: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		idx, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("unexpected document id %q: %w", r.ID, err)
		}
		hits = append(hits, Hit{Index: idx, Text: r.Content, Score: r.Similarity})
	}
	slices.SortStableFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})

	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}
