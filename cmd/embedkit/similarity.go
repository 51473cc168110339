package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/codec"
	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type similarityOptions struct {
	embeddingFile string
	text          string
	index         int
}

func newSimilarityCmd(a *app) *cobra.Command {
	var opts similarityOptions
	cmd := &cobra.Command{
		Use:   "similarity",
		Short: "Compare a sentence against stored embeddings",
		Long: `Embed --text and print its cosine similarity to every record of
--embedding-file, or only to record --index.

Each output line is: index, score and the stored text, separated by tabs.

Examples:
  embedkit similarity --embedding-file corpus.pb --text "A dog ran."
  embedkit similarity --embedding-file corpus.pb --text "A dog ran." --index 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSimilarity(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.embeddingFile, "embedding-file", "e", "", "collection file to compare against")
	f.StringVar(&opts.text, "text", "", "sentence to compare")
	f.IntVar(&opts.index, "index", -1, "compare against this record only")
	_ = cmd.MarkFlagRequired("embedding-file")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func (a *app) runSimilarity(cmd *cobra.Command, opts similarityOptions) error {
	ctx := withInputPath(cmd.Context(), opts.embeddingFile)

	coll, err := codec.ReadFile(opts.embeddingFile)
	if err != nil {
		return err
	}
	if opts.index < -1 || opts.index >= coll.Len() {
		return usageErr(fmt.Errorf("--index %d out of range: %s holds %d records", opts.index, opts.embeddingFile, coll.Len()))
	}

	e, query, err := a.embedQuery(ctx, coll.Header, opts.text)
	if err != nil {
		return err
	}
	defer e.Close()

	first, last := 0, coll.Len()
	if opts.index >= 0 {
		first, last = opts.index, opts.index+1
	}
	out := cmd.OutOrStdout()
	for i := first; i < last; i++ {
		score, err := e.CosineSimilarity(query, coll.Records[i].Values)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		fmt.Fprintf(out, "%d\t%.6f\t%s\n", i, score, coll.Records[i].Text)
	}
	return nil
}

// embedQuery initializes an embedder, checks that it matches h and embeds
// text. The caller closes the embedder.
func (a *app) embedQuery(ctx context.Context, h vector.Header, text string) (*embeddings.Embedder, vector.Vector, error) {
	e, err := a.openEmbedder(ctx)
	if err != nil {
		return nil, nil, err
	}
	if dim := e.Dimension(); dim != h.Dimension {
		e.Close()
		return nil, nil, fmt.Errorf("%w: collection has dimension %d, model %s produces %d",
			embeddings.ErrDimensionMismatch, h.Dimension, e.ModelName(), dim)
	}
	if e.ModelName() != h.ModelName || e.ModelVersion() != h.ModelVersion {
		a.logger.Warn(ctx, "collection was embedded with a different model",
			zap.String("collection_model", h.ModelName),
			zap.String("collection_version", h.ModelVersion),
			zap.String("model", e.ModelName()),
			zap.String("version", e.ModelVersion()),
		)
	}

	query, err := e.EmbedText(ctx, text)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, query, nil
}
