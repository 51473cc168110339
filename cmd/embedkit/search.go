package main

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/codec"
	"github.com/fyrsmithlabs/embedkit/internal/search"
	"github.com/spf13/cobra"
)

type searchOptions struct {
	embeddingFile string
	text          string
	k             int
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find the stored sentences nearest to a new one",
		Long: `Embed --text and print the k records of --embedding-file with the
highest cosine similarity, best first.

Each output line is: rank, index, score and the stored text, separated by
tabs.

Examples:
  embedkit search --embedding-file corpus.pb --text "A dog ran." -k 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSearch(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.embeddingFile, "embedding-file", "e", "", "collection file to search")
	f.StringVar(&opts.text, "text", "", "sentence to search for")
	f.IntVarP(&opts.k, "k", "k", 5, "number of results")
	_ = cmd.MarkFlagRequired("embedding-file")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, opts searchOptions) error {
	if opts.k <= 0 {
		return usageErr(fmt.Errorf("%w, got %d", search.ErrInvalidK, opts.k))
	}
	ctx := withInputPath(cmd.Context(), opts.embeddingFile)

	coll, err := codec.ReadFile(opts.embeddingFile)
	if err != nil {
		return err
	}

	e, query, err := a.embedQuery(ctx, coll.Header, opts.text)
	if err != nil {
		return err
	}
	defer e.Close()

	ix, err := search.New(ctx, coll,
		search.WithLogger(a.logger.Named("search")),
		search.WithTracer(a.telemetry.Tracer(instrumentationName)),
	)
	if err != nil {
		return err
	}
	hits, err := ix.Query(ctx, query, opts.k)
	if err != nil {
		if errors.Is(err, search.ErrInvalidK) {
			return usageErr(err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	for rank, h := range hits {
		fmt.Fprintf(out, "%d\t%d\t%.6f\t%s\n", rank+1, h.Index, h.Score, h.Text)
	}
	return nil
}
