package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/codec"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		embeddingFile string
		show          int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe a collection file",
		Long: `Print the header and record count of a collection file. The file is
streamed, so arbitrarily large collections can be inspected.

Examples:
  embedkit inspect --embedding-file corpus.pb
  embedkit inspect --embedding-file corpus.pb --show 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInspect(cmd, embeddingFile, show)
		},
	}
	cmd.Flags().StringVarP(&embeddingFile, "embedding-file", "e", "", "collection file to inspect")
	cmd.Flags().IntVar(&show, "show", 0, "also print the text of the first N records")
	_ = cmd.MarkFlagRequired("embedding-file")
	return cmd
}

func (a *app) runInspect(cmd *cobra.Command, path string, show int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	r := codec.NewReader(f)
	var (
		first, last int64
		texts       []string
	)
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		if len(texts) < show {
			texts = append(texts, rec.Text)
		}
		if first == 0 || (rec.Timestamp != 0 && rec.Timestamp < first) {
			first = rec.Timestamp
		}
		last = max(last, rec.Timestamp)
	}

	h := r.Header()
	fmt.Fprintf(out, "model:     %s\n", h.ModelName)
	fmt.Fprintf(out, "version:   %s\n", h.ModelVersion)
	fmt.Fprintf(out, "dimension: %d\n", h.Dimension)
	fmt.Fprintf(out, "records:   %d\n", r.Count())
	if first > 0 {
		fmt.Fprintf(out, "created:   %s to %s\n",
			time.Unix(first, 0).UTC().Format(time.RFC3339),
			time.Unix(last, 0).UTC().Format(time.RFC3339))
	}
	for i, text := range texts {
		fmt.Fprintf(out, "%d\t%s\n", i, text)
	}
	return nil
}
