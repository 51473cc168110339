package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/embedkit/internal/cache"
	"github.com/fyrsmithlabs/embedkit/internal/codec"
	"github.com/fyrsmithlabs/embedkit/internal/logging"
	"github.com/fyrsmithlabs/embedkit/internal/pipeline"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type embedOptions struct {
	text        string
	file        string
	output      string
	concurrency int
	skipFailed  bool
	metricsFile string
}

func newEmbedCmd(a *app) *cobra.Command {
	var opts embedOptions
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Embed a sentence or a file of sentences",
		Long: `Embed one sentence (--text) or every line of a text file (--file) and
write the vectors to a collection file.

Records keep input order. Empty lines fail with "empty input"; use
--skip-failed to leave failed lines out instead of stopping.

Large inputs are streamed to the output file chunk by chunk, so an
interrupted run leaves every completed chunk readable. Smaller inputs are
written atomically once all lines succeed.

Examples:
  # Embed one sentence
  embedkit embed --text "The cat sat." --output cat.pb

  # Embed a file with eight workers
  embedkit embed --file corpus.txt --output corpus.pb --concurrency 8

  # Export batch metrics for the node_exporter textfile collector
  embedkit embed --file corpus.txt --metrics-file /var/lib/node_exporter/embedkit.prom`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runEmbed(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.text, "text", "", "sentence to embed")
	f.StringVar(&opts.file, "file", "", "newline-delimited text file to embed")
	f.StringVarP(&opts.output, "output", "o", "embeddings.pb", "output collection file")
	f.IntVar(&opts.concurrency, "concurrency", 0, "chunks embedded in parallel (default from config)")
	f.BoolVar(&opts.skipFailed, "skip-failed", false, "leave failed inputs out instead of stopping")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	cmd.MarkFlagsOneRequired("text", "file")
	return cmd
}

func (a *app) runEmbed(cmd *cobra.Command, opts embedOptions) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	pcfg := pipeline.ConfigFrom(a.cfg.Pipeline)
	if opts.concurrency > 0 {
		pcfg.Concurrency = opts.concurrency
	}
	if opts.skipFailed {
		pcfg.SkipFailed = true
	}

	var src pipeline.Source
	stream := false
	if opts.file != "" {
		f, size, err := openTextFile(opts.file)
		if err != nil {
			return err
		}
		defer f.Close()
		src = pipeline.NewLineSource(f)
		stream = pcfg.ShouldStream(size)
		ctx = withInputPath(ctx, opts.file)
	} else {
		src = pipeline.NewSliceSource([]string{opts.text})
	}

	e, err := a.openEmbedder(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var c *cache.Cache
	if a.cfg.Cache.Enabled {
		c = cache.New(cache.Config{MaxEntries: a.cfg.Cache.MaxEntries})
	}
	var metrics *pipeline.Metrics
	if opts.metricsFile != "" {
		metrics = pipeline.NewMetrics()
	}
	popts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithTracer(a.telemetry.Tracer(instrumentationName)),
	}
	if metrics != nil {
		popts = append(popts, pipeline.WithMetrics(metrics))
	}
	p := pipeline.New(e, c, pcfg, popts...)

	var report pipeline.Report
	if stream {
		report, err = embedStreaming(ctx, p, src, e.Header(), opts.output)
	} else {
		report, err = embedBuffered(ctx, p, src, e.Header(), opts.output)
	}

	if metrics != nil {
		if merr := metrics.WriteTextfile(opts.metricsFile); merr != nil {
			logger.Warn(ctx, "writing metrics file failed", zap.String("path", opts.metricsFile), zap.Error(merr))
		}
	}
	if pcfg.SkipFailed {
		for _, failure := range report.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped input %d: %v\n", failure.Index, failure.Err)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d embeddings (model %s %s, dimension %d) to %s\n",
		report.Written, e.ModelName(), e.ModelVersion(), e.Dimension(), opts.output)
	return nil
}

// openTextFile opens path after checking that its content is text.
func openTextFile(path string) (*os.File, int64, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, 0, ioErr(err)
	}
	if !isText(mt) {
		return nil, 0, usageErr(fmt.Errorf("%s is %s, not a text file", path, mt.String()))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, ioErr(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, ioErr(err)
	}
	return f, info.Size(), nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// embedStreaming writes records to path as each chunk completes.
func embedStreaming(ctx context.Context, p *pipeline.Pipeline, src pipeline.Source, h vector.Header, path string) (pipeline.Report, error) {
	fw, err := codec.CreateFile(path, h)
	if err != nil {
		return pipeline.Report{}, ioErr(err)
	}
	report, runErr := p.Run(ctx, src, fw)
	if err := fw.Close(); err != nil && runErr == nil {
		return report, ioErr(err)
	}
	return report, runErr
}

// embedBuffered collects every record and replaces path atomically on
// success. Nothing is written when the run fails.
func embedBuffered(ctx context.Context, p *pipeline.Pipeline, src pipeline.Source, h vector.Header, path string) (pipeline.Report, error) {
	sink := pipeline.NewCollectionSink(h)
	report, err := p.Run(ctx, src, sink)
	if err != nil {
		return report, err
	}
	if err := codec.WriteFile(path, sink.Collection); err != nil {
		return report, err
	}
	return report, nil
}
