// Embedkit turns sentences into embedding vectors and compares them.
//
// Usage:
//
//	# Embed one sentence
//	embedkit embed --text "The cat sat." --output cat.pb
//
//	# Embed a newline-delimited file
//	embedkit embed --file sentences.txt --output sentences.pb
//
//	# Compare a new sentence against stored embeddings
//	embedkit similarity --embedding-file sentences.pb --text "A dog ran."
//
// Configuration is read from ~/.config/embedkit/config.yaml and EMBEDKIT_*
// environment variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
	"github.com/fyrsmithlabs/embedkit/internal/logging"
	"github.com/fyrsmithlabs/embedkit/internal/runner"
	"github.com/fyrsmithlabs/embedkit/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

const instrumentationName = "github.com/fyrsmithlabs/embedkit"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, newApp(), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, a *app, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintf(stderr, "error (%s): %v\n", errorKind(err), err)
		return 1
	}
	return 0
}

// app carries global flags and the services built from them.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	// newProvider builds the runner provider. Tests swap in a fake.
	newProvider func(*config.Config, *zap.Logger) (runner.Provider, error)
	// newONNX returns the ONNX runtime manager used by init.
	newONNX func(*zap.Logger) *runner.ONNXRuntime

	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

func newApp() *app {
	return &app{
		newProvider: embeddings.NewProvider,
		newONNX:     runner.NewONNXRuntime,
		logger:      logging.Nop(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "embedkit",
		Short: "Sentence embeddings from the command line",
		Long: `embedkit computes sentence embeddings with a local ONNX model (or a
text-embeddings-inference server), stores them in a compact binary
collection file and compares new sentences against stored ones.`,
		Version:           fmt.Sprintf("%s (%s)", version, gitCommit),
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErr(err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.config/embedkit/config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: console or json")

	root.AddCommand(
		newEmbedCmd(a),
		newSimilarityCmd(a),
		newSearchCmd(a),
		newInspectCmd(a),
		newInitCmd(a),
	)
	return root
}

// setup loads configuration and builds logging and telemetry for the
// command about to run.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return usageErr(err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return usageErr(err)
	}
	a.cfg = cfg

	ctx := cmd.Context()
	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return usageErr(err)
	}
	a.telemetry = tel

	logger, err := newLogger(cfg.Logging, cmd.ErrOrStderr(), tel)
	if err != nil {
		return usageErr(err)
	}
	a.logger = logger

	ctx = logging.WithRunID(ctx, logging.NewRunID())
	ctx = logging.WithLogger(ctx, logger)
	cmd.SetContext(ctx)

	if status := tel.Health(); tel.IsEnabled() && status.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Error(status.Reason))
	}
	logger.Debug(ctx, "configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("provider", cfg.Model.Provider),
		zap.String("model", cfg.Model.Name),
	)
	return nil
}

func newLogger(lc config.LoggingConfig, w io.Writer, tel *telemetry.Telemetry) (*logging.Logger, error) {
	cfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	cfg.Level = level
	cfg.Format = lc.Format

	provider := tel.LoggerProvider()
	cfg.Output.OTEL = lc.OTEL && provider != nil
	if !cfg.Output.OTEL {
		provider = nil
	}
	return logging.NewLoggerTo(cfg, w, provider)
}

// close flushes logs and telemetry.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// openEmbedder builds and initializes an embedder from the loaded config.
func (a *app) openEmbedder(ctx context.Context) (*embeddings.Embedder, error) {
	provider, err := a.newProvider(a.cfg, a.logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", embeddings.ErrInit, err)
	}
	e := embeddings.New(provider, embeddings.ConfigFrom(a.cfg),
		embeddings.WithLogger(a.logger.Named("embedder")),
		embeddings.WithTracer(a.telemetry.Tracer(instrumentationName)),
		embeddings.WithMeter(a.telemetry.Meter(instrumentationName)),
	)
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// withInputPath tags ctx with the file being processed.
func withInputPath(ctx context.Context, path string) context.Context {
	if path == "" || !utf8.ValidString(path) || len(path) > 4096 {
		return ctx
	}
	return logging.WithInputPath(ctx, path)
}
