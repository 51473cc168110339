package main

import (
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
	"github.com/spf13/cobra"
)

const warmupText = "embedkit warmup"

func newInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Install the ONNX runtime and download the model",
		Long: `Prepare embedkit for offline use.

init creates the config directory, installs the ONNX runtime library used by
the fastembed provider and downloads the configured model by embedding a
warmup sentence. The runtime is installed to:
  ~/.config/embedkit/lib/

If the ONNX_PATH environment variable is set, that path takes precedence.

Examples:
  # Install the runtime and warm the model cache
  embedkit init

  # Re-download the runtime even if already installed
  embedkit init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInit(cmd, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-download the ONNX runtime even if it exists")
	return cmd
}

func (a *app) runInit(cmd *cobra.Command, force bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	dir, err := config.EnsureConfigDir()
	if err != nil {
		return ioErr(err)
	}
	fmt.Fprintf(out, "Config directory: %s\n", dir)

	if a.cfg.Model.Provider == "tei" {
		fmt.Fprintln(out, "Provider tei does not need the ONNX runtime.")
	} else {
		onnx := a.newONNX(a.logger.Underlying())
		switch path := onnx.LibraryPath(); {
		case path != "" && !force:
			fmt.Fprintf(out, "ONNX runtime already installed at: %s\n", path)
		default:
			fmt.Fprintf(out, "Downloading ONNX runtime v%s...\n", onnx.Version)
			if err := onnx.Download(ctx); err != nil {
				return fmt.Errorf("%w: installing ONNX runtime: %w", embeddings.ErrInit, err)
			}
			path = onnx.LibraryPath()
			if path == "" {
				return fmt.Errorf("%w: download completed but library not found", embeddings.ErrInit)
			}
			fmt.Fprintf(out, "Installed ONNX runtime to: %s\n", path)
		}
		if _, err := onnx.Ensure(ctx); err != nil {
			return fmt.Errorf("%w: %w", embeddings.ErrInit, err)
		}
	}

	e, err := a.openEmbedder(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	if _, err := e.EmbedText(ctx, warmupText); err != nil {
		return err
	}

	fmt.Fprintf(out, "Model %s %s ready (dimension %d, accelerator %s)\n",
		e.ModelName(), e.ModelVersion(), e.Dimension(), e.Accelerator())
	return nil
}
