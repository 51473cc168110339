package embeddings

import (
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/runner"
)

// Config controls initialization.
type Config struct {
	// ModelName and ModelVersion fill the collection header when the
	// provider reports none.
	ModelName    string
	ModelVersion string
	// Dimension, when non-zero, must match the acquired model.
	Dimension int
	// Runners is the number of runner instances in the pool. One runner
	// serializes every forward pass.
	Runners     int
	Accelerator runner.Accelerator
	// CPUFallback places runners on the CPU when Accelerator is unavailable.
	CPUFallback bool
	Download    DownloadConfig
}

// DownloadConfig bounds model acquisition retries.
type DownloadConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns a single-runner, auto-accelerator configuration.
func DefaultConfig() Config {
	return Config{
		ModelName:    runner.DefaultModelName,
		ModelVersion: runner.DefaultModelVersion,
		Runners:      1,
		Accelerator:  runner.Auto,
		CPUFallback:  true,
		Download: DownloadConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
	}
}

// ConfigFrom maps the model and embedder sections of the application
// config. The accelerator string must already be validated.
func ConfigFrom(c *config.Config) Config {
	accel, err := runner.ParseAccelerator(c.Embedder.Accelerator)
	if err != nil {
		accel = runner.Auto
	}
	return Config{
		ModelName:    c.Model.Name,
		ModelVersion: c.Model.Version,
		Dimension:    c.Model.Dimension,
		Runners:      c.Embedder.Runners,
		Accelerator:  accel,
		CPUFallback:  c.Embedder.CPUFallback,
		Download: DownloadConfig{
			MaxRetries:      c.Embedder.Download.MaxRetries,
			InitialInterval: c.Embedder.Download.InitialInterval.Duration(),
			MaxInterval:     c.Embedder.Download.MaxInterval.Duration(),
		},
	}
}
