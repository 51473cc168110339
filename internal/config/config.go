// Package config loads embedkit configuration from an optional YAML file and
// EMBEDKIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config holds the complete embedkit configuration.
type Config struct {
	Model     ModelConfig     `koanf:"model"`
	Embedder  EmbedderConfig  `koanf:"embedder"`
	Cache     CacheConfig     `koanf:"cache"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	TEI       TEIConfig       `koanf:"tei"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ModelConfig selects the model and where its files live.
type ModelConfig struct {
	Provider     string `koanf:"provider"` // fastembed or tei
	Name         string `koanf:"name"`
	Version      string `koanf:"version"`
	Dimension    int    `koanf:"dimension"` // 0 = derive from the model
	CacheDir     string `koanf:"cache_dir"`
	MaxLength    int    `koanf:"max_length"`
	TokenizerURL string `koanf:"tokenizer_url"`
	HFToken      Secret `koanf:"hf_token"`
}

// EmbedderConfig controls model acquisition and runner placement.
type EmbedderConfig struct {
	Runners     int            `koanf:"runners"`
	Accelerator string         `koanf:"accelerator"`
	CPUFallback bool           `koanf:"cpu_fallback"`
	Download    DownloadConfig `koanf:"download"`
}

// DownloadConfig bounds retries while acquiring the model.
type DownloadConfig struct {
	MaxRetries      int      `koanf:"max_retries"`
	InitialInterval Duration `koanf:"initial_interval"`
	MaxInterval     Duration `koanf:"max_interval"`
}

// CacheConfig controls the text-to-vector cache.
type CacheConfig struct {
	Enabled    bool `koanf:"enabled"`
	MaxEntries int  `koanf:"max_entries"` // 0 = unbounded
}

// PipelineConfig controls batch embedding.
type PipelineConfig struct {
	Concurrency          int   `koanf:"concurrency"`
	ChunkSize            int   `koanf:"chunk_size"`
	SkipFailed           bool  `koanf:"skip_failed"`
	StreamThresholdBytes int64 `koanf:"stream_threshold_bytes"`
}

// TEIConfig points at a text-embeddings-inference server.
type TEIConfig struct {
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Timeout           Duration `koanf:"timeout"`
}

// LoggingConfig holds the user-facing logging knobs.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds the user-facing OpenTelemetry knobs.
type TelemetryConfig struct {
	Enabled       bool    `koanf:"enabled"`
	Endpoint      string  `koanf:"endpoint"`
	Protocol      string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure      bool    `koanf:"insecure"`
	TLSSkipVerify bool    `koanf:"tls_skip_verify"`
	ServiceName   string  `koanf:"service_name"`
	SampleRate    float64 `koanf:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:  "fastembed",
			Name:      "all-MiniLM-L6-v2",
			Version:   "v1.0",
			MaxLength: 512,
		},
		Embedder: EmbedderConfig{
			Runners:     1,
			Accelerator: "auto",
			CPUFallback: true,
			Download: DownloadConfig{
				MaxRetries:      3,
				InitialInterval: Duration(500 * time.Millisecond),
				MaxInterval:     Duration(10 * time.Second),
			},
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Pipeline: PipelineConfig{
			Concurrency:          runtime.NumCPU(),
			ChunkSize:            64,
			StreamThresholdBytes: 64 << 20,
		},
		TEI: TEIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "embedkit",
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "fastembed":
	case "tei":
		if c.TEI.BaseURL == "" {
			errs = append(errs, errors.New("tei.base_url is required when model.provider is tei"))
		}
	default:
		errs = append(errs, fmt.Errorf("model.provider must be fastembed or tei, got %q", c.Model.Provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.Dimension < 0 {
		errs = append(errs, fmt.Errorf("model.dimension must be >= 0, got %d", c.Model.Dimension))
	}
	if c.Model.MaxLength < 0 {
		errs = append(errs, fmt.Errorf("model.max_length must be >= 0, got %d", c.Model.MaxLength))
	}

	if c.Embedder.Runners < 1 {
		errs = append(errs, fmt.Errorf("embedder.runners must be >= 1, got %d", c.Embedder.Runners))
	}
	switch strings.ToLower(c.Embedder.Accelerator) {
	case "", "auto", "cpu", "gpu", "neural":
	default:
		errs = append(errs, fmt.Errorf("embedder.accelerator must be auto, cpu, gpu or neural, got %q", c.Embedder.Accelerator))
	}
	if c.Embedder.Download.MaxRetries < 0 {
		errs = append(errs, errors.New("embedder.download.max_retries must be >= 0"))
	}

	if c.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must be >= 0, got %d", c.Cache.MaxEntries))
	}

	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be >= 1, got %d", c.Pipeline.Concurrency))
	}
	if c.Pipeline.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_size must be >= 1, got %d", c.Pipeline.ChunkSize))
	}
	if c.Pipeline.StreamThresholdBytes < 0 {
		errs = append(errs, errors.New("pipeline.stream_threshold_bytes must be >= 0"))
	}

	if c.TEI.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("tei.requests_per_second must be >= 0"))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %v", c.Telemetry.SampleRate))
		}
	}

	return errors.Join(errs...)
}
