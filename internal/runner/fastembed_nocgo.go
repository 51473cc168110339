//go:build !cgo

package runner

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without cgo.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without CGO support, use the tei provider instead)")

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	Model        string
	Version      string
	CacheDir     string
	MaxLength    int
	TokenizerURL string
	HFToken      string

	ONNX       *ONNXRuntime
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// FastEmbed is a stub for non-cgo builds.
type FastEmbed struct{}

// NewFastEmbed returns ErrFastEmbedNotAvailable.
func NewFastEmbed(_ FastEmbedConfig) (*FastEmbed, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbed) Name() string       { return "fastembed" }
func (p *FastEmbed) Hardware() Hardware { return DetectHardware().CPUOnly() }

func (p *FastEmbed) Acquire(_ context.Context) (Model, error) {
	return Model{}, ErrFastEmbedNotAvailable
}

func (p *FastEmbed) Open(_ context.Context, _ Model, _ Accelerator) (Runner, error) {
	return nil, ErrFastEmbedNotAvailable
}
