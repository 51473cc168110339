//go:build cgo

package runner

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// FastEmbedConfig configures the local ONNX provider.
type FastEmbedConfig struct {
	// Model is a name accepted by KnownModel. Defaults to all-MiniLM-L6-v2.
	Model string
	// Version is recorded in collection headers. Defaults to v1.0.
	Version string
	// CacheDir holds model weights and tokenizer.json. Defaults to
	// DefaultCacheDir(Model).
	CacheDir string
	// MaxLength truncates inputs, in tokens. Defaults to 512.
	MaxLength int
	// TokenizerURL is fetched when tokenizer.json is missing from CacheDir.
	TokenizerURL string
	// HFToken authenticates HuggingFace downloads. Optional.
	HFToken string

	ONNX       *ONNXRuntime
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// FastEmbed runs sentence-transformer ONNX models locally. fastembed-go
// fetches the weights; runners feed the tokenizer output to an ONNX Runtime
// session and return the last hidden state of every token.
type FastEmbed struct {
	cfg       FastEmbedConfig
	model     fastembed.EmbeddingModel
	dimension int

	mu       sync.Mutex
	acquired *Model
}

var _ Provider = (*FastEmbed)(nil)

// onnxModelFile is the graph fastembed-go unpacks into each model directory.
const onnxModelFile = "model_optimized.onnx"

// NewFastEmbed validates cfg and returns a provider. No files are touched
// until Acquire.
func NewFastEmbed(cfg FastEmbedConfig) (*FastEmbed, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModelName
	}
	info, ok := knownModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("fastembed: unsupported model %q (supported: all-MiniLM-L6-v2, BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5)", cfg.Model)
	}
	if cfg.Version == "" {
		cfg.Version = DefaultModelVersion
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir(cfg.Model)
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 512
	}
	if cfg.TokenizerURL == "" {
		cfg.TokenizerURL = DefaultTokenizerURL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ONNX == nil {
		cfg.ONNX = NewONNXRuntime(cfg.Logger)
	}
	return &FastEmbed{
		cfg:       cfg,
		model:     fastembed.EmbeddingModel(info.fastembedName),
		dimension: info.dimension,
	}, nil
}

// Name returns "fastembed".
func (p *FastEmbed) Name() string { return "fastembed" }

// Hardware reports the host CPU. The bundled ONNX runtime is CPU only.
func (p *FastEmbed) Hardware() Hardware {
	return DetectHardware().CPUOnly()
}

func (p *FastEmbed) tokenizerPath() string {
	return filepath.Join(p.cfg.CacheDir, "tokenizer.json")
}

// modelDir is where fastembed-go unpacks the weights of p.model.
func (p *FastEmbed) modelDir() string {
	return filepath.Join(p.cfg.CacheDir, string(p.model))
}

// fetchWeights downloads the model archive unless it is already unpacked.
// fastembed-go also initializes the ONNX Runtime environment here.
func (p *FastEmbed) fetchWeights() error {
	showProgress := false
	_, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                p.model,
		CacheDir:             p.cfg.CacheDir,
		MaxLength:            p.cfg.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return fmt.Errorf("%w: loading %s: %v", ErrUnavailable, p.cfg.Model, err)
	}
	if _, err := os.Stat(filepath.Join(p.modelDir(), onnxModelFile)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Acquire installs the ONNX runtime, fetches the tokenizer and downloads the
// model weights into the cache directory.
func (p *FastEmbed) Acquire(ctx context.Context) (Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquired != nil {
		return *p.acquired, nil
	}
	if err := ctx.Err(); err != nil {
		return Model{}, err
	}

	if _, err := p.cfg.ONNX.Ensure(ctx); err != nil {
		return Model{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := fetchFile(ctx, p.cfg.HTTPClient, p.cfg.TokenizerURL, p.tokenizerPath(), p.cfg.HFToken); err != nil {
		return Model{}, fmt.Errorf("%w: tokenizer: %v", ErrUnavailable, err)
	}
	if err := p.fetchWeights(); err != nil {
		return Model{}, err
	}

	p.acquired = &Model{
		Name:      p.cfg.Model,
		Version:   p.cfg.Version,
		Dimension: p.dimension,
		Path:      p.modelDir(),
	}
	p.cfg.Logger.Debug("model acquired",
		zap.String("model", p.cfg.Model),
		zap.String("path", p.acquired.Path))
	return *p.acquired, nil
}

// Open returns a runner on the CPU for the weights under m.Path.
func (p *FastEmbed) Open(ctx context.Context, m Model, accel Accelerator) (Runner, error) {
	if accel != CPU {
		return nil, fmt.Errorf("%w: fastembed runs on cpu only, got %s", ErrUnsupportedAccelerator, accel)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := m.Path
	if dir == "" {
		dir = p.modelDir()
	}
	modelFile := filepath.Join(dir, onnxModelFile)
	if _, err := os.Stat(modelFile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := initONNXEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: onnx runtime: %v", ErrUnavailable, err)
	}

	tk, err := pretrained.FromFile(p.tokenizerPath())
	if err != nil {
		return nil, fmt.Errorf("%w: loading tokenizer: %v", ErrUnavailable, err)
	}
	tk.WithTruncation(&tokenizer.TruncationParams{
		MaxLength: p.cfg.MaxLength,
		Strategy:  tokenizer.LongestFirst,
	})
	return &onnxRunner{modelFile: modelFile, tk: tk, dim: p.dimension}, nil
}

var ortMu sync.Mutex

// initONNXEnvironment loads the shared library named by ONNX_PATH once per
// process. The environment outlives every runner.
func initONNXEnvironment() error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if path := os.Getenv(ONNXPathEnv); path != "" {
		ort.SetSharedLibraryPath(path)
	}
	return ort.InitializeEnvironment()
}

type onnxRunner struct {
	modelFile string
	tk        *tokenizer.Tokenizer
	dim       int
	closed    bool
}

func (r *onnxRunner) Tokenize(ctx context.Context, text string) (Encoding, error) {
	if err := ctx.Err(); err != nil {
		return Encoding{}, err
	}
	enc, err := r.tk.EncodeSingle(text, true)
	if err != nil {
		return Encoding{}, fmt.Errorf("tokenizing: %w", err)
	}
	return Encoding{Text: text, IDs: enc.Ids, Mask: enc.AttentionMask}, nil
}

// Forward runs the graph on enc and returns last_hidden_state as one row
// per token, masked by enc.Mask.
func (r *onnxRunner) Forward(ctx context.Context, enc Encoding) (Tensor, error) {
	if r.closed {
		return Tensor{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	ids, mask, types, err := modelInputs(enc)
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx: %w", err)
	}

	n := int64(enc.Len())
	inputShape := ort.NewShape(1, n)
	idsTensor, err := ort.NewTensor(inputShape, ids)
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx input_ids: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(inputShape, mask)
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx attention_mask: %w", err)
	}
	defer maskTensor.Destroy()
	typesTensor, err := ort.NewTensor(inputShape, types)
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx token_type_ids: %w", err)
	}
	defer typesTensor.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, int64(r.dim)))
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx last_hidden_state: %w", err)
	}
	defer out.Destroy()

	session, err := ort.NewAdvancedSession(r.modelFile,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.ArbitraryTensor{idsTensor, maskTensor, typesTensor},
		[]ort.ArbitraryTensor{out},
		nil)
	if err != nil {
		return Tensor{}, fmt.Errorf("onnx session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return Tensor{}, fmt.Errorf("onnx run: %w", err)
	}
	return newTensor(slices.Clone(out.GetData()), enc.Len(), r.dim, enc.Mask)
}

func (r *onnxRunner) Close() error {
	r.closed = true
	return nil
}
