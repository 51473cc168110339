package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TEIConfig configures a HuggingFace text-embeddings-inference backend.
type TEIConfig struct {
	// BaseURL of the TEI server, e.g. http://localhost:8080.
	BaseURL string
	// Model overrides the model id reported by the server.
	Model   string
	Version string
	// Dimension overrides the dimension inferred from the model name.
	Dimension int
	// APIKey is sent as a bearer token. Optional.
	APIKey string
	// RequestsPerSecond limits calls to the server. Zero means unlimited.
	RequestsPerSecond float64
	// Timeout applies to each HTTP request. Defaults to 30s.
	Timeout time.Duration

	Client *http.Client
	Logger *zap.Logger
}

// Validate checks the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("tei: base URL required")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("tei: requests_per_second must be >= 0")
	}
	return nil
}

// TEI embeds text through a remote text-embeddings-inference server.
// Runners share one HTTP client and rate limiter.
type TEI struct {
	cfg     TEIConfig
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	acquired *Model
}

var _ Provider = (*TEI)(nil)

// NewTEI returns a provider for cfg.
func NewTEI(cfg TEIConfig) (*TEI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultModelVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &TEI{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Name returns "tei".
func (p *TEI) Name() string { return "tei" }

// Hardware reports CPU only: placement is decided by the server.
func (p *TEI) Hardware() Hardware {
	return DetectHardware().CPUOnly()
}

type teiInfo struct {
	ModelID string `json:"model_id"`
}

// Acquire checks the server is reachable and resolves the model id.
func (p *TEI) Acquire(ctx context.Context) (Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquired != nil {
		return *p.acquired, nil
	}

	var info teiInfo
	if err := p.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return Model{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	name := p.cfg.Model
	if name == "" {
		name = info.ModelID
	}
	if name == "" {
		name = DefaultModelName
	}
	dim := p.cfg.Dimension
	if dim == 0 {
		dim = ModelDimension(name)
	}
	p.acquired = &Model{Name: name, Version: p.cfg.Version, Dimension: dim}
	p.cfg.Logger.Debug("tei model resolved",
		zap.String("base_url", p.cfg.BaseURL),
		zap.String("model", name),
		zap.Int("dimension", dim))
	return *p.acquired, nil
}

// Open returns a runner bound to the shared client.
func (p *TEI) Open(_ context.Context, _ Model, accel Accelerator) (Runner, error) {
	if accel != CPU {
		return nil, fmt.Errorf("%w: tei placement is server side, got %s", ErrUnsupportedAccelerator, accel)
	}
	return &teiRunner{p: p}, nil
}

type teiRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

type teiToken struct {
	ID      int  `json:"id"`
	Special bool `json:"special"`
}

// do issues one rate-limited JSON request.
func (p *TEI) do(ctx context.Context, method, path string, body, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

type teiRunner struct {
	p *TEI
}

func (r *teiRunner) Tokenize(ctx context.Context, text string) (Encoding, error) {
	var tokens [][]teiToken
	if err := r.p.do(ctx, http.MethodPost, "/tokenize", teiRequest{Inputs: text, Truncate: true}, &tokens); err != nil {
		return Encoding{}, fmt.Errorf("tei tokenize: %w", err)
	}
	enc := Encoding{Text: text}
	if len(tokens) > 0 {
		enc.IDs = make([]int, len(tokens[0]))
		enc.Mask = make([]int, len(tokens[0]))
		for i, t := range tokens[0] {
			enc.IDs[i] = t.ID
			enc.Mask[i] = 1
		}
	}
	return enc, nil
}

// Forward asks the server for the hidden state of every token of enc.Text
// and pairs them with the attention mask from Tokenize. Pooling is left to
// the caller, so the server's configured pooling never applies.
func (r *teiRunner) Forward(ctx context.Context, enc Encoding) (Tensor, error) {
	var states [][][]float32
	req := teiRequest{Inputs: enc.Text, Truncate: true}
	if err := r.p.do(ctx, http.MethodPost, "/embed_all", req, &states); err != nil {
		return Tensor{}, fmt.Errorf("tei embed_all: %w", err)
	}
	if len(states) != 1 {
		return Tensor{}, fmt.Errorf("tei embed_all: got %d inputs for 1", len(states))
	}
	if enc.Len() > 0 && len(states[0]) != enc.Len() {
		return Tensor{}, fmt.Errorf("tei embed_all: got %d token states for %d tokens", len(states[0]), enc.Len())
	}
	mask := enc.Mask
	if mask == nil {
		mask = make([]int, len(states[0]))
		for i := range mask {
			mask[i] = 1
		}
	}
	t, err := stackRows(states[0], mask)
	if err != nil {
		return Tensor{}, fmt.Errorf("tei embed_all: %w", err)
	}
	return t, nil
}

func (r *teiRunner) Close() error { return nil }
