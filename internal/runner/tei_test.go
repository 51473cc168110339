package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/info":
			json.NewEncoder(w).Encode(map[string]any{"model_id": "BAAI/bge-base-en-v1.5"})
		case "/tokenize":
			var req teiRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			json.NewEncoder(w).Encode([][]teiToken{{{ID: 101, Special: true}, {ID: 7592}, {ID: 102, Special: true}}})
		case "/embed_all":
			var req teiRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, req.Truncate)
			switch req.Inputs {
			case "boom":
				http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			case "short":
				json.NewEncoder(w).Encode([][][]float32{{{1, 0}}})
			default:
				json.NewEncoder(w).Encode([][][]float32{{{1, 0}, {3, 4}, {5, 2}}})
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestTEI_AcquireAndForward(t *testing.T) {
	var calls atomic.Int64
	srv := newTEIServer(t, &calls)
	defer srv.Close()

	p, err := NewTEI(TEIConfig{BaseURL: srv.URL + "/", APIKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, "tei", p.Name())
	assert.Equal(t, []Accelerator{CPU}, p.Hardware().Accelerators)

	m, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BAAI/bge-base-en-v1.5", m.Name)
	assert.Equal(t, 768, m.Dimension)
	assert.Equal(t, DefaultModelVersion, m.Version)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "acquire is cached")

	r, err := p.Open(context.Background(), m, CPU)
	require.NoError(t, err)
	defer r.Close()

	enc, err := r.Tokenize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []int{101, 7592, 102}, enc.IDs)
	assert.Equal(t, []int{1, 1, 1}, enc.Mask)
	assert.Equal(t, "hello", enc.Text)

	tensor, err := r.Forward(context.Background(), enc)
	require.NoError(t, err)
	assert.Equal(t, 3, tensor.Rows)
	assert.Equal(t, 2, tensor.Cols)
	assert.Equal(t, []float32{1, 0}, tensor.Row(0))
	assert.Equal(t, []float32{5, 2}, tensor.Row(2))
	assert.Equal(t, []int{1, 1, 1}, tensor.Mask)

	_, err = r.Forward(context.Background(), Encoding{Text: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestTEI_ForwardKeepsMask(t *testing.T) {
	var calls atomic.Int64
	srv := newTEIServer(t, &calls)
	defer srv.Close()

	p, err := NewTEI(TEIConfig{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)
	r, err := p.Open(context.Background(), Model{}, CPU)
	require.NoError(t, err)

	enc := Encoding{Text: "padded", IDs: []int{101, 7592, 0}, Mask: []int{1, 1, 0}}
	tensor, err := r.Forward(context.Background(), enc)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 0}, tensor.Mask)

	tensor, err = r.Forward(context.Background(), Encoding{Text: "untokenized"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, tensor.Mask)

	_, err = r.Forward(context.Background(), Encoding{Text: "short", IDs: []int{101, 102}, Mask: []int{1, 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 token states for 2 tokens")
}

func TestTEI_ConfigOverrides(t *testing.T) {
	var calls atomic.Int64
	srv := newTEIServer(t, &calls)
	defer srv.Close()

	p, err := NewTEI(TEIConfig{BaseURL: srv.URL, APIKey: "key", Model: "custom", Dimension: 2, Version: "v2"})
	require.NoError(t, err)
	m, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Model{Name: "custom", Version: "v2", Dimension: 2}, m)
}

func TestTEI_AcquireUnavailable(t *testing.T) {
	var calls atomic.Int64
	srv := newTEIServer(t, &calls)
	defer srv.Close()

	p, err := NewTEI(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "401")
}

func TestTEI_OpenRejectsGPU(t *testing.T) {
	p, err := NewTEI(TEIConfig{BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	_, err = p.Open(context.Background(), Model{}, GPU)
	assert.ErrorIs(t, err, ErrUnsupportedAccelerator)
}

func TestTEIConfig_Validate(t *testing.T) {
	_, err := NewTEI(TEIConfig{})
	assert.Error(t, err)
	_, err = NewTEI(TEIConfig{BaseURL: "http://x", RequestsPerSecond: -1})
	assert.Error(t, err)
}

func TestTEI_RateLimitHonoursContext(t *testing.T) {
	var calls atomic.Int64
	srv := newTEIServer(t, &calls)
	defer srv.Close()

	p, err := NewTEI(TEIConfig{BaseURL: srv.URL, APIKey: "key", RequestsPerSecond: 0.001})
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	require.NoError(t, err, "first request uses the burst")

	r, err := p.Open(context.Background(), Model{}, CPU)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Tokenize(ctx, "hello")
	assert.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}
