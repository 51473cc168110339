package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccelerator(t *testing.T) {
	tests := []struct {
		in      string
		want    Accelerator
		wantErr bool
	}{
		{"", Auto, false},
		{"auto", Auto, false},
		{"CPU", CPU, false},
		{" gpu ", GPU, false},
		{"neural", Neural, false},
		{"tpu", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAccelerator(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectHardware(t *testing.T) {
	h := DetectHardware()
	require.NotEmpty(t, h.Accelerators)
	assert.Equal(t, CPU, h.Accelerators[len(h.Accelerators)-1], "cpu is always the last resort")
	assert.True(t, h.Supports(CPU))
	assert.Positive(t, h.Cores)
	assert.NotEmpty(t, h.String())

	if h.OS == "darwin" && h.Arch == "arm64" {
		assert.Equal(t, GPU, h.Best())
		assert.True(t, h.Supports(Neural))
	}
}

func TestHardware_CPUOnly(t *testing.T) {
	h := Hardware{Accelerators: []Accelerator{GPU, Neural, CPU}, Cores: 8}
	cpu := h.CPUOnly()
	assert.Equal(t, []Accelerator{CPU}, cpu.Accelerators)
	assert.Equal(t, 8, cpu.Cores)
	assert.Equal(t, GPU, h.Best(), "original untouched")
}

func TestHardware_BestEmpty(t *testing.T) {
	assert.Equal(t, CPU, Hardware{}.Best())
}

func TestModelDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"all-MiniLM-L6-v2", 384},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-small-zh-v1.5", 512},
		{"intfloat/e5-large", 1024},
		{"nomic-ai/some-base-model", 768},
		{"unknown", DefaultDimension},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ModelDimension(tt.model))
		})
	}
	assert.True(t, KnownModel("all-MiniLM-L6-v2"))
	assert.False(t, KnownModel("intfloat/e5-large"))
}
