package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_Append(t *testing.T) {
	c := NewCollection(Header{ModelName: "m", ModelVersion: "v1", Dimension: 3})

	require.NoError(t, c.Append(Record{Values: Vector{1, 2, 3}, Text: "a"}))
	require.NoError(t, c.Append(Record{Values: Vector{4, 5, 6}, Text: "b"}))

	err := c.Append(Record{Values: Vector{1, 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a", "b"}, c.Texts())
}

func TestCollection_Validate(t *testing.T) {
	tests := []struct {
		name    string
		c       *Collection
		wantErr bool
	}{
		{
			name: "empty",
			c:    NewCollection(Header{Dimension: 4}),
		},
		{
			name: "matching records",
			c: &Collection{
				Header:  Header{Dimension: 2},
				Records: []Record{{Values: Vector{1, 0}}, {Values: Vector{0, 1}}},
			},
		},
		{
			name: "short record",
			c: &Collection{
				Header:  Header{Dimension: 2},
				Records: []Record{{Values: Vector{1, 0}}, {Values: Vector{1}}},
			},
			wantErr: true,
		},
		{
			name:    "negative dimension",
			c:       &Collection{Header: Header{Dimension: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDimensionMismatch)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVector_Clone(t *testing.T) {
	v := Vector{1, 2, 3}
	c := v.Clone()
	c[0] = 42
	assert.Equal(t, float32(1), v[0])
	assert.Nil(t, Vector(nil).Clone())
}

func TestNormalize(t *testing.T) {
	v, ok := Normalize(Vector{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)

	zero, ok := Normalize(Vector{0, 0, 0})
	assert.False(t, ok)
	assert.Equal(t, Vector{0, 0, 0}, zero)
}

func TestCosine(t *testing.T) {
	unit, _ := Normalize(Vector{0.3, -1.2, 2.5, 0.01})

	tests := []struct {
		name    string
		a, b    Vector
		want    float32
		wantErr bool
	}{
		{name: "self similarity", a: unit, b: unit, want: 1},
		{name: "orthogonal", a: Vector{1, 0}, b: Vector{0, 1}, want: 0},
		{name: "opposite", a: Vector{1, 1}, b: Vector{-2, -2}, want: -1},
		{name: "unnormalized", a: Vector{2, 0}, b: Vector{5, 5}, want: float32(1 / math.Sqrt2)},
		{name: "zero vector", a: Vector{0, 0}, b: Vector{1, 2}, want: 0},
		{name: "both empty", a: Vector{}, b: Vector{}, want: 0},
		{name: "dimension mismatch", a: Vector{1, 2, 3}, b: Vector{1, 2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDimensionMismatch)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-5)
		})
	}
}

func TestCosine_SymmetricAndClamped(t *testing.T) {
	a := Vector{0.1, 0.7, -0.3, 0.9}
	b := Vector{-0.4, 0.2, 0.8, 0.05}

	ab, err := Cosine(a, b)
	require.NoError(t, err)
	ba, err := Cosine(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	// Nearly parallel vectors must not drift above 1.
	big := Vector{1e20, 1e20, 1e20}
	sim, err := Cosine(big, big)
	require.NoError(t, err)
	assert.LessOrEqual(t, sim, float32(1))
	assert.GreaterOrEqual(t, sim, float32(-1))
}
