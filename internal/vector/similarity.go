package vector

import (
	"fmt"

	"gonum.org/v1/gonum/blas/gonum"
)

// blas32 is the pure-Go BLAS implementation; it uses SIMD kernels where the
// platform has them.
var blas32 = gonum.Implementation{}

// Dot returns the dot product of a and b.
func Dot(a, b Vector) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return blas32.Sdot(len(a), a, 1, b, 1), nil
}

// Norm returns the L2 norm of v.
func Norm(v Vector) float32 {
	if len(v) == 0 {
		return 0
	}
	return blas32.Snrm2(len(v), v, 1)
}

// Normalize returns v scaled to unit L2 norm. The second result is false
// when v has zero norm, in which case an unscaled copy is returned.
func Normalize(v Vector) (Vector, bool) {
	out := v.Clone()
	n := Norm(v)
	if n == 0 {
		return out, false
	}
	if len(out) > 0 {
		blas32.Sscal(len(out), 1/n, out, 1)
	}
	return out, true
}

// Cosine returns dot(a,b)/(|a|·|b|) clamped to [-1, 1].
//
// Vectors of different length yield ErrDimensionMismatch. If either vector
// is the zero vector the similarity is 0 by convention, not an error.
func Cosine(a, b Vector) (float32, error) {
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := float64(dot) / (float64(na) * float64(nb))
	switch {
	case sim > 1:
		sim = 1
	case sim < -1:
		sim = -1
	}
	return float32(sim), nil
}
