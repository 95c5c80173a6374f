// Package vector provides cosine similarity, top-K chunk retrieval and an in-memory chunk index.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors of different length are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CosineSimilarity returns dot(a,b) / (|a|*|b|). When either vector has zero magnitude the
// similarity is 0, as it is when a NaN or infinite component makes the result non-finite.
// Vectors of different length are a caller error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, sumA, sumB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		sumA += x * x
		sumB += y * y
	}
	if sumA == 0 || sumB == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(sumA) * math.Sqrt(sumB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, nil
	}
	return sim, nil
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
