package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := 1.0 / math.Sqrt(sum)
	for i := range x {
		x[i] = float32(float64(x[i]) * norm)
	}
}

// NormalizedCopy returns a unit-norm copy of x, leaving x untouched.
func NormalizedCopy(x []float32) []float32 {
	out := make([]float32, len(x))
	copy(out, x)
	NormalizeL2(out)
	return out
}

// AllFinite reports whether x contains no NaN or Inf values.
func AllFinite(x []float32) bool {
	for _, v := range x {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
