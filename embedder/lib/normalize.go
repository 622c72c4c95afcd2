package lib

import "math"

const isNormalizedPrecisionTolerance = 1e-6

func magnitude(v []float32) float64 {
	var sqSum float64
	for _, val := range v {
		sqSum += float64(val) * float64(val)
	}
	return math.Sqrt(sqSum)
}

func IsNormalized(v []float32) bool {
	return math.Abs(magnitude(v)-1) < isNormalizedPrecisionTolerance
}

// Scales vector to unit length. Zero vector is left untouched.
func NormalizeVectorInPlace(v []float32) {
	norm := magnitude(v)
	if norm == 0 {
		return
	}

	for i, val := range v {
		v[i] = float32(float64(val) / norm)
	}
}
