package lib

import "errors"

var ErrLengthMismatch = errors.New("vectors must have the same length")

func DotProduct(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}

	var dotProduct float32
	for i := range a {
		dotProduct += a[i] * b[i]
	}

	return dotProduct, nil
}

// Cosine similarity of two vectors in range [-1, 1]. Zero vectors are not similar to anything.
func CosineSimilarity(a, b []float32) (float32, error) {
	dot, err := DotProduct(a, b)
	if err != nil {
		return 0, err
	}

	norms := magnitude(a) * magnitude(b)
	if norms == 0 {
		return 0, nil
	}

	return float32(float64(dot) / norms), nil
}
