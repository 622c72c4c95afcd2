package lib

import (
	"math"
	"testing"
)

func floatsEqual(a, b float32, tol float64) bool {
	return math.Abs(float64(a)-float64(b)) < tol
}

func TestIsNormalized(t *testing.T) {
	if !IsNormalized([]float32{0.6, 0.8}) {
		t.Errorf("Expected vector to be normalized")
	}
	if !IsNormalized([]float32{1.0 / float32(math.Sqrt2), 1.0 / float32(math.Sqrt2)}) {
		t.Errorf("Expected vector to be normalized")
	}
	if IsNormalized([]float32{3, 4}) {
		t.Errorf("Expected vector to be not normalized")
	}
}

func TestNormalizeVectorInPlace(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected []float32
	}{
		{"3-4-5", []float32{3, 4}, []float32{0.6, 0.8}},
		{"5-12-13", []float32{5, 12}, []float32{0.3846154, 0.9230769}},
		{"zero vector", []float32{0, 0, 0}, []float32{0, 0, 0}},
		{"already normalized", []float32{0, 1}, []float32{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec := make([]float32, len(tt.input))
			copy(vec, tt.input)
			NormalizeVectorInPlace(vec)
			for i := range vec {
				if !floatsEqual(vec[i], tt.expected[i], 1e-6) {
					t.Errorf("Expected %v, got %v", tt.expected[i], vec[i])
				}
			}
		})
	}
}
