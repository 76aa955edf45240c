package identity

import (
	"math"
	"testing"
)

func TestCosineDistance_IdenticalVectors(t *testing.T) {
	v := Vector{1, 0, 0}

	if d := CosineDistance(v, v); d != 0 {
		t.Errorf("expected distance 0 for identical vectors, got %v", d)
	}
}

func TestCosineDistance_OrthogonalVectors(t *testing.T) {
	a := Vector{1, 0}
	b := Vector{0, 1}

	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-9 {
		t.Errorf("expected distance 1 for orthogonal vectors, got %v", d)
	}
}

func TestCosineDistance_OppositeVectors(t *testing.T) {
	a := Vector{1, 0}
	b := Vector{-1, 0}

	if d := CosineDistance(a, b); math.Abs(d-2) > 1e-9 {
		t.Errorf("expected distance 2 for opposite vectors, got %v", d)
	}
}

func TestCosineDistance_ScaleInvariant(t *testing.T) {
	a := Vector{0.3, 0.4}
	b := Vector{3, 4}

	if d := CosineDistance(a, b); math.Abs(d) > 1e-6 {
		t.Errorf("cosine distance must ignore magnitude, got %v", d)
	}
}

func TestCosineDistance_InvalidInput(t *testing.T) {
	cases := []struct {
		name string
		a, b Vector
	}{
		{"length mismatch", Vector{1, 0}, Vector{1, 0, 0}},
		{"empty vectors", Vector{}, Vector{}},
		{"zero vector", Vector{0, 0}, Vector{1, 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if d := CosineDistance(tc.a, tc.b); d != 2.0 {
				t.Errorf("expected maximum distance 2.0, got %v", d)
			}
		})
	}
}
