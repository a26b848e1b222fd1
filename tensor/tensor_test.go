package tensor

import (
	"math"
	"testing"
)

func TestNewZeroFilled(t *testing.T) {
	tt := New(2, 3, 4)
	if tt.NumElems() != 24 {
		t.Errorf("expected 24 elements, got %d", tt.NumElems())
	}
	for i, v := range tt.Data {
		if v != 0 {
			t.Errorf("element %d not zero: %f", i, v)
		}
	}
}

func TestFromDataSizeMismatch(t *testing.T) {
	_, err := FromData([]float64{1, 2, 3}, 2, 2)
	if err == nil {
		t.Error("expected error for size mismatch")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a, err := FromData([]float64{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}
	b := a.Clone()
	b.Data[0] = 99

	if a.Data[0] != 1 {
		t.Error("mutating clone affected original")
	}
	if !ShapeEqual(a.Shape, b.Shape) {
		t.Error("clone shape differs from original")
	}
}

func TestEqual(t *testing.T) {
	a, _ := FromData([]float64{1, 2}, 2)
	b, _ := FromData([]float64{1, 2}, 2)
	c, _ := FromData([]float64{1, 3}, 2)

	if !a.Equal(b) {
		t.Error("identical tensors reported unequal")
	}
	if a.Equal(c) {
		t.Error("different tensors reported equal")
	}
}

func TestHasNonFinite(t *testing.T) {
	a, _ := FromData([]float64{1, 2, 3}, 3)
	if a.HasNonFinite() {
		t.Error("finite tensor reported non-finite")
	}
	a.Data[1] = math.NaN()
	if !a.HasNonFinite() {
		t.Error("NaN not detected")
	}
	a.Data[1] = math.Inf(1)
	if !a.HasNonFinite() {
		t.Error("Inf not detected")
	}
}
