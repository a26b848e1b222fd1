package tensor

import (
	"fmt"
	"math"
)

// Tensor is a CPU-resident dense tensor with row-major float64 data.
// Shape is immutable after creation; Data may be mutated in place.
type Tensor struct {
	Shape []int
	Data  []float64
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Tensor{
		Shape: shapeCopy,
		Data:  make([]float64, size),
	}
}

// FromData creates a tensor wrapping the provided data slice.
// The data length must match the product of the shape dimensions.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid shape dimension: %d", dim)
		}
		size *= dim
	}
	if len(data) != size {
		return nil, fmt.Errorf("data size %d doesn't match shape %v (expected %d)", len(data), shape, size)
	}
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Tensor{Shape: shapeCopy, Data: data}, nil
}

// NumElems returns the number of elements in the tensor.
func (t *Tensor) NumElems() int {
	return len(t.Data)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Zero resets all elements to zero.
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// CopyFrom overwrites this tensor's data with src's data.
// Shapes must match exactly.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !ShapeEqual(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// Equal reports whether two tensors have identical shape and bit-identical data.
func (t *Tensor) Equal(o *Tensor) bool {
	if !ShapeEqual(t.Shape, o.Shape) {
		return false
	}
	for i := range t.Data {
		if t.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// HasNonFinite reports whether any element is NaN or Inf.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// ShapeEqual reports whether two shapes are identical.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NumElemsOf returns the product of a shape's dimensions.
func NumElemsOf(shape []int) int {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return size
}
