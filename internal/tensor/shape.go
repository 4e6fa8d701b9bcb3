package tensor

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
)

// Shape represents the dimensions of a tensor, in NHWC order for 4D activations.
// A zero-rank shape denotes a scalar.
type Shape []int

// MakeShape creates a shape from the given dimensions.
// Negative dimensions are a structural error and panic.
func MakeShape(dims ...int) Shape {
	s := make(Shape, len(dims))
	for i, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("tensor.MakeShape(%v): negative dimension at axis %d", dims, i)
		}
		s[i] = dim
	}
	return s
}

// ShapeFromInt32 converts serialized int32 dimensions to a Shape.
func ShapeFromInt32(dims []int32) Shape {
	s := make(Shape, len(dims))
	for i, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("tensor.ShapeFromInt32(%v): negative dimension at axis %d", dims, i)
		}
		s[i] = int(dim)
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Dim returns the size of the given axis. Negative axes count from the end.
func (s Shape) Dim(axis int) int {
	if axis < 0 {
		axis += len(s)
	}
	if axis < 0 || axis >= len(s) {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, len(s), s)
	}
	return s[axis]
}

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that no dimension is negative. Zero-sized dimensions are allowed.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String implements fmt.Stringer, e.g. "[1 4 4 3]" or "[]" for scalars.
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = fmt.Sprint(dim)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
