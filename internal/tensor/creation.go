package tensor

import (
	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
)

// Zeros creates a tensor with freshly allocated, zeroed, owned storage.
//
// Example:
//
//	t := tensor.Zeros(tensor.Float32, tensor.MakeShape(1, 4), nil)
func Zeros(dtype DataType, shape Shape, quantization *AffineQuantization) *Tensor {
	t := New(dtype, shape, quantization)
	t.SetOwnedBuffer(NewOwnedBuffer(make([]byte, t.ByteSize())))
	return t
}

// FromFloat32 creates an owned Float32 tensor holding a copy of data.
func FromFloat32(shape Shape, data []float32) *Tensor {
	t := Zeros(Float32, shape, nil)
	if len(data) != t.NumElements() {
		exceptions.Panicf("tensor.FromFloat32: shape %s requires %d elements, but got %d",
			shape, t.NumElements(), len(data))
	}
	dst, _ := t.MutableFloat32s()
	copy(dst, data)
	return t
}

// FromFloat16 creates an owned Float16 tensor converting data from float32.
func FromFloat16(shape Shape, data []float32) *Tensor {
	t := Zeros(Float16, shape, nil)
	if len(data) != t.NumElements() {
		exceptions.Panicf("tensor.FromFloat16: shape %s requires %d elements, but got %d",
			shape, t.NumElements(), len(data))
	}
	dst, _ := t.MutableFloat16s()
	for i, v := range data {
		dst[i] = float16.Fromfloat32(v)
	}
	return t
}

// FromInt32 creates an owned Int32 tensor holding a copy of data.
func FromInt32(shape Shape, data []int32) *Tensor {
	t := Zeros(Int32, shape, nil)
	if len(data) != t.NumElements() {
		exceptions.Panicf("tensor.FromInt32: shape %s requires %d elements, but got %d",
			shape, t.NumElements(), len(data))
	}
	dst, _ := t.MutableBytes()
	copy(castSlice[int32](dst, len(data)), data)
	return t
}
