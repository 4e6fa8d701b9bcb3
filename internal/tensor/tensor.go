package tensor

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ErrReadOnly is returned when mutable access is requested on a tensor aliasing constant data.
var ErrReadOnly = errors.New("tensor data is borrowed and read-only")

// Tensor is a typed, shaped buffer with optional affine quantization.
//
// The buffer is write-once: it is either borrowed from constant data at load time, or handed
// out by a memory manager (or shared from an in-place input) before execution. Only a memory
// manager may detach it again.
type Tensor struct {
	name         string
	dtype        DataType
	shape        Shape
	quantization *AffineQuantization
	buffer       Buffer
}

// New creates a tensor without storage. The quantization record is referenced, not copied.
func New(dtype DataType, shape Shape, quantization *AffineQuantization) *Tensor {
	if dtype.IsAffineQuantized() != (quantization != nil) {
		exceptions.Panicf("tensor.New(%s, %s): quantization must be present iff the type is u8, s8 or s16",
			dtype, shape)
	}
	if err := shape.Validate(); err != nil {
		exceptions.Panicf("tensor.New(%s, %s): %v", dtype, shape, err)
	}
	return &Tensor{
		dtype:        dtype,
		shape:        shape.Clone(),
		quantization: quantization,
	}
}

// SetName attaches a debug name, usually the serialized tensor name.
func (t *Tensor) SetName(name string) *Tensor {
	t.name = name
	return t
}

// Name returns the debug name.
func (t *Tensor) Name() string { return t.name }

// DType returns the element type.
func (t *Tensor) DType() DataType { return t.dtype }

// Shape returns the tensor's shape. It must not be modified.
func (t *Tensor) Shape() Shape { return t.shape }

// Quantization returns the affine quantization record, or nil for non-quantized types.
func (t *Tensor) Quantization() *AffineQuantization { return t.quantization }

// NumElements returns the product of the shape's dimensions.
func (t *Tensor) NumElements() int { return t.shape.NumElements() }

// ByteSize returns NumElements times the element size.
func (t *Tensor) ByteSize() int { return t.NumElements() * t.dtype.Size() }

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t.name != "" {
		return fmt.Sprintf("%q(%s%s)", t.name, t.dtype, t.shape)
	}
	return fmt.Sprintf("(%s%s)", t.dtype, t.shape)
}

// Resize changes the shape of a tensor that has no storage yet, as shape inference does for
// deferred-shape outputs.
func (t *Tensor) Resize(shape Shape) {
	if t.buffer != nil {
		exceptions.Panicf("Tensor%s.Resize(%s): storage already set", t, shape)
	}
	if err := shape.Validate(); err != nil {
		exceptions.Panicf("Tensor%s.Resize(%s): %v", t, shape, err)
	}
	t.shape = shape.Clone()
}

// Buffer returns the storage, or nil if not materialized yet.
func (t *Tensor) Buffer() Buffer { return t.buffer }

// HasData reports whether storage has been attached.
func (t *Tensor) HasData() bool { return t.buffer != nil }

// IsBorrowed reports whether the tensor aliases externally owned constant memory.
func (t *Tensor) IsBorrowed() bool {
	_, ok := t.buffer.(*BorrowedBuffer)
	return ok
}

// Owned returns the allocator-backed buffer, if that is the kind of storage attached.
func (t *Tensor) Owned() (*OwnedBuffer, bool) {
	b, ok := t.buffer.(*OwnedBuffer)
	return b, ok
}

func (t *Tensor) setBuffer(b Buffer) {
	if t.buffer != nil {
		exceptions.Panicf("Tensor%s: storage can only be set once", t)
	}
	if b.Len() < t.ByteSize() {
		exceptions.Panicf("Tensor%s: storage of %d bytes is smaller than required %d bytes", t, b.Len(), t.ByteSize())
	}
	t.buffer = b
}

// WriteDataWithoutCopy aliases data as this tensor's read-only storage.
func (t *Tensor) WriteDataWithoutCopy(data []byte) {
	t.setBuffer(Borrow(data))
}

// SetOwnedBuffer attaches allocator-backed storage. It takes over the caller's reference.
func (t *Tensor) SetOwnedBuffer(b *OwnedBuffer) {
	t.setBuffer(b)
}

// ShareBuffer makes t use src's owned storage, as an in-place kernel does with its output.
func (t *Tensor) ShareBuffer(src *Tensor) {
	owned, ok := src.Owned()
	if !ok {
		exceptions.Panicf("Tensor%s.ShareBuffer(%s): source has no owned storage", t, src)
	}
	owned.AddRef()
	t.setBuffer(owned)
}

// DetachBuffer removes and returns the storage. Only memory managers call it.
func (t *Tensor) DetachBuffer() Buffer {
	b := t.buffer
	t.buffer = nil
	return b
}

// Bytes returns a read-only view of the tensor's data, or nil if there is no storage.
func (t *Tensor) Bytes() []byte {
	if t.buffer == nil {
		return nil
	}
	return t.buffer.Bytes()[:t.ByteSize()]
}

// MutableBytes returns writable data. It fails for borrowed or missing storage.
func (t *Tensor) MutableBytes() ([]byte, error) {
	switch b := t.buffer.(type) {
	case *OwnedBuffer:
		return b.MutableBytes()[:t.ByteSize()], nil
	case nil:
		return nil, errors.Errorf("tensor %s has no storage", t)
	default:
		return nil, errors.Wrapf(ErrReadOnly, "tensor %s", t)
	}
}

func (t *Tensor) checkDType(dtype DataType) {
	if t.dtype != dtype {
		exceptions.Panicf("tensor %s dtype is %s, not %s", t, t.dtype, dtype)
	}
}

// castSlice reinterprets raw bytes as a slice of n elements of T.
func castSlice[T any](data []byte, n int) []T {
	if n == 0 || len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by ByteSize()
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

// Float32s interprets the data as []float32 for reading.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) Float32s() []float32 {
	t.checkDType(Float32)
	return castSlice[float32](t.Bytes(), t.NumElements())
}

// MutableFloat32s interprets the data as a writable []float32.
func (t *Tensor) MutableFloat32s() ([]float32, error) {
	t.checkDType(Float32)
	data, err := t.MutableBytes()
	if err != nil {
		return nil, err
	}
	return castSlice[float32](data, t.NumElements()), nil
}

// Float16s interprets the data as []float16.Float16 for reading.
func (t *Tensor) Float16s() []float16.Float16 {
	t.checkDType(Float16)
	return castSlice[float16.Float16](t.Bytes(), t.NumElements())
}

// MutableFloat16s interprets the data as a writable []float16.Float16.
func (t *Tensor) MutableFloat16s() ([]float16.Float16, error) {
	t.checkDType(Float16)
	data, err := t.MutableBytes()
	if err != nil {
		return nil, err
	}
	return castSlice[float16.Float16](data, t.NumElements()), nil
}

// Int32s interprets the data as []int32 for reading.
func (t *Tensor) Int32s() []int32 {
	t.checkDType(Int32)
	return castSlice[int32](t.Bytes(), t.NumElements())
}

// Int64s interprets the data as []int64 for reading.
func (t *Tensor) Int64s() []int64 {
	t.checkDType(Int64)
	return castSlice[int64](t.Bytes(), t.NumElements())
}

// ToFloat32 returns a float32 copy of the tensor's data. Affine-quantized tensors are
// dequantized.
func (t *Tensor) ToFloat32() ([]float32, error) {
	if t.dtype.IsAffineQuantized() && t.quantization != nil {
		return t.dequantize(), nil
	}
	switch t.dtype {
	case Float32:
		return append([]float32(nil), t.Float32s()...), nil
	case Float16:
		src := t.Float16s()
		dst := make([]float32, len(src))
		for i, v := range src {
			dst[i] = v.Float32()
		}
		return dst, nil
	default:
		return nil, errors.Errorf("tensor %s: cannot convert %s to float32", t, t.dtype)
	}
}

// dequantize maps each stored integer through the tensor's quantization record. The channel
// of an element is its coordinate along QuantizedDimension.
func (t *Tensor) dequantize() []float32 {
	n := t.NumElements()
	var value func(i int) int64
	switch t.dtype {
	case Uint8:
		data := t.Bytes()
		value = func(i int) int64 { return int64(data[i]) }
	case Int8:
		data := castSlice[int8](t.Bytes(), n)
		value = func(i int) int64 { return int64(data[i]) }
	default:
		data := castSlice[int16](t.Bytes(), n)
		value = func(i int) int64 { return int64(data[i]) }
	}

	q := t.quantization
	stride, channels := 1, 1
	if q.PerChannel() && q.QuantizedDimension >= 0 && q.QuantizedDimension < t.shape.Rank() {
		stride = t.shape.ComputeStrides()[q.QuantizedDimension]
		channels = t.shape[q.QuantizedDimension]
	}
	dst := make([]float32, n)
	for i := range dst {
		channel := 0
		if channels > 1 {
			channel = (i / stride) % channels
		}
		dst[i] = q.Dequantize(value(i), channel)
	}
	return dst
}

// IntValues returns the data of an Int32 or Int64 tensor as []int, e.g. for shape operands.
func (t *Tensor) IntValues() ([]int, error) {
	if !t.HasData() {
		return nil, errors.Errorf("tensor %s has no data", t)
	}
	switch t.dtype {
	case Int32:
		src := t.Int32s()
		dst := make([]int, len(src))
		for i, v := range src {
			dst[i] = int(v)
		}
		return dst, nil
	case Int64:
		src := t.Int64s()
		dst := make([]int, len(src))
		for i, v := range src {
			dst[i] = int(v)
		}
		return dst, nil
	default:
		return nil, errors.Errorf("tensor %s: expected int32 or int64 data, got %s", t, t.dtype)
	}
}
