package kernels

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/born-ml/micro/internal/tensor"
)

func checkFloat(t *tensor.Tensor) error {
	if t.DType().IsFloat() {
		return nil
	}
	return errors.Wrapf(ErrUnsupportedType, "tensor %s", t)
}

// readFloats returns the tensor data as float32. Float32 data is returned without copying.
func readFloats(t *tensor.Tensor) ([]float32, error) {
	switch t.DType() {
	case tensor.Float32:
		return t.Float32s(), nil
	case tensor.Float16:
		return t.ToFloat32()
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "tensor %s", t)
	}
}

// floatWriter is a float32 view of an output tensor. For float16 outputs the values are
// converted when flushed.
type floatWriter struct {
	t    *tensor.Tensor
	data []float32
}

func writeFloats(t *tensor.Tensor) (*floatWriter, error) {
	switch t.DType() {
	case tensor.Float32:
		data, err := t.MutableFloat32s()
		if err != nil {
			return nil, err
		}
		return &floatWriter{t: t, data: data}, nil
	case tensor.Float16:
		if _, err := t.MutableBytes(); err != nil {
			return nil, err
		}
		return &floatWriter{t: t, data: make([]float32, t.NumElements())}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "tensor %s", t)
	}
}

func (w *floatWriter) flush() error {
	if w.t.DType() != tensor.Float16 {
		return nil
	}
	dst, err := w.t.MutableFloat16s()
	if err != nil {
		return err
	}
	for i, v := range w.data {
		dst[i] = float16.Fromfloat32(v)
	}
	return nil
}
