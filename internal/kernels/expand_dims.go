package kernels

import (
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// ExpandDims inserts a dimension of size 1 at the axis given by its second input.
type ExpandDims struct {
	base
}

// NewExpandDims creates the EXPAND_DIMS kernel.
func NewExpandDims(input, axis, output *tensor.Tensor) *ExpandDims {
	return &ExpandDims{
		base: newBase(serialization.OpcodeExpandDims, []*tensor.Tensor{input, axis}, output),
	}
}

func (k *ExpandDims) axis() (int, error) {
	axisTensor := k.input(1)
	if axisTensor == nil {
		return 0, errors.New("EXPAND_DIMS requires an axis tensor")
	}
	values, err := axisTensor.IntValues()
	if err != nil {
		return 0, errors.WithMessage(err, "EXPAND_DIMS axis")
	}
	if len(values) != 1 {
		return 0, errors.Errorf("EXPAND_DIMS axis must be a single value, got %v", values)
	}
	rank := k.input(0).Shape().Rank()
	axis := values[0]
	if axis < 0 {
		axis += rank + 1
	}
	if axis < 0 || axis > rank {
		return 0, errors.Wrapf(ErrShapeMismatch, "EXPAND_DIMS axis %d out of range for rank %d", values[0], rank)
	}
	return axis, nil
}

// Configure implements Kernel.
func (k *ExpandDims) Configure() error {
	axis, err := k.axis()
	if err != nil {
		return err
	}
	in := k.input(0).Shape()
	shape := make(tensor.Shape, 0, len(in)+1)
	shape = append(shape, in[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, in[axis:]...)
	return resizeOutput(k.output(), shape)
}

// Execute implements Kernel.
func (k *ExpandDims) Execute() error {
	return copyData(k.output(), k.input(0))
}
