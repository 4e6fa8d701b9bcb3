package kernels

import (
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// ReshapeParams configures RESHAPE. NewShape may contain a single -1 entry.
type ReshapeParams struct {
	NewShape []int
}

// Reshape changes the shape of its input without touching the data.
type Reshape struct {
	base
	params ReshapeParams
}

// NewReshape creates the RESHAPE kernel. shape may be nil, in which case the target comes from
// params, or from the output's declared shape if params is empty too.
func NewReshape(input, shape, output *tensor.Tensor, params ReshapeParams) *Reshape {
	inputs := []*tensor.Tensor{input}
	if shape != nil {
		inputs = append(inputs, shape)
	}
	return &Reshape{
		base:   newBase(serialization.OpcodeReshape, inputs, output),
		params: params,
	}
}

// Params returns the kernel parameters.
func (k *Reshape) Params() ReshapeParams { return k.params }

func (k *Reshape) targetDims() ([]int, error) {
	if len(k.inputs) > 1 && k.inputs[1] != nil && k.inputs[1].HasData() {
		return k.inputs[1].IntValues()
	}
	if len(k.params.NewShape) > 0 {
		return k.params.NewShape, nil
	}
	return k.output().Shape(), nil
}

// Configure implements Kernel.
func (k *Reshape) Configure() error {
	dims, err := k.targetDims()
	if err != nil {
		return errors.WithMessage(err, "RESHAPE target shape")
	}
	shape, err := resolveShape(dims, k.input(0).NumElements())
	if err != nil {
		return err
	}
	return resizeOutput(k.output(), shape)
}

// Execute implements Kernel.
func (k *Reshape) Execute() error {
	return copyData(k.output(), k.input(0))
}

// resolveShape fills in a -1 dimension so the shape holds exactly numElements.
func resolveShape(dims []int, numElements int) (tensor.Shape, error) {
	shape := make(tensor.Shape, len(dims))
	inferred := -1
	known := 1
	for i, dim := range dims {
		switch {
		case dim == -1 && inferred < 0:
			inferred = i
		case dim < 0:
			return nil, errors.Wrapf(ErrShapeMismatch, "invalid target shape %v", dims)
		default:
			shape[i] = dim
			known *= dim
		}
	}
	if inferred >= 0 {
		if known == 0 || numElements%known != 0 {
			return nil, errors.Wrapf(ErrShapeMismatch, "cannot infer dimension of %v for %d elements", dims, numElements)
		}
		shape[inferred] = numElements / known
	}
	if shape.NumElements() != numElements {
		return nil, errors.Wrapf(ErrShapeMismatch, "target shape %s holds %d elements, input has %d",
			shape, shape.NumElements(), numElements)
	}
	return shape, nil
}
