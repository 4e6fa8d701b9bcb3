package kernels

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// SoftmaxParams configures SOFTMAX.
type SoftmaxParams struct {
	Beta float32
}

// Softmax computes exp(beta*x) / sum(exp(beta*x)) along the last axis.
type Softmax struct {
	base
	params SoftmaxParams
}

// NewSoftmax creates the SOFTMAX kernel.
func NewSoftmax(input, output *tensor.Tensor, params SoftmaxParams) *Softmax {
	return &Softmax{
		base:   newBase(serialization.OpcodeSoftmax, []*tensor.Tensor{input}, output),
		params: params,
	}
}

// Params returns the kernel parameters.
func (k *Softmax) Params() SoftmaxParams { return k.params }

// Configure implements Kernel.
func (k *Softmax) Configure() error {
	in := k.input(0).Shape()
	if in.Rank() == 0 {
		return errors.Wrap(ErrShapeMismatch, "SOFTMAX input must have rank >= 1")
	}
	return resizeOutput(k.output(), in)
}

// Execute implements Kernel.
func (k *Softmax) Execute() error {
	src, err := readFloats(k.input(0))
	if err != nil {
		return err
	}
	out, err := writeFloats(k.output())
	if err != nil {
		return err
	}

	depth := k.input(0).Shape().Dim(-1)
	if depth == 0 {
		return out.flush()
	}
	beta := float64(k.params.Beta)
	k.parallelRange(len(src)/depth, func(row int) {
		x := src[row*depth : (row+1)*depth]
		y := out.data[row*depth : (row+1)*depth]

		maxVal := x[0]
		for _, v := range x[1:] {
			maxVal = max(maxVal, v)
		}
		var sum float64
		for i, v := range x {
			e := math.Exp(beta * float64(v-maxVal))
			y[i] = float32(e)
			sum += e
		}
		for i := range y {
			y[i] = float32(float64(y[i]) / sum)
		}
	})
	return out.flush()
}
