package kernels

import (
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// Unary is an elementwise kernel with one operand. The output may alias the input.
type Unary struct {
	base
	fn func(float32) float32
}

// NewLogistic creates the LOGISTIC (sigmoid) kernel.
func NewLogistic(input, output *tensor.Tensor) *Unary {
	return &Unary{
		base: newBase(serialization.OpcodeLogistic, []*tensor.Tensor{input}, output),
		fn:   sigmoid,
	}
}

// NewRelu creates the RELU kernel.
func NewRelu(input, output *tensor.Tensor) *Unary {
	return &Unary{
		base: newBase(serialization.OpcodeRelu, []*tensor.Tensor{input}, output),
		fn:   func(v float32) float32 { return max(v, 0) },
	}
}

// Configure implements Kernel.
func (k *Unary) Configure() error {
	return resizeOutput(k.output(), k.input(0).Shape())
}

// Execute implements Kernel.
func (k *Unary) Execute() error {
	src, err := readFloats(k.input(0))
	if err != nil {
		return err
	}
	out, err := writeFloats(k.output())
	if err != nil {
		return err
	}
	k.parallelRange(len(out.data), func(i int) {
		out.data[i] = k.fn(src[i])
	})
	return out.flush()
}
