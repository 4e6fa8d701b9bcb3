package kernels

import (
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// FullyConnectedParams configures FULLY_CONNECTED.
type FullyConnectedParams struct {
	Activation  serialization.Activation
	KeepNumDims bool
}

// FullyConnected computes output = input x weights^T + bias. Weights are [units, depth]; the
// input is flattened to [batch, depth].
type FullyConnected struct {
	base
	params FullyConnectedParams
}

// NewFullyConnected creates the FULLY_CONNECTED kernel. bias may be nil.
func NewFullyConnected(input, weights, bias, output *tensor.Tensor, params FullyConnectedParams) *FullyConnected {
	return &FullyConnected{
		base:   newBase(serialization.OpcodeFullyConnected, []*tensor.Tensor{input, weights, bias}, output),
		params: params,
	}
}

// Params returns the kernel parameters.
func (k *FullyConnected) Params() FullyConnectedParams { return k.params }

func (k *FullyConnected) dims() (batch, depth, units int, err error) {
	weights := k.input(1).Shape()
	if weights.Rank() != 2 {
		return 0, 0, 0, errors.Wrapf(ErrShapeMismatch, "FULLY_CONNECTED weights %s must be 2D", weights)
	}
	units, depth = weights[0], weights[1]
	n := k.input(0).NumElements()
	if depth == 0 || n%depth != 0 {
		return 0, 0, 0, errors.Wrapf(ErrShapeMismatch, "FULLY_CONNECTED input %s is not a multiple of depth %d",
			k.input(0).Shape(), depth)
	}
	if bias := k.input(2); bias != nil && bias.NumElements() != units {
		return 0, 0, 0, errors.Wrapf(ErrShapeMismatch, "FULLY_CONNECTED bias %s does not match %d units", bias, units)
	}
	return n / depth, depth, units, nil
}

// Configure implements Kernel.
func (k *FullyConnected) Configure() error {
	batch, _, units, err := k.dims()
	if err != nil {
		return err
	}
	in := k.input(0).Shape()
	if k.params.KeepNumDims && in.Rank() > 0 {
		shape := in.Clone()
		shape[len(shape)-1] = units
		return resizeOutput(k.output(), shape)
	}
	return resizeOutput(k.output(), tensor.MakeShape(batch, units))
}

// Execute implements Kernel.
func (k *FullyConnected) Execute() error {
	batch, depth, units, err := k.dims()
	if err != nil {
		return err
	}
	src, err := readFloats(k.input(0))
	if err != nil {
		return err
	}
	weights, err := readFloats(k.input(1))
	if err != nil {
		return err
	}
	bias, err := optionalFloats(k.input(2))
	if err != nil {
		return err
	}
	out, err := writeFloats(k.output())
	if err != nil {
		return err
	}

	k.parallelRange(batch*units, func(idx int) {
		b, u := idx/units, idx%units
		row := src[b*depth : (b+1)*depth]
		w := weights[u*depth : (u+1)*depth]
		var acc float32
		for i, v := range row {
			acc += v * w[i]
		}
		if bias != nil {
			acc += bias[u]
		}
		out.data[idx] = activate(k.params.Activation, acc)
	})
	return out.flush()
}
