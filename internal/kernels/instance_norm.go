package kernels

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/parallel"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// InstanceNormParams configures INSTANCE_NORM.
type InstanceNormParams struct {
	Epsilon    float32
	Activation serialization.Activation
}

// InstanceNorm normalizes each channel of each batch item over its spatial positions, then
// scales by gamma and shifts by beta. The layout is channels-last: [N, ..., C].
type InstanceNorm struct {
	base
	params InstanceNormParams
}

// NewInstanceNorm creates the INSTANCE_NORM kernel.
func NewInstanceNorm(input, gamma, beta, output *tensor.Tensor, params InstanceNormParams) *InstanceNorm {
	return &InstanceNorm{
		base:   newBase(serialization.OpcodeInstanceNorm, []*tensor.Tensor{input, gamma, beta}, output),
		params: params,
	}
}

// Params returns the kernel parameters.
func (k *InstanceNorm) Params() InstanceNormParams { return k.params }

// Configure implements Kernel.
func (k *InstanceNorm) Configure() error {
	in := k.input(0).Shape()
	if in.Rank() < 2 {
		return errors.Wrapf(ErrShapeMismatch, "INSTANCE_NORM input %s must have rank >= 2", in)
	}
	channels := in.Dim(-1)
	for _, operand := range k.inputs[1:] {
		if operand != nil && operand.NumElements() != channels {
			return errors.Wrapf(ErrShapeMismatch, "INSTANCE_NORM operand %s does not match %d channels", operand, channels)
		}
	}
	return resizeOutput(k.output(), in)
}

// Execute implements Kernel.
func (k *InstanceNorm) Execute() error {
	src, err := readFloats(k.input(0))
	if err != nil {
		return err
	}
	gamma, err := optionalFloats(k.input(1))
	if err != nil {
		return err
	}
	beta, err := optionalFloats(k.input(2))
	if err != nil {
		return err
	}
	out, err := writeFloats(k.output())
	if err != nil {
		return err
	}

	in := k.input(0).Shape()
	batch, channels := in.Dim(0), in.Dim(-1)
	spatial := 1
	if batch*channels > 0 {
		spatial = in.NumElements() / (batch * channels)
	}
	eps := float64(k.params.Epsilon)

	parallel.ForBatch(batch, channels, func(b, c int) {
		offset := b*spatial*channels + c
		var sum float64
		for i := 0; i < spatial; i++ {
			sum += float64(src[offset+i*channels])
		}
		mean := sum / float64(spatial)
		var variance float64
		for i := 0; i < spatial; i++ {
			d := float64(src[offset+i*channels]) - mean
			variance += d * d
		}
		variance /= float64(spatial)
		invStd := 1 / math.Sqrt(variance+eps)

		scale, shift := float64(1), float64(0)
		if gamma != nil {
			scale = float64(gamma[c])
		}
		if beta != nil {
			shift = float64(beta[c])
		}
		for i := 0; i < spatial; i++ {
			idx := offset + i*channels
			v := (float64(src[idx])-mean)*invStd*scale + shift
			out.data[idx] = activate(k.params.Activation, float32(v))
		}
	}, k.parallel)
	return out.flush()
}

func optionalFloats(t *tensor.Tensor) ([]float32, error) {
	if t == nil {
		return nil, nil
	}
	return readFloats(t)
}
