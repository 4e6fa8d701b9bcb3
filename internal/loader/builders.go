package loader

import (
	"github.com/born-ml/micro/internal/kernels"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

func (b *KernelBuilder) registerElementwise() {
	b.Register(serialization.OpcodeAdd, buildAdd)
	b.Register(serialization.OpcodeMul, buildMul)
	b.Register(serialization.OpcodeLogistic, buildLogistic)
	b.Register(serialization.OpcodeRelu, buildRelu)
}

func (b *KernelBuilder) registerShapeOps() {
	b.Register(serialization.OpcodeReshape, buildReshape)
	b.Register(serialization.OpcodeExpandDims, buildExpandDims)
}

func (b *KernelBuilder) registerNormalization() {
	b.Register(serialization.OpcodeInstanceNorm, buildInstanceNorm)
	b.Register(serialization.OpcodeSoftmax, buildSoftmax)
}

func (b *KernelBuilder) registerDense() {
	b.Register(serialization.OpcodeFullyConnected, buildFullyConnected)
}

func buildAdd(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	opts, err := optionsAs[*serialization.AddOptions](op)
	if err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 2)
	params := kernels.BinaryParams{Activation: opts.FusedActivation}
	return kernels.NewAdd(required(op, inputs, 0), required(op, inputs, 1), outputs[0], params), nil
}

func buildMul(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	opts, err := optionsAs[*serialization.MulOptions](op)
	if err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 2)
	params := kernels.BinaryParams{Activation: opts.FusedActivation}
	return kernels.NewMul(required(op, inputs, 0), required(op, inputs, 1), outputs[0], params), nil
}

func buildLogistic(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	if _, err := optionsAs[*serialization.LogisticOptions](op); err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 1)
	return kernels.NewLogistic(required(op, inputs, 0), outputs[0]), nil
}

func buildRelu(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	if _, err := optionsAs[*serialization.ReluOptions](op); err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 1)
	return kernels.NewRelu(required(op, inputs, 0), outputs[0]), nil
}

func buildReshape(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	opts, err := optionsAs[*serialization.ReshapeOptions](op)
	if err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 1, 2)
	var shape *tensor.Tensor
	if len(inputs) == 2 {
		shape = inputs[1]
	}
	params := kernels.ReshapeParams{NewShape: make([]int, len(opts.NewShape))}
	for i, dim := range opts.NewShape {
		params.NewShape[i] = int(dim)
	}
	return kernels.NewReshape(required(op, inputs, 0), shape, outputs[0], params), nil
}

func buildExpandDims(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	if _, err := optionsAs[*serialization.ExpandDimsOptions](op); err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 2)
	return kernels.NewExpandDims(required(op, inputs, 0), required(op, inputs, 1), outputs[0]), nil
}

func buildInstanceNorm(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	opts, err := optionsAs[*serialization.InstanceNormOptions](op)
	if err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 3)
	params := kernels.InstanceNormParams{
		Epsilon:    opts.Epsilon,
		Activation: opts.FusedActivation,
	}
	// Gamma and beta are optional and may be absent.
	return kernels.NewInstanceNorm(required(op, inputs, 0), inputs[1], inputs[2], outputs[0], params), nil
}

func buildSoftmax(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	opts, err := optionsAs[*serialization.SoftmaxOptions](op)
	if err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 1)
	return kernels.NewSoftmax(required(op, inputs, 0), outputs[0], kernels.SoftmaxParams{Beta: opts.Beta}), nil
}

func buildFullyConnected(inputs, outputs []*tensor.Tensor, op serialization.Operator, _ int) (kernels.Kernel, error) {
	opts, err := optionsAs[*serialization.FullyConnectedOptions](op)
	if err != nil {
		return nil, err
	}
	checkArity(op, inputs, outputs, 1, 3)
	params := kernels.FullyConnectedParams{
		Activation:  opts.FusedActivation,
		KeepNumDims: opts.KeepNumDims,
	}
	// The bias is optional and may be absent.
	return kernels.NewFullyConnected(required(op, inputs, 0), required(op, inputs, 1), inputs[2],
		outputs[0], params), nil
}
