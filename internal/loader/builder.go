package loader

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/kernels"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

var (
	// ErrWrongBuilder is returned when an operator's options do not belong to its opcode.
	ErrWrongBuilder = errors.New("wrong builder for operation")

	// ErrUnimplementedOperation is returned for opcodes without a kernel builder.
	ErrUnimplementedOperation = errors.New("unimplemented operation")
)

// BuilderFunc creates the kernel for one operator. inputs holds nil for operands that are
// absent from the graph; outputs are freshly created tensors without storage. index is the
// operator's position in the serialized graph.
type BuilderFunc func(inputs, outputs []*tensor.Tensor, op serialization.Operator, index int) (kernels.Kernel, error)

// KernelBuilder maps opcodes to kernel builders.
type KernelBuilder struct {
	builders [serialization.OpcodeLast]BuilderFunc
}

// NewKernelBuilder creates a builder with all supported operations registered.
func NewKernelBuilder() *KernelBuilder {
	b := &KernelBuilder{}

	b.registerElementwise()
	b.registerShapeOps()
	b.registerNormalization()
	b.registerDense()

	return b
}

// Register adds or replaces the builder for an opcode.
func (b *KernelBuilder) Register(opcode serialization.Opcode, fn BuilderFunc) {
	if opcode <= serialization.OpcodeInvalid || opcode >= serialization.OpcodeLast {
		exceptions.Panicf("KernelBuilder.Register(%s): opcode out of range", opcode)
	}
	b.builders[opcode] = fn
}

// Supports reports whether opcode has a builder.
func (b *KernelBuilder) Supports(opcode serialization.Opcode) bool {
	return opcode > serialization.OpcodeInvalid && opcode < serialization.OpcodeLast && b.builders[opcode] != nil
}

// SupportedOpcodes returns the opcodes that have a builder, in opcode order.
func (b *KernelBuilder) SupportedOpcodes() []serialization.Opcode {
	var ops []serialization.Opcode
	for op := serialization.OpcodeInvalid + 1; op < serialization.OpcodeLast; op++ {
		if b.builders[op] != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

// Build creates the kernel for the operator at position index.
func (b *KernelBuilder) Build(inputs, outputs []*tensor.Tensor, op serialization.Operator, index int) (kernels.Kernel, error) {
	if !b.Supports(op.Opcode) {
		return nil, errors.Wrapf(ErrUnimplementedOperation, "operator #%d (%s)", index, op.Opcode)
	}
	k, err := b.builders[op.Opcode](inputs, outputs, op, index)
	if err != nil {
		return nil, errors.WithMessagef(err, "operator #%d (%s)", index, op.Opcode)
	}
	return k, nil
}

// optionsAs returns the operator's options as the variant T, or ErrWrongBuilder.
func optionsAs[T serialization.Options](op serialization.Operator) (T, error) {
	opts, ok := op.Options.(T)
	if !ok {
		var zero T
		return zero, errors.Wrapf(ErrWrongBuilder, "options of type %T", op.Options)
	}
	return opts, nil
}

// checkArity asserts the operand counts. Up to two input counts may be accepted.
func checkArity(op serialization.Operator, inputs, outputs []*tensor.Tensor, numOutputs int, numInputs ...int) {
	okInputs := false
	for _, n := range numInputs {
		okInputs = okInputs || len(inputs) == n
	}
	if !okInputs || len(outputs) != numOutputs {
		exceptions.Panicf("%s: expected %v inputs and %d outputs, got %d inputs and %d outputs",
			op.Opcode, numInputs, numOutputs, len(inputs), len(outputs))
	}
}

// required asserts that the operand at position i was resolved.
func required(op serialization.Operator, inputs []*tensor.Tensor, i int) *tensor.Tensor {
	if inputs[i] == nil {
		exceptions.Panicf("%s: required input #%d (tensor %d) is absent", op.Opcode, i, op.Inputs[i])
	}
	return inputs[i]
}
