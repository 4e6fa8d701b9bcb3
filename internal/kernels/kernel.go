// Package kernels implements the operator kernels of the interpreter: one concrete type per
// supported opcode, each bound to its input and output tensors at construction time.
//
// Kernels carry reference float32 implementations (float16 is converted on the fly). Integer
// and quantized element types are rejected with ErrUnsupportedType at execution.
package kernels

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/parallel"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

var (
	// ErrUnsupportedType is returned when a kernel has no implementation for an element type.
	ErrUnsupportedType = errors.New("unsupported element type")

	// ErrShapeMismatch is returned when operand shapes are incompatible with the operation.
	ErrShapeMismatch = errors.New("incompatible shapes")
)

// Kernel is an executable operator bound to its tensors.
type Kernel interface {
	// Opcode returns the operation this kernel implements.
	Opcode() serialization.Opcode

	// Inputs returns the input tensors. Optional operands that are absent are nil.
	Inputs() []*tensor.Tensor

	// Outputs returns the output tensors.
	Outputs() []*tensor.Tensor

	// Configure infers the output shapes from the input shapes. Outputs without storage are
	// resized; outputs with storage must already have the inferred shape.
	Configure() error

	// Execute computes the outputs. Storage for all tensors must be attached.
	Execute() error

	// Inplace reports whether the output may reuse the storage of InplaceSource.
	Inplace() bool

	// SetInplaceSource marks the kernel as in-place with src, one of its inputs, as the source.
	// A nil src clears the flag.
	SetInplaceSource(src *tensor.Tensor)

	// InplaceSource returns the input whose storage the output reuses, or nil.
	InplaceSource() *tensor.Tensor
}

// base holds what every kernel shares.
type base struct {
	opcode        serialization.Opcode
	inputs        []*tensor.Tensor
	outputs       []*tensor.Tensor
	inplaceSource *tensor.Tensor
	parallel      parallel.Config
}

func newBase(opcode serialization.Opcode, inputs []*tensor.Tensor, outputs ...*tensor.Tensor) base {
	return base{
		opcode:   opcode,
		inputs:   inputs,
		outputs:  outputs,
		parallel: parallel.DefaultConfig(),
	}
}

func (k *base) Opcode() serialization.Opcode    { return k.opcode }
func (k *base) Inputs() []*tensor.Tensor        { return k.inputs }
func (k *base) Outputs() []*tensor.Tensor       { return k.outputs }
func (k *base) Inplace() bool                   { return k.inplaceSource != nil }
func (k *base) InplaceSource() *tensor.Tensor   { return k.inplaceSource }
func (k *base) output() *tensor.Tensor          { return k.outputs[0] }
func (k *base) input(i int) *tensor.Tensor      { return k.inputs[i] }
func (k *base) SetParallel(cfg parallel.Config) { k.parallel = cfg }

func (k *base) SetInplaceSource(src *tensor.Tensor) {
	if src != nil && !slices.Contains(k.inputs, src) {
		exceptions.Panicf("%s: in-place source %s is not an input of the kernel", k.opcode, src)
	}
	k.inplaceSource = src
}

// Parallelizable is implemented by kernels whose loops can be split across goroutines.
type Parallelizable interface {
	SetParallel(cfg parallel.Config)
}

// resizeOutput applies an inferred shape to out.
func resizeOutput(out *tensor.Tensor, shape tensor.Shape) error {
	if out.HasData() {
		if !out.Shape().Equal(shape) {
			return errors.Wrapf(ErrShapeMismatch, "output %s already materialized, inferred shape %s", out, shape)
		}
		return nil
	}
	if !out.Shape().Equal(shape) {
		out.Resize(shape)
	}
	return nil
}

// aliased reports whether two tensors share the same storage.
func aliased(a, b *tensor.Tensor) bool {
	x, y := a.Bytes(), b.Bytes()
	return len(x) > 0 && len(y) > 0 && &x[0] == &y[0]
}

// copyData copies src's bytes into dst unless both already share storage.
func copyData(dst, src *tensor.Tensor) error {
	if aliased(dst, src) {
		return nil
	}
	data, err := dst.MutableBytes()
	if err != nil {
		return err
	}
	copy(data, src.Bytes())
	return nil
}

// parallelRange runs f over [0, n) in chunks.
func (k *base) parallelRange(n int, f func(i int)) {
	parallel.ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, k.parallel)
}
