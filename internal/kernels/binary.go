package kernels

import (
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// BinaryParams configures ADD and MUL.
type BinaryParams struct {
	Activation serialization.Activation
}

// Binary is an elementwise kernel over two broadcast operands.
type Binary struct {
	base
	params BinaryParams
	fn     func(a, b float32) float32
}

// NewAdd creates the ADD kernel.
func NewAdd(lhs, rhs, output *tensor.Tensor, params BinaryParams) *Binary {
	return &Binary{
		base:   newBase(serialization.OpcodeAdd, []*tensor.Tensor{lhs, rhs}, output),
		params: params,
		fn:     func(a, b float32) float32 { return a + b },
	}
}

// NewMul creates the MUL kernel.
func NewMul(lhs, rhs, output *tensor.Tensor, params BinaryParams) *Binary {
	return &Binary{
		base:   newBase(serialization.OpcodeMul, []*tensor.Tensor{lhs, rhs}, output),
		params: params,
		fn:     func(a, b float32) float32 { return a * b },
	}
}

// Params returns the kernel parameters.
func (k *Binary) Params() BinaryParams { return k.params }

// Configure implements Kernel.
func (k *Binary) Configure() error {
	shape, err := BroadcastShapes(k.input(0).Shape(), k.input(1).Shape())
	if err != nil {
		return errors.WithMessagef(err, "%s", k.opcode)
	}
	return resizeOutput(k.output(), shape)
}

// Execute implements Kernel.
func (k *Binary) Execute() error {
	lhs, err := readFloats(k.input(0))
	if err != nil {
		return err
	}
	rhs, err := readFloats(k.input(1))
	if err != nil {
		return err
	}
	out, err := writeFloats(k.output())
	if err != nil {
		return err
	}

	outShape := k.output().Shape()
	if k.input(0).Shape().Equal(outShape) && k.input(1).Shape().Equal(outShape) {
		k.parallelRange(len(out.data), func(i int) {
			out.data[i] = activate(k.params.Activation, k.fn(lhs[i], rhs[i]))
		})
		return out.flush()
	}

	outStrides := outShape.ComputeStrides()
	lhsStrides := broadcastStrides(k.input(0).Shape(), outShape)
	rhsStrides := broadcastStrides(k.input(1).Shape(), outShape)
	k.parallelRange(len(out.data), func(i int) {
		a := lhs[flatIndex(i, outStrides, lhsStrides)]
		b := rhs[flatIndex(i, outStrides, rhsStrides)]
		out.data[i] = activate(k.params.Activation, k.fn(a, b))
	})
	return out.flush()
}

// BroadcastShapes computes the result shape of two operands under NumPy broadcasting rules.
func BroadcastShapes(a, b tensor.Shape) (tensor.Shape, error) {
	rank := max(len(a), len(b))
	result := make(tensor.Shape, rank)
	for i := 0; i < rank; i++ {
		aDim, bDim := 1, 1
		if j := len(a) - 1 - i; j >= 0 {
			aDim = a[j]
		}
		if j := len(b) - 1 - i; j >= 0 {
			bDim = b[j]
		}

		switch {
		case aDim == bDim, bDim == 1:
			result[rank-1-i] = aDim
		case aDim == 1:
			result[rank-1-i] = bDim
		default:
			return nil, errors.Wrapf(ErrShapeMismatch, "cannot broadcast %s with %s (axis %d: %d vs %d)",
				a, b, rank-1-i, aDim, bDim)
		}
	}
	return result, nil
}

// broadcastStrides returns in's strides laid over outShape, with 0 for broadcast axes.
func broadcastStrides(in, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(in)
	inStrides := in.ComputeStrides()
	for i := range outShape {
		j := i - offset
		if j < 0 || in[j] == 1 {
			continue
		}
		strides[i] = inStrides[j]
	}
	return strides
}

// flatIndex maps a flat output position to a flat input position.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	idx := 0
	for i, stride := range outStrides {
		if stride == 0 {
			continue
		}
		idx += (outIdx / stride) * inStrides[i]
		outIdx %= stride
	}
	return idx
}
