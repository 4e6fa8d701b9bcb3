package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/micro/internal/parallel"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// run configures k, allocates its outputs and executes it.
func run(t *testing.T, k Kernel) {
	t.Helper()
	require.NoError(t, k.Configure())
	for _, out := range k.Outputs() {
		if !out.HasData() {
			out.SetOwnedBuffer(tensor.NewOwnedBuffer(make([]byte, out.ByteSize())))
		}
	}
	require.NoError(t, k.Execute())
}

func pending(dtype tensor.DataType, dims ...int) *tensor.Tensor {
	return tensor.New(dtype, tensor.MakeShape(dims...), nil)
}

func TestAddBroadcast(t *testing.T) {
	a := tensor.FromFloat32(tensor.MakeShape(2, 3), []float32{1, 2, 3, 4, 5, 6})
	b := tensor.FromFloat32(tensor.MakeShape(3), []float32{10, 20, 30})
	out := pending(tensor.Float32, 0)

	run(t, NewAdd(a, b, out, BinaryParams{}))
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.Float32s())
}

func TestMulFusedActivation(t *testing.T) {
	a := tensor.FromFloat32(tensor.MakeShape(4), []float32{-1, 2, -3, 4})
	b := tensor.FromFloat32(tensor.MakeShape(1), []float32{2})
	out := pending(tensor.Float32, 4)

	k := NewMul(a, b, out, BinaryParams{Activation: serialization.ActivationRelu})
	run(t, k)
	assert.Equal(t, serialization.OpcodeMul, k.Opcode())
	assert.Equal(t, []float32{0, 4, 0, 8}, out.Float32s())
}

func TestBroadcastShapes(t *testing.T) {
	got, err := BroadcastShapes(tensor.Shape{3, 1}, tensor.Shape{3, 4})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4}, got)

	got, err = BroadcastShapes(tensor.Shape{}, tensor.Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, got)

	_, err = BroadcastShapes(tensor.Shape{3}, tensor.Shape{4})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLogisticInplace(t *testing.T) {
	in := tensor.FromFloat32(tensor.MakeShape(3), []float32{0, 100, -100})
	out := pending(tensor.Float32, 3)
	k := NewLogistic(in, out)
	k.SetInplaceSource(in)
	require.True(t, k.Inplace())
	require.Same(t, in, k.InplaceSource())

	require.NoError(t, k.Configure())
	out.ShareBuffer(in)
	require.NoError(t, k.Execute())

	got := in.Float32s()
	assert.InDelta(t, 0.5, got[0], 1e-6)
	assert.InDelta(t, 1.0, got[1], 1e-6)
	assert.InDelta(t, 0.0, got[2], 1e-6)
	assert.Equal(t, got, out.Float32s())

	k.SetInplaceSource(nil)
	assert.False(t, k.Inplace())
	assert.Nil(t, k.InplaceSource())
}

func TestReluFloat16(t *testing.T) {
	in := tensor.FromFloat16(tensor.MakeShape(4), []float32{-2, -0.5, 0.5, 2})
	out := pending(tensor.Float16, 4)
	run(t, NewRelu(in, out))
	got, err := out.ToFloat32()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0.5, 2}, got)
}

func TestUnsupportedType(t *testing.T) {
	in := tensor.FromInt32(tensor.MakeShape(2), []int32{1, 2})
	out := pending(tensor.Int32, 2)
	k := NewRelu(in, out)
	require.NoError(t, k.Configure())
	out.SetOwnedBuffer(tensor.NewOwnedBuffer(make([]byte, out.ByteSize())))
	assert.ErrorIs(t, k.Execute(), ErrUnsupportedType)
}

func TestReshape(t *testing.T) {
	t.Run("from params with inferred dimension", func(t *testing.T) {
		in := tensor.FromFloat32(tensor.MakeShape(2, 3), []float32{1, 2, 3, 4, 5, 6})
		out := pending(tensor.Float32, 6)
		run(t, NewReshape(in, nil, out, ReshapeParams{NewShape: []int{3, -1}}))
		assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
		assert.Equal(t, in.Float32s(), out.Float32s())
	})

	t.Run("shape tensor wins over params", func(t *testing.T) {
		in := tensor.FromFloat32(tensor.MakeShape(2, 3), []float32{1, 2, 3, 4, 5, 6})
		shape := tensor.FromInt32(tensor.MakeShape(1), []int32{6})
		out := pending(tensor.Float32, 0)
		run(t, NewReshape(in, shape, out, ReshapeParams{NewShape: []int{3, 2}}))
		assert.Equal(t, tensor.Shape{6}, out.Shape())
	})

	t.Run("falls back to declared output shape", func(t *testing.T) {
		in := tensor.FromFloat32(tensor.MakeShape(4), []float32{1, 2, 3, 4})
		out := pending(tensor.Float32, 2, 2)
		run(t, NewReshape(in, nil, out, ReshapeParams{}))
		assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	})

	t.Run("element count mismatch", func(t *testing.T) {
		in := tensor.FromFloat32(tensor.MakeShape(4), []float32{1, 2, 3, 4})
		out := pending(tensor.Float32, 0)
		err := NewReshape(in, nil, out, ReshapeParams{NewShape: []int{3}}).Configure()
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("in-place skips the copy", func(t *testing.T) {
		in := tensor.FromFloat32(tensor.MakeShape(4), []float32{1, 2, 3, 4})
		out := pending(tensor.Float32, 2, 2)
		k := NewReshape(in, nil, out, ReshapeParams{})
		k.SetInplaceSource(in)
		require.NoError(t, k.Configure())
		out.ShareBuffer(in)
		require.NoError(t, k.Execute())
		assert.True(t, aliased(in, out))
	})

	t.Run("borrowed input is copied", func(t *testing.T) {
		src := tensor.FromFloat32(tensor.MakeShape(2), []float32{7, 8})
		in := tensor.New(tensor.Float32, tensor.MakeShape(2), nil)
		in.WriteDataWithoutCopy(src.Bytes())
		out := pending(tensor.Float32, 2)
		run(t, NewReshape(in, nil, out, ReshapeParams{}))
		assert.Equal(t, []float32{7, 8}, out.Float32s())
		assert.False(t, aliased(in, out))
	})
}

func TestExpandDims(t *testing.T) {
	for _, tc := range []struct {
		axis int32
		want tensor.Shape
	}{
		{0, tensor.Shape{1, 2, 3}},
		{1, tensor.Shape{2, 1, 3}},
		{2, tensor.Shape{2, 3, 1}},
		{-1, tensor.Shape{2, 3, 1}},
	} {
		in := tensor.Zeros(tensor.Float32, tensor.MakeShape(2, 3), nil)
		axis := tensor.FromInt32(tensor.Shape{}, []int32{tc.axis})
		out := pending(tensor.Float32, 0)
		run(t, NewExpandDims(in, axis, out))
		assert.Equal(t, tc.want, out.Shape(), "axis %d", tc.axis)
	}

	in := tensor.Zeros(tensor.Float32, tensor.MakeShape(2), nil)
	axis := tensor.FromInt32(tensor.Shape{}, []int32{5})
	err := NewExpandDims(in, axis, pending(tensor.Float32, 0)).Configure()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestInstanceNorm(t *testing.T) {
	// [N=1, H=1, W=4, C=2]: channel 0 = 1,2,3,4 and channel 1 = 10,10,10,10.
	in := tensor.FromFloat32(tensor.MakeShape(1, 1, 4, 2), []float32{1, 10, 2, 10, 3, 10, 4, 10})
	gamma := tensor.FromFloat32(tensor.MakeShape(2), []float32{1, 2})
	beta := tensor.FromFloat32(tensor.MakeShape(2), []float32{0, 5})
	out := pending(tensor.Float32, 1, 1, 4, 2)

	k := NewInstanceNorm(in, gamma, beta, out, InstanceNormParams{Epsilon: 1e-5})
	k.SetParallel(parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})
	run(t, k)

	got := out.Float32s()
	std := math.Sqrt(1.25 + 1e-5)
	for i, x := range []float64{1, 2, 3, 4} {
		assert.InDelta(t, (x-2.5)/std, got[2*i], 1e-4)
		assert.InDelta(t, 5.0, got[2*i+1], 1e-4)
	}
}

func TestInstanceNormChannelMismatch(t *testing.T) {
	in := tensor.Zeros(tensor.Float32, tensor.MakeShape(1, 2, 2, 3), nil)
	gamma := tensor.Zeros(tensor.Float32, tensor.MakeShape(2), nil)
	beta := tensor.Zeros(tensor.Float32, tensor.MakeShape(3), nil)
	k := NewInstanceNorm(in, gamma, beta, pending(tensor.Float32, 1, 2, 2, 3), InstanceNormParams{Epsilon: 1e-5})
	assert.ErrorIs(t, k.Configure(), ErrShapeMismatch)
}

func TestFullyConnected(t *testing.T) {
	in := tensor.FromFloat32(tensor.MakeShape(2, 3), []float32{1, 2, 3, -1, -2, -3})
	weights := tensor.FromFloat32(tensor.MakeShape(2, 3), []float32{1, 0, 0, 1, 1, 1})
	bias := tensor.FromFloat32(tensor.MakeShape(2), []float32{0.5, -0.5})

	out := pending(tensor.Float32, 0)
	run(t, NewFullyConnected(in, weights, bias, out, FullyConnectedParams{}))
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{1.5, 5.5, -0.5, -6.5}, out.Float32s())

	out = pending(tensor.Float32, 0)
	run(t, NewFullyConnected(in, weights, nil, out, FullyConnectedParams{Activation: serialization.ActivationRelu}))
	assert.Equal(t, []float32{1, 6, 0, 0}, out.Float32s())
}

func TestFullyConnectedKeepNumDims(t *testing.T) {
	in := tensor.Zeros(tensor.Float32, tensor.MakeShape(1, 2, 4), nil)
	weights := tensor.Zeros(tensor.Float32, tensor.MakeShape(3, 4), nil)

	out := pending(tensor.Float32, 0)
	require.NoError(t, NewFullyConnected(in, weights, nil, out, FullyConnectedParams{KeepNumDims: true}).Configure())
	assert.Equal(t, tensor.Shape{1, 2, 3}, out.Shape())

	out = pending(tensor.Float32, 0)
	require.NoError(t, NewFullyConnected(in, weights, nil, out, FullyConnectedParams{}).Configure())
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())

	bad := tensor.Zeros(tensor.Float32, tensor.MakeShape(3, 5), nil)
	err := NewFullyConnected(in, bad, nil, pending(tensor.Float32, 0), FullyConnectedParams{}).Configure()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSoftmax(t *testing.T) {
	in := tensor.FromFloat32(tensor.MakeShape(2, 3), []float32{1, 2, 3, 0, 0, 0})
	out := pending(tensor.Float32, 2, 3)
	run(t, NewSoftmax(in, out, SoftmaxParams{Beta: 1}))

	got := out.Float32s()
	e1, e2, e3 := math.Exp(1), math.Exp(2), math.Exp(3)
	sum := e1 + e2 + e3
	assert.InDelta(t, e1/sum, got[0], 1e-6)
	assert.InDelta(t, e3/sum, got[2], 1e-6)
	for _, v := range got[3:] {
		assert.InDelta(t, 1.0/3, v, 1e-6)
	}
}

func TestConfigureRejectsMaterializedMismatch(t *testing.T) {
	in := tensor.Zeros(tensor.Float32, tensor.MakeShape(3), nil)
	out := tensor.Zeros(tensor.Float32, tensor.MakeShape(4), nil)
	assert.ErrorIs(t, NewRelu(in, out).Configure(), ErrShapeMismatch)
}

func TestSetInplaceSource(t *testing.T) {
	in := tensor.Zeros(tensor.Float32, tensor.MakeShape(2), nil)
	axis := tensor.FromInt32(tensor.Shape{}, []int32{0})
	k := NewExpandDims(in, axis, pending(tensor.Float32, 1, 2))

	k.SetInplaceSource(axis)
	assert.True(t, k.Inplace())
	assert.Same(t, axis, k.InplaceSource())
	k.SetInplaceSource(nil)
	assert.False(t, k.Inplace())

	stranger := tensor.Zeros(tensor.Float32, tensor.MakeShape(2), nil)
	assert.Panics(t, func() { k.SetInplaceSource(stranger) })
}
