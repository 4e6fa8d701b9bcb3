package loader

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/micro/internal/kernels"
	"github.com/born-ml/micro/internal/runtime"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

func float32Bytes(values ...float32) []byte {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return data
}

func int32Bytes(values ...int32) []byte {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(v))
	}
	return data
}

func load(t *testing.T, g serialization.GraphReader, opts ...LoadOptions) (*runtime.Graph, *GraphLoader) {
	t.Helper()
	mm := runtime.NewSimpleMemoryManager()
	rg := runtime.NewGraph(mm)
	l := NewGraphLoader(g, rg, mm, opts...)
	require.NoError(t, l.Load())
	return rg, l
}

// reshapeLogisticGraph is reshape(input) -> logistic(x), input being a [1,4] graph input.
func reshapeLogisticGraph() *serialization.Graph {
	g := &serialization.Graph{Name: "reshape-logistic"}
	in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{1, 4}})
	x := g.AddTensor(serialization.TensorRecord{Name: "x", DType: tensor.Float32, Shape: []int32{4}})
	out := g.AddTensor(serialization.TensorRecord{Name: "output", DType: tensor.Float32, Shape: []int32{4}})
	g.AddOperator([]int{in}, []int{x}, &serialization.ReshapeOptions{NewShape: []int32{4}})
	g.AddOperator([]int{x}, []int{out}, &serialization.LogisticOptions{})
	g.InputList = []int{in}
	g.OutputList = []int{out}
	return g
}

func TestReshapeOfGraphInputNotInplace(t *testing.T) {
	rg, l := load(t, reshapeLogisticGraph())
	ks := rg.Kernels()
	require.Len(t, ks, 2)

	assert.Equal(t, serialization.OpcodeReshape, ks[0].Opcode())
	assert.False(t, ks[0].Inplace(), "reshape reads a graph input")
	assert.Equal(t, serialization.OpcodeLogistic, ks[1].Opcode())
	assert.True(t, ks[1].Inplace(), "logistic input has a single consumer")
	assert.Same(t, ks[0].Outputs()[0], ks[1].InplaceSource())

	assert.Len(t, rg.InputTensors(), 1)
	assert.Len(t, rg.OutputTensors(), 1)
	assert.Equal(t, 2, l.Stats().Kernels)
	assert.Equal(t, 1, l.Stats().InplaceKernels)
}

func TestReshapeLogisticExecutes(t *testing.T) {
	rg, _ := load(t, reshapeLogisticGraph())
	in := rg.InputTensors()[0]
	data := must.M1(in.MutableFloat32s())
	copy(data, []float32{0, 1, -1, 2})

	exec := runtime.NewExecutor(rg)
	defer exec.Close()
	require.NoError(t, exec.Run(context.Background()))

	x := rg.Kernels()[1].InplaceSource()
	out := rg.OutputTensors()[0]
	got := out.Float32s()
	for i, v := range []float32{0, 1, -1, 2} {
		assert.InDelta(t, 1/(1+math.Exp(-float64(v))), got[i], 1e-6)
	}
	assert.False(t, x.HasData(), "intermediate released after its last use")
	owned, ok := out.Owned()
	require.True(t, ok)
	assert.Equal(t, 1, owned.RefCount())
}

func TestSharedTensorNeverInplace(t *testing.T) {
	g := &serialization.Graph{}
	in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{4}})
	h := g.AddTensor(serialization.TensorRecord{Name: "h", DType: tensor.Float32, Shape: []int32{4}})
	a := g.AddTensor(serialization.TensorRecord{Name: "a", DType: tensor.Float32, Shape: []int32{4}})
	b := g.AddTensor(serialization.TensorRecord{Name: "b", DType: tensor.Float32, Shape: []int32{2, 2}})
	g.AddOperator([]int{in}, []int{h}, &serialization.ReluOptions{})
	g.AddOperator([]int{h}, []int{a}, &serialization.LogisticOptions{})
	g.AddOperator([]int{h}, []int{b}, &serialization.ReshapeOptions{NewShape: []int32{2, 2}})
	g.InputList = []int{in}
	g.OutputList = []int{a, b}

	rg, _ := load(t, g)
	for _, k := range rg.Kernels() {
		assert.False(t, k.Inplace(), "%s must not reuse a tensor with two consumers", k.Opcode())
	}
}

func TestScalarConstantMaterialized(t *testing.T) {
	g := &serialization.Graph{}
	buf := g.AddBuffer(float32Bytes(3))
	g.AddTensor(serialization.TensorRecord{Name: "scalar", DType: tensor.Float32, Buffer: buf})
	// An unknown-shape tensor without data is a placeholder and stays unmaterialized.
	g.AddTensor(serialization.TensorRecord{Name: "placeholder", DType: tensor.Float32})

	rg, l := load(t, g)
	require.Len(t, rg.Tensors(), 1)
	scalar := rg.Tensors()[0]
	assert.Equal(t, "scalar", scalar.Name())
	assert.Equal(t, 0, scalar.Shape().Rank())
	assert.Equal(t, 1, scalar.NumElements())
	assert.Equal(t, []float32{3}, scalar.Float32s())
	assert.Equal(t, 1, l.Stats().SkippedTensors)
}

func TestWrongBuilderStopsLoad(t *testing.T) {
	g := reshapeLogisticGraph()
	g.OpList[1].Options = &serialization.AddOptions{}

	mm := runtime.NewSimpleMemoryManager()
	rg := runtime.NewGraph(mm)
	err := NewGraphLoader(g, rg, mm).Load()
	require.ErrorIs(t, err, ErrWrongBuilder)
	assert.Contains(t, err.Error(), "operator #1 (LOGISTIC)")
	require.Len(t, rg.Kernels(), 1, "no kernel appended for the faulting operator")
	assert.Equal(t, serialization.OpcodeReshape, rg.Kernels()[0].Opcode())
}

func TestUnimplementedOperation(t *testing.T) {
	g := reshapeLogisticGraph()
	g.AddOperator([]int{2}, []int{1}, &serialization.Conv2DOptions{})

	mm := runtime.NewSimpleMemoryManager()
	rg := runtime.NewGraph(mm)
	err := NewGraphLoader(g, rg, mm).Load()
	require.ErrorIs(t, err, ErrUnimplementedOperation)
	assert.Len(t, rg.Kernels(), 2)

	// Strict mode rejects the graph before materializing anything.
	rg = runtime.NewGraph(mm)
	err = NewGraphLoader(g, rg, mm, LoadOptions{StrictMode: true}).Load()
	require.ErrorIs(t, err, ErrUnimplementedOperation)
	assert.Empty(t, rg.Tensors())
}

func TestCustomBuilder(t *testing.T) {
	g := reshapeLogisticGraph()
	g.AddOperator([]int{2}, []int{1}, &serialization.Conv2DOptions{})

	var calledWith int
	opts := DefaultLoadOptions()
	opts.CustomBuilders = map[serialization.Opcode]BuilderFunc{
		serialization.OpcodeConv2D: func(inputs, outputs []*tensor.Tensor, _ serialization.Operator, index int) (kernels.Kernel, error) {
			calledWith = index
			return kernels.NewRelu(inputs[0], outputs[0]), nil
		},
	}
	rg, _ := load(t, g, opts)
	assert.Len(t, rg.Kernels(), 3)
	assert.Equal(t, 2, calledWith)
}

func TestConstantAliasing(t *testing.T) {
	g := &serialization.Graph{}
	weights := float32Bytes(1, 2, 3, 4, 5, 6, 7, 8)
	buf := g.AddBuffer(weights)
	in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{1, 4}})
	w := g.AddTensor(serialization.TensorRecord{Name: "w", DType: tensor.Float32, Shape: []int32{2, 4}, Buffer: buf})
	out := g.AddTensor(serialization.TensorRecord{Name: "out", DType: tensor.Float32, Shape: []int32{1, 2}})
	g.AddOperator([]int{in, w, -1}, []int{out}, &serialization.FullyConnectedOptions{})
	g.InputList = []int{in}
	g.OutputList = []int{out}

	rg, l := load(t, g)
	k := rg.Kernels()[0]
	require.Len(t, k.Inputs(), 3)
	constant := k.Inputs()[1]
	assert.True(t, constant.IsBorrowed())
	assert.Equal(t, unsafe.SliceData(weights), unsafe.SliceData(constant.Bytes()))
	assert.Nil(t, k.Inputs()[2], "absent bias resolves to nil")
	assert.Equal(t, 32, l.Stats().BorrowedBytes)
	assert.Equal(t, 16, l.Stats().AllocatedBytes)

	_, err := constant.MutableBytes()
	assert.ErrorIs(t, err, tensor.ErrReadOnly)
}

func TestQuantizationPresence(t *testing.T) {
	g := &serialization.Graph{}
	q := g.AddTensor(serialization.TensorRecord{
		Name: "q", DType: tensor.Uint8, Shape: []int32{2, 2},
		Quantization: &serialization.QuantizationMeta{Scale: []float32{0.5, 0.25}, ZeroPoint: []int64{128, 0}, QuantizedDimension: 1},
	})
	f := g.AddTensor(serialization.TensorRecord{Name: "f", DType: tensor.Float32, Shape: []int32{2, 2}})
	g.AddOperator([]int{q}, []int{f}, &serialization.ReluOptions{})
	g.InputList = []int{q}
	g.OutputList = []int{f}

	rg, _ := load(t, g)
	for _, tt := range rg.Tensors() {
		qp := tt.Quantization()
		assert.Equal(t, tt.DType().IsAffineQuantized(), qp != nil, "tensor %s", tt)
		if qp != nil {
			assert.Len(t, qp.ZeroPoint, len(qp.Scale))
		}
	}
	require.Len(t, rg.AffineQuantizations(), 1)
	assert.Equal(t, 1, rg.AffineQuantizations()[0].QuantizedDimension)
}

func TestStructuralViolationsPanic(t *testing.T) {
	tests := map[string]func(g *serialization.Graph){
		"scale and zero point length mismatch": func(g *serialization.Graph) {
			g.TensorList[0].DType = tensor.Int8
			g.TensorList[0].Quantization = &serialization.QuantizationMeta{Scale: []float32{1, 2}, ZeroPoint: []int64{0}}
		},
		"missing quantization": func(g *serialization.Graph) {
			g.TensorList[0].DType = tensor.Int16
		},
		"arity mismatch": func(g *serialization.Graph) {
			g.OpList[1].Inputs = []int{1, 1}
		},
		"output index out of range": func(g *serialization.Graph) {
			g.OpList[1].Outputs = []int{42}
		},
		"negative dimension": func(g *serialization.Graph) {
			g.TensorList[0].Shape = []int32{1, -4}
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			g := reshapeLogisticGraph()
			mutate(g)
			mm := runtime.NewSimpleMemoryManager()
			err := exceptions.TryCatch[error](func() {
				_ = NewGraphLoader(g, runtime.NewGraph(mm), mm).Load()
			})
			assert.Error(t, err)
		})
	}
}

func TestInplaceSafety(t *testing.T) {
	// input -> relu -> h -> expand_dims(h, axis) -> e -> logistic -> out
	g := &serialization.Graph{}
	axisBuf := g.AddBuffer(int32Bytes(0))
	in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{4}})
	h := g.AddTensor(serialization.TensorRecord{Name: "h", DType: tensor.Float32, Shape: []int32{4}})
	axis := g.AddTensor(serialization.TensorRecord{Name: "axis", DType: tensor.Int32, Shape: []int32{1}, Buffer: axisBuf})
	e := g.AddTensor(serialization.TensorRecord{Name: "e", DType: tensor.Float32, Shape: []int32{1, 4}})
	out := g.AddTensor(serialization.TensorRecord{Name: "out", DType: tensor.Float32, Shape: []int32{1, 4}})
	g.AddOperator([]int{in}, []int{h}, &serialization.ReluOptions{})
	g.AddOperator([]int{h, axis}, []int{e}, &serialization.ExpandDimsOptions{})
	g.AddOperator([]int{e}, []int{out}, &serialization.LogisticOptions{})
	g.InputList = []int{in}
	g.OutputList = []int{out}

	rg, _ := load(t, g)
	uses := usageCount(g.Operators())
	names := map[string]int{"input": in, "h": h, "axis": axis, "e": e, "out": out}
	inplace := 0
	for _, k := range rg.Kernels() {
		src := k.InplaceSource()
		if src == nil {
			continue
		}
		inplace++
		assert.Equal(t, 1, uses[names[src.Name()]], "in-place source %s", src)
		assert.False(t, rg.IsInput(src))
	}
	assert.Equal(t, 2, inplace, "expand_dims and logistic reuse their data operand")

	exec := runtime.NewExecutor(rg)
	defer exec.Close()
	copy(must.M1(rg.InputTensors()[0].MutableFloat32s()), []float32{-1, 0, 1, 2})
	require.NoError(t, exec.Run(context.Background()))
	assert.Equal(t, tensor.Shape{1, 4}, rg.OutputTensors()[0].Shape())
	assert.InDelta(t, 0.5, rg.OutputTensors()[0].Float32s()[0], 1e-6)
}

func TestIndexMapCompleteness(t *testing.T) {
	g := reshapeLogisticGraph()
	mm := runtime.NewSimpleMemoryManager()
	l := NewGraphLoader(g, runtime.NewGraph(mm), mm)
	l.index = make(map[int]*tensor.Tensor)
	l.loadTensors()
	require.NoError(t, l.initInputTensors())
	require.NoError(t, l.loadOperators())

	for _, op := range g.Operators() {
		for _, i := range append(append([]int{}, op.Inputs...), op.Outputs...) {
			assert.Contains(t, l.index, i)
		}
	}
	for _, i := range append(append([]int{}, g.Inputs()...), g.Outputs()...) {
		assert.Contains(t, l.index, i)
	}
}

func TestShapeInvariant(t *testing.T) {
	rg, _ := load(t, reshapeLogisticGraph())
	for _, tt := range rg.Tensors() {
		n := 1
		for _, d := range tt.Shape() {
			n *= d
		}
		assert.Equal(t, n, tt.NumElements())
		if owned, ok := tt.Owned(); ok {
			assert.GreaterOrEqual(t, owned.Len(), tt.NumElements()*tt.DType().Size())
			assert.Len(t, tt.Bytes(), tt.ByteSize())
		}
	}
}

func TestLoadFromMappedFile(t *testing.T) {
	g := &serialization.Graph{Name: "mapped"}
	buf := g.AddBuffer(float32Bytes(1, 2, 3, 4))
	in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{4}})
	c := g.AddTensor(serialization.TensorRecord{Name: "c", DType: tensor.Float32, Shape: []int32{4}, Buffer: buf})
	out := g.AddTensor(serialization.TensorRecord{Name: "out", DType: tensor.Float32, Shape: []int32{4}})
	g.AddOperator([]int{in, c}, []int{out}, &serialization.AddOptions{})
	g.InputList = []int{in}
	g.OutputList = []int{out}

	path := filepath.Join(t.TempDir(), "mapped.mcro")
	require.NoError(t, serialization.WriteFile(path, g))
	reader := must.M1(serialization.NewMmapReader(path))
	defer func() { _ = reader.Close() }()

	rg, _ := load(t, reader)
	constant := rg.Kernels()[0].Inputs()[1]
	assert.Equal(t, unsafe.SliceData(reader.Buffer(buf)), unsafe.SliceData(constant.Bytes()))

	exec := runtime.NewExecutor(rg)
	defer exec.Close()
	copy(must.M1(rg.InputTensors()[0].MutableFloat32s()), []float32{10, 20, 30, 40})
	require.NoError(t, exec.Run(context.Background()))
	assert.Equal(t, []float32{11, 22, 33, 44}, rg.OutputTensors()[0].Float32s())
}

func TestKernelBuilderTable(t *testing.T) {
	b := NewKernelBuilder()
	assert.Equal(t, []serialization.Opcode{
		serialization.OpcodeAdd,
		serialization.OpcodeMul,
		serialization.OpcodeLogistic,
		serialization.OpcodeRelu,
		serialization.OpcodeReshape,
		serialization.OpcodeExpandDims,
		serialization.OpcodeInstanceNorm,
		serialization.OpcodeFullyConnected,
		serialization.OpcodeSoftmax,
	}, b.SupportedOpcodes())
	assert.False(t, b.Supports(serialization.OpcodeConcatenation))
	assert.False(t, b.Supports(serialization.OpcodeInvalid))
	assert.Panics(t, func() { b.Register(serialization.OpcodeLast, nil) })
}

func TestInstanceNormBuilder(t *testing.T) {
	in := tensor.Zeros(tensor.Float32, tensor.MakeShape(1, 2, 2, 3), nil)
	gamma := tensor.Zeros(tensor.Float32, tensor.MakeShape(3), nil)
	beta := tensor.Zeros(tensor.Float32, tensor.MakeShape(3), nil)
	out := tensor.New(tensor.Float32, tensor.MakeShape(1, 2, 2, 3), nil)
	op := serialization.Operator{
		Opcode:  serialization.OpcodeInstanceNorm,
		Inputs:  []int{0, 1, 2},
		Outputs: []int{3},
		Options: &serialization.InstanceNormOptions{Epsilon: 1e-3, FusedActivation: serialization.ActivationRelu6},
	}

	k, err := NewKernelBuilder().Build([]*tensor.Tensor{in, gamma, beta}, []*tensor.Tensor{out}, op, 7)
	require.NoError(t, err)
	norm, ok := k.(*kernels.InstanceNorm)
	require.True(t, ok)
	assert.Equal(t, kernels.InstanceNormParams{Epsilon: 1e-3, Activation: serialization.ActivationRelu6}, norm.Params())

	assert.Panics(t, func() {
		_, _ = NewKernelBuilder().Build([]*tensor.Tensor{in, gamma}, []*tensor.Tensor{out}, op, 7)
	})
}

func TestOnlyDataOperandLendsStorage(t *testing.T) {
	t.Run("graph input with single-use shape constant", func(t *testing.T) {
		g := &serialization.Graph{}
		shapeBuf := g.AddBuffer(int32Bytes(2, 2))
		in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{4}})
		shape := g.AddTensor(serialization.TensorRecord{Name: "shape", DType: tensor.Int32, Shape: []int32{2}, Buffer: shapeBuf})
		out := g.AddTensor(serialization.TensorRecord{Name: "out", DType: tensor.Float32, Shape: []int32{2, 2}})
		g.AddOperator([]int{in, shape}, []int{out}, &serialization.ReshapeOptions{})
		g.InputList = []int{in}
		g.OutputList = []int{out}

		rg, l := load(t, g)
		require.Len(t, rg.Kernels(), 1)
		assert.False(t, rg.Kernels()[0].Inplace())
		assert.Nil(t, rg.Kernels()[0].InplaceSource())
		assert.Equal(t, 0, l.Stats().InplaceKernels)
	})

	t.Run("shared data operand with single-use shape constant", func(t *testing.T) {
		g := &serialization.Graph{}
		shapeBuf := g.AddBuffer(int32Bytes(2, 2))
		in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{4}})
		h := g.AddTensor(serialization.TensorRecord{Name: "h", DType: tensor.Float32, Shape: []int32{4}})
		shape := g.AddTensor(serialization.TensorRecord{Name: "shape", DType: tensor.Int32, Shape: []int32{2}, Buffer: shapeBuf})
		r := g.AddTensor(serialization.TensorRecord{Name: "r", DType: tensor.Float32, Shape: []int32{2, 2}})
		s := g.AddTensor(serialization.TensorRecord{Name: "s", DType: tensor.Float32, Shape: []int32{4}})
		g.AddOperator([]int{in}, []int{h}, &serialization.ReluOptions{})
		g.AddOperator([]int{h, shape}, []int{r}, &serialization.ReshapeOptions{})
		g.AddOperator([]int{h}, []int{s}, &serialization.LogisticOptions{})
		g.InputList = []int{in}
		g.OutputList = []int{r, s}

		rg, _ := load(t, g)
		for _, k := range rg.Kernels() {
			assert.Nil(t, k.InplaceSource(), "%s", k.Opcode())
		}
	})
}

func TestInstanceNormWithAbsentGamma(t *testing.T) {
	g := &serialization.Graph{}
	betaBuf := g.AddBuffer(float32Bytes(1, -1))
	in := g.AddTensor(serialization.TensorRecord{Name: "input", DType: tensor.Float32, Shape: []int32{1, 2, 2}})
	gamma := g.AddTensor(serialization.TensorRecord{Name: "gamma", DType: tensor.Float32, Shape: []int32{2}, IsVariable: true})
	beta := g.AddTensor(serialization.TensorRecord{Name: "beta", DType: tensor.Float32, Shape: []int32{2}, Buffer: betaBuf})
	out := g.AddTensor(serialization.TensorRecord{Name: "out", DType: tensor.Float32, Shape: []int32{1, 2, 2}})
	g.AddOperator([]int{in, gamma, beta}, []int{out}, &serialization.InstanceNormOptions{})
	g.InputList = []int{in}
	g.OutputList = []int{out}

	rg, _ := load(t, g)
	require.Len(t, rg.Kernels(), 1)
	assert.Nil(t, rg.Kernels()[0].Inputs()[1], "skipped variable tensor is an absent operand")

	exec := runtime.NewExecutor(rg)
	defer exec.Close()
	// Channel 0 holds {0, 2} and channel 1 holds {0, 2}: both normalize to {-1, 1}.
	copy(must.M1(rg.InputTensors()[0].MutableFloat32s()), []float32{0, 0, 2, 2})
	require.NoError(t, exec.Run(context.Background()))
	assert.InDeltaSlice(t, []float32{0, -2, 2, 0}, rg.OutputTensors()[0].Float32s(), 1e-6)
}
