package loader

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/micro/internal/runtime"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// inplaceOpcodes are the operations whose output may alias their input's storage. Adding an
// opcode here is only correct if its kernel reads every input element before, or exactly
// when, it writes the corresponding output element.
var inplaceOpcodes = [serialization.OpcodeLast]bool{
	serialization.OpcodeLogistic:   true,
	serialization.OpcodeReshape:    true,
	serialization.OpcodeExpandDims: true,
}

// LoadStats summarizes what a Load materialized.
type LoadStats struct {
	ConstantTensors int
	InputTensors    int
	OutputTensors   int
	Kernels         int
	InplaceKernels  int
	SkippedTensors  int
	BorrowedBytes   int // Constant data aliased from the serialized buffers.
	AllocatedBytes  int // Input storage obtained from the memory manager.
}

// GraphLoader populates a runtime.Graph from a serialized graph.
// A GraphLoader is meant for a single Load.
type GraphLoader struct {
	reader  serialization.GraphReader
	graph   *runtime.Graph
	mm      runtime.MemoryManager
	builder *KernelBuilder
	options LoadOptions

	// index maps serialized tensor indices to materialized tensors during Load.
	index map[int]*tensor.Tensor
	stats LoadStats
}

// NewGraphLoader creates a loader reading from reader into graph. Graph inputs are allocated
// with mm.
func NewGraphLoader(reader serialization.GraphReader, graph *runtime.Graph, mm runtime.MemoryManager,
	opts ...LoadOptions) *GraphLoader {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	builder := NewKernelBuilder()
	for opcode, fn := range opt.CustomBuilders {
		builder.Register(opcode, fn)
	}

	return &GraphLoader{
		reader:  reader,
		graph:   graph,
		mm:      mm,
		builder: builder,
		options: opt,
	}
}

// Stats returns the summary of the last Load.
func (l *GraphLoader) Stats() LoadStats { return l.stats }

// Load materializes constants and inputs, and builds one kernel per operator.
//
// An unsupported operator or an operator whose options do not match its opcode aborts the
// load with an error; the graph then holds whatever was added before the failing operator.
func (l *GraphLoader) Load() error {
	if l.options.StrictMode {
		if err := l.checkSupported(); err != nil {
			return err
		}
	}

	l.index = make(map[int]*tensor.Tensor)
	defer func() { l.index = nil }()
	l.stats = LoadStats{}

	l.loadTensors()
	if err := l.initInputTensors(); err != nil {
		return err
	}
	if err := l.loadOperators(); err != nil {
		return err
	}

	klog.V(1).InfoS("graph loaded",
		"constants", l.stats.ConstantTensors,
		"inputs", l.stats.InputTensors,
		"outputs", l.stats.OutputTensors,
		"kernels", l.stats.Kernels,
		"inplace", l.stats.InplaceKernels,
		"borrowed", humanize.Bytes(uint64(l.stats.BorrowedBytes)),
		"allocated", humanize.Bytes(uint64(l.stats.AllocatedBytes)))
	return nil
}

func (l *GraphLoader) checkSupported() error {
	for i, op := range l.reader.Operators() {
		if !l.builder.Supports(op.Opcode) {
			return errors.Wrapf(ErrUnimplementedOperation, "operator #%d (%s)", i, op.Opcode)
		}
	}
	return nil
}

// record returns the serialized tensor at index.
func (l *GraphLoader) record(index int) serialization.TensorRecord {
	records := l.reader.Tensors()
	if index < 0 || index >= len(records) {
		exceptions.Panicf("tensor index %d out of range [0, %d)", index, len(records))
	}
	return records[index]
}

// newTensor creates a tensor without storage from its serialized record. Affine-quantized
// types get their own quantization record, owned by the graph.
func (l *GraphLoader) newTensor(rec serialization.TensorRecord) *tensor.Tensor {
	var quantization *tensor.AffineQuantization
	if rec.DType.IsAffineQuantized() {
		meta := rec.Quantization
		if meta == nil {
			exceptions.Panicf("tensor %q of type %s has no quantization parameters", rec.Name, rec.DType)
		}
		quantization = l.graph.AddAffineQuantization(
			tensor.NewAffineQuantization(meta.Scale, meta.ZeroPoint, meta.QuantizedDimension))
	}
	return tensor.New(rec.DType, tensor.ShapeFromInt32(rec.Shape), quantization).SetName(rec.Name)
}

// loadTensors materializes the tensors that carry constant data.
func (l *GraphLoader) loadTensors() {
	for i, rec := range l.reader.Tensors() {
		if rec.IsVariable {
			l.skip(i, rec, "variable tensor")
			continue
		}

		data := l.reader.Buffer(rec.Buffer)
		if len(rec.Shape) == 0 && len(data) == 0 {
			l.skip(i, rec, "unknown shape or scalar without data")
			continue
		}
		size := 1
		for _, dim := range rec.Shape {
			size *= int(dim)
		}
		if len(data) == 0 && size > 0 {
			l.skip(i, rec, "no constant data")
			continue
		}

		t := l.newTensor(rec)
		t.WriteDataWithoutCopy(data)
		l.index[i] = l.graph.AddTensor(t)
		l.stats.ConstantTensors++
		l.stats.BorrowedBytes += len(data)
	}
}

func (l *GraphLoader) skip(index int, rec serialization.TensorRecord, reason string) {
	l.stats.SkippedTensors++
	klog.V(3).InfoS("skipping tensor", "index", index, "name", rec.Name, "reason", reason)
}

// initInputTensors creates and allocates the graph inputs.
func (l *GraphLoader) initInputTensors() error {
	for _, i := range l.reader.Inputs() {
		t := l.newTensor(l.record(i))
		if err := l.mm.Allocate(t); err != nil {
			return errors.WithMessagef(err, "allocating graph input %d", i)
		}
		l.graph.AddInputTensor(t)
		l.index[i] = l.graph.AddTensor(t)
		l.stats.InputTensors++
		l.stats.AllocatedBytes += t.ByteSize()
	}
	return nil
}

// usageCount returns how many operator input slots, over the whole graph, refer to each
// tensor index.
func usageCount(ops []serialization.Operator) map[int]int {
	counts := make(map[int]int)
	for _, op := range ops {
		for _, i := range op.Inputs {
			counts[i]++
		}
	}
	return counts
}

// loadOperators builds the kernels in serialized order.
func (l *GraphLoader) loadOperators() error {
	ops := l.reader.Operators()
	uses := usageCount(ops)
	outputs := make(map[int]bool, len(l.reader.Outputs()))
	for _, i := range l.reader.Outputs() {
		outputs[i] = true
	}

	for opIndex, op := range ops {
		inputTensors := make([]*tensor.Tensor, len(op.Inputs))
		var inplaceSource *tensor.Tensor
		for j, i := range op.Inputs {
			t, found := l.index[i]
			if !found {
				continue
			}
			inputTensors[j] = t
			// Only the data operand can lend its storage; the others are shape or axis operands.
			if j == 0 && l.canReuse(op, i, t, uses) {
				inplaceSource = t
			}
		}

		outputTensors := make([]*tensor.Tensor, len(op.Outputs))
		for j, i := range op.Outputs {
			if t, found := l.index[i]; found {
				outputTensors[j] = t
				continue
			}
			t := l.newTensor(l.record(i))
			l.index[i] = l.graph.AddTensor(t)
			outputTensors[j] = t
			if outputs[i] {
				l.graph.AddOutputTensor(t)
				l.stats.OutputTensors++
			}
		}

		k, err := l.builder.Build(inputTensors, outputTensors, op, opIndex)
		if err != nil {
			return err
		}
		k.SetInplaceSource(inplaceSource)
		if k.Inplace() {
			l.stats.InplaceKernels++
			klog.V(2).InfoS("in-place kernel", "operator", opIndex, "opcode", op.Opcode, "source", inplaceSource)
		}
		l.graph.AddKernel(k)
		l.stats.Kernels++
	}
	return nil
}

// canReuse decides whether op may write its single output into the storage of input t, the
// tensor at serialized index i.
func (l *GraphLoader) canReuse(op serialization.Operator, i int, t *tensor.Tensor, uses map[int]int) bool {
	if op.Opcode <= serialization.OpcodeInvalid || op.Opcode >= serialization.OpcodeLast || !inplaceOpcodes[op.Opcode] {
		return false
	}
	if len(op.Outputs) != 1 {
		return false
	}
	if uses[i] > 1 {
		return false
	}
	return !l.graph.IsInput(t)
}
