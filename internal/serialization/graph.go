package serialization

import (
	"github.com/pkg/errors"

	"github.com/born-ml/micro/internal/tensor"
)

// TensorRecord is a declared tensor as seen by the loader.
type TensorRecord struct {
	Name         string
	DType        tensor.DataType
	Shape        []int32
	Buffer       int
	IsVariable   bool
	Quantization *QuantizationMeta
}

// Operator is one operator of the graph, with its options already resolved to the variant
// for its opcode.
type Operator struct {
	Opcode  Opcode
	Inputs  []int
	Outputs []int
	Options Options
}

// GraphReader is the read-only view of a serialized graph consumed by the loader.
type GraphReader interface {
	// Tensors returns the declared tensors, indexed by tensor index.
	Tensors() []TensorRecord

	// Operators returns the operators in execution order.
	Operators() []Operator

	// Buffer returns the data of the given buffer without copying it.
	// The empty buffer and out-of-range indices yield nil.
	Buffer(index int) []byte

	// Inputs returns the tensor indices of the graph inputs.
	Inputs() []int

	// Outputs returns the tensor indices of the graph outputs.
	Outputs() []int
}

// Graph is an in-memory serialized graph. It implements GraphReader, and is what Writer
// serializes and Parse produces.
type Graph struct {
	Name       string
	TensorList []TensorRecord
	OpList     []Operator
	BufferList [][]byte
	InputList  []int
	OutputList []int
	Metadata   map[string]string
}

var _ GraphReader = (*Graph)(nil)

// Tensors implements GraphReader.
func (g *Graph) Tensors() []TensorRecord { return g.TensorList }

// Operators implements GraphReader.
func (g *Graph) Operators() []Operator { return g.OpList }

// Inputs implements GraphReader.
func (g *Graph) Inputs() []int { return g.InputList }

// Outputs implements GraphReader.
func (g *Graph) Outputs() []int { return g.OutputList }

// Buffer implements GraphReader.
func (g *Graph) Buffer(index int) []byte {
	if index < 0 || index >= len(g.BufferList) {
		return nil
	}
	return g.BufferList[index]
}

// AddBuffer appends a constant buffer and returns its index. The first call on an empty graph
// also reserves buffer 0 as the empty buffer.
func (g *Graph) AddBuffer(data []byte) int {
	if len(g.BufferList) == 0 {
		g.BufferList = append(g.BufferList, nil)
	}
	g.BufferList = append(g.BufferList, data)
	return len(g.BufferList) - 1
}

// AddTensor appends a declared tensor and returns its index.
func (g *Graph) AddTensor(record TensorRecord) int {
	g.TensorList = append(g.TensorList, record)
	return len(g.TensorList) - 1
}

// AddOperator appends an operator. The opcode is taken from the options variant.
func (g *Graph) AddOperator(inputs, outputs []int, options Options) {
	g.OpList = append(g.OpList, Operator{
		Opcode:  options.Opcode(),
		Inputs:  inputs,
		Outputs: outputs,
		Options: options,
	})
}

// header converts the graph to its JSON header, laying out buffers back to back with
// HeaderAlignment padding. It returns the header and the data section size.
func (g *Graph) header() (Header, int64, error) {
	h := Header{
		FormatVersion: FormatVersionV2,
		Name:          g.Name,
		Inputs:        g.InputList,
		Outputs:       g.OutputList,
		Metadata:      g.Metadata,
	}

	var offset int64
	for _, data := range g.BufferList {
		size := int64(len(data))
		h.Buffers = append(h.Buffers, BufferMeta{Offset: offset, Size: size})
		offset = alignUp(offset + size)
	}

	for _, t := range g.TensorList {
		h.Tensors = append(h.Tensors, TensorMeta{
			Name:         t.Name,
			DType:        t.DType.String(),
			Shape:        t.Shape,
			Buffer:       t.Buffer,
			IsVariable:   t.IsVariable,
			Quantization: t.Quantization,
		})
	}

	for i, op := range g.OpList {
		raw, err := EncodeOptions(op.Options)
		if err != nil {
			return Header{}, 0, errors.WithMessagef(err, "operator #%d", i)
		}
		h.Operators = append(h.Operators, OperatorMeta{
			Opcode:  op.Opcode,
			Inputs:  op.Inputs,
			Outputs: op.Outputs,
			Options: raw,
		})
	}
	return h, offset, nil
}

// graphFromHeader resolves a validated header into a Graph whose buffers alias data.
func graphFromHeader(h *Header, data []byte) (*Graph, error) {
	g := &Graph{
		Name:       h.Name,
		InputList:  h.Inputs,
		OutputList: h.Outputs,
		Metadata:   h.Metadata,
	}

	g.BufferList = make([][]byte, len(h.Buffers))
	for i, b := range h.Buffers {
		if b.Size == 0 {
			continue
		}
		if b.Offset < 0 || b.Size < 0 || b.Offset+b.Size > int64(len(data)) {
			return nil, errors.Wrapf(ErrOutOfBounds, "buffer #%d: offset %d + size %d > data_size %d",
				i, b.Offset, b.Size, len(data))
		}
		//nolint:gosec // G115: offsets validated against the data section size
		g.BufferList[i] = data[b.Offset : b.Offset+b.Size : b.Offset+b.Size]
	}

	g.TensorList = make([]TensorRecord, len(h.Tensors))
	for i, t := range h.Tensors {
		dtype, ok := tensor.ParseDataType(t.DType)
		if !ok {
			return nil, &ValidationError{
				Type:    "unknown_dtype",
				Subject: tensorSubject(i, t.Name),
				Details: t.DType,
			}
		}
		g.TensorList[i] = TensorRecord{
			Name:         t.Name,
			DType:        dtype,
			Shape:        t.Shape,
			Buffer:       t.Buffer,
			IsVariable:   t.IsVariable,
			Quantization: t.Quantization,
		}
	}

	g.OpList = make([]Operator, len(h.Operators))
	for i, op := range h.Operators {
		opts, err := DecodeOptions(op.Opcode, op.Options)
		if err != nil {
			return nil, errors.WithMessagef(err, "operator #%d", i)
		}
		g.OpList[i] = Operator{
			Opcode:  op.Opcode,
			Inputs:  op.Inputs,
			Outputs: op.Outputs,
			Options: opts,
		}
	}
	return g, nil
}
