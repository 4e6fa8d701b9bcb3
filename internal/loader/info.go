package loader

import (
	"github.com/born-ml/micro/internal/serialization"
)

// ModelInfo describes a serialized model without loading it.
type ModelInfo struct {
	Name          string
	InputNames    []string
	OutputNames   []string
	Operators     []string // Opcode of each operator, in execution order.
	Unsupported   []string // Opcodes without a kernel builder.
	TensorCount   int
	ConstantBytes int
	Metadata      map[string]string
}

// GetModelInfo reads the header and constant buffers of the model at path.
func GetModelInfo(path string) (*ModelInfo, error) {
	reader, err := serialization.NewMmapReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	return Describe(reader.Graph()), nil
}

// Describe summarizes a serialized graph.
func Describe(g *serialization.Graph) *ModelInfo {
	info := &ModelInfo{
		Name:        g.Name,
		TensorCount: len(g.Tensors()),
		Metadata:    g.Metadata,
	}
	records := g.Tensors()
	for _, i := range g.Inputs() {
		info.InputNames = append(info.InputNames, records[i].Name)
	}
	for _, i := range g.Outputs() {
		info.OutputNames = append(info.OutputNames, records[i].Name)
	}

	builder := NewKernelBuilder()
	seen := make(map[serialization.Opcode]bool)
	for _, op := range g.Operators() {
		info.Operators = append(info.Operators, op.Opcode.String())
		if !builder.Supports(op.Opcode) && !seen[op.Opcode] {
			info.Unsupported = append(info.Unsupported, op.Opcode.String())
		}
		seen[op.Opcode] = true
	}
	for _, rec := range records {
		if !rec.IsVariable {
			info.ConstantBytes += len(g.Buffer(rec.Buffer))
		}
	}
	return info
}

// ListSupportedOps returns the names of the opcodes that have a kernel builder.
func ListSupportedOps() []string {
	var names []string
	for _, op := range NewKernelBuilder().SupportedOpcodes() {
		names = append(names, op.String())
	}
	return names
}
