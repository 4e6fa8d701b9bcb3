package loader

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/born-ml/micro/internal/runtime"
	"github.com/born-ml/micro/internal/serialization"
	"github.com/born-ml/micro/internal/tensor"
)

// Model is a loaded network ready to run: the runtime graph, its memory manager and executor,
// and the serialized source whose buffers the constant tensors borrow.
//
// Model methods are safe for concurrent use; runs are serialized.
type Model struct {
	mu sync.Mutex

	name     string
	metadata map[string]string
	source   io.Closer
	graph    *runtime.Graph
	memory   *runtime.SimpleMemoryManager
	exec     *runtime.Executor
	stats    LoadStats
	closed   bool
}

// OpenModel maps the model file at path and loads it.
//
// Structural defects of the file panic, as Load does; the mapping is released in that case.
func OpenModel(path string, opts ...LoadOptions) (*Model, error) {
	reader, err := serialization.NewMmapReader(path)
	if err != nil {
		return nil, err
	}
	loaded := false
	defer func() {
		if !loaded {
			_ = reader.Close()
		}
	}()

	g := reader.Graph()
	m, err := newModel(reader, g.Name, g.Metadata, reader, runtime.NewSimpleMemoryManager(), opts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", path)
	}
	loaded = true
	return m, nil
}

// LoadGraph loads an in-memory serialized graph. g must outlive the model.
func LoadGraph(g *serialization.Graph, opts ...LoadOptions) (*Model, error) {
	return newModel(g, g.Name, g.Metadata, nil, runtime.NewSimpleMemoryManager(), opts...)
}

func newModel(reader serialization.GraphReader, name string, metadata map[string]string, source io.Closer,
	mm *runtime.SimpleMemoryManager, opts ...LoadOptions) (*Model, error) {
	graph := runtime.NewGraph(mm)
	l := NewGraphLoader(reader, graph, mm, opts...)
	loaded := false
	defer func() {
		// Also runs when Load panics, so allocated inputs go back to the pool.
		if !loaded {
			graph.Release()
		}
	}()
	if err := l.Load(); err != nil {
		return nil, err
	}
	loaded = true
	return &Model{
		name:     name,
		metadata: metadata,
		source:   source,
		graph:    graph,
		memory:   mm,
		exec:     runtime.NewExecutor(graph),
		stats:    l.Stats(),
	}, nil
}

// Name returns the model name stored in the file.
func (m *Model) Name() string { return m.name }

// Metadata returns the model metadata key-value pairs.
func (m *Model) Metadata() map[string]string { return m.metadata }

// Stats returns what loading materialized.
func (m *Model) Stats() LoadStats { return m.stats }

// MemoryStats returns the allocation counters of the model's memory manager.
func (m *Model) MemoryStats() runtime.MemoryStats { return m.memory.Stats() }

// Graph returns the runtime graph.
func (m *Model) Graph() *runtime.Graph { return m.graph }

// InputNames returns the names of the graph inputs.
func (m *Model) InputNames() []string { return tensorNames(m.graph.InputTensors()) }

// OutputNames returns the names of the graph outputs.
func (m *Model) OutputNames() []string { return tensorNames(m.graph.OutputTensors()) }

func tensorNames(ts []*tensor.Tensor) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name()
	}
	return names
}

func (m *Model) input(index int) (*tensor.Tensor, error) {
	inputs := m.graph.InputTensors()
	if index < 0 || index >= len(inputs) {
		return nil, errors.Errorf("input index %d out of range [0, %d)", index, len(inputs))
	}
	return inputs[index], nil
}

// SetInput copies data into the graph input at index. Float32 and Float16 inputs are supported.
func (m *Model) SetInput(index int, data []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("model is closed")
	}

	t, err := m.input(index)
	if err != nil {
		return err
	}
	if len(data) != t.NumElements() {
		return errors.Errorf("input %s requires %d values, got %d", t, t.NumElements(), len(data))
	}
	switch t.DType() {
	case tensor.Float32:
		dst, err := t.MutableFloat32s()
		if err != nil {
			return err
		}
		copy(dst, data)
	case tensor.Float16:
		dst, err := t.MutableFloat16s()
		if err != nil {
			return err
		}
		for i, v := range data {
			dst[i] = float16.Fromfloat32(v)
		}
	default:
		return errors.Errorf("input %s: use SetInputBytes for %s data", t, t.DType())
	}
	return nil
}

// SetInputBytes copies raw little-endian element data into the graph input at index.
func (m *Model) SetInputBytes(index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("model is closed")
	}

	t, err := m.input(index)
	if err != nil {
		return err
	}
	if len(data) != t.ByteSize() {
		return errors.Errorf("input %s requires %d bytes, got %d", t, t.ByteSize(), len(data))
	}
	dst, err := t.MutableBytes()
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// Run executes the graph on the current inputs.
func (m *Model) Run(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("model is closed")
	}
	return m.exec.Run(ctx)
}

// Output returns a float32 copy of the graph output at index, after Run.
func (m *Model) Output(index int) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outputs := m.graph.OutputTensors()
	if index < 0 || index >= len(outputs) {
		return nil, errors.Errorf("output index %d out of range [0, %d)", index, len(outputs))
	}
	t := outputs[index]
	if !t.HasData() {
		return nil, errors.Errorf("output %s has not been computed", t)
	}
	return t.ToFloat32()
}

// Forward sets the named inputs, runs the graph and returns all outputs by name.
func (m *Model) Forward(ctx context.Context, inputs map[string][]float32) (map[string][]float32, error) {
	for i, name := range m.InputNames() {
		data, found := inputs[name]
		if !found {
			return nil, errors.Errorf("missing input %q", name)
		}
		if err := m.SetInput(i, data); err != nil {
			return nil, err
		}
	}
	if err := m.Run(ctx); err != nil {
		return nil, err
	}
	outputs := make(map[string][]float32)
	for i, name := range m.OutputNames() {
		data, err := m.Output(i)
		if err != nil {
			return nil, err
		}
		outputs[name] = data
	}
	return outputs, nil
}

// Close releases all storage and the mapped model file. It is safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.exec.Close()
	m.graph.Release()
	if m.source != nil {
		return m.source.Close()
	}
	return nil
}
