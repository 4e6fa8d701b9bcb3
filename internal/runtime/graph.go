// Package runtime holds the executable form of a loaded graph: the tensors, the kernels in
// execution order, the memory manager that backs non-constant tensors, and the executor that
// runs them.
package runtime

import (
	"github.com/born-ml/micro/internal/kernels"
	"github.com/born-ml/micro/internal/tensor"
)

// Graph owns the tensors, quantization records and kernels of a loaded network.
// It only grows; nothing is ever removed.
type Graph struct {
	memoryManager MemoryManager

	tensors       []*tensor.Tensor
	quantizations []*tensor.AffineQuantization
	kernels       []kernels.Kernel
	inputs        []*tensor.Tensor
	outputs       []*tensor.Tensor
}

// NewGraph creates an empty graph whose non-constant tensors are backed by mm.
func NewGraph(mm MemoryManager) *Graph {
	return &Graph{memoryManager: mm}
}

// MemoryManager returns the memory manager the graph was created with.
func (g *Graph) MemoryManager() MemoryManager { return g.memoryManager }

// AddTensor takes ownership of t.
func (g *Graph) AddTensor(t *tensor.Tensor) *tensor.Tensor {
	g.tensors = append(g.tensors, t)
	return t
}

// AddAffineQuantization stores a quantization record, so tensors can reference it.
func (g *Graph) AddAffineQuantization(q *tensor.AffineQuantization) *tensor.AffineQuantization {
	g.quantizations = append(g.quantizations, q)
	return q
}

// AddInputTensor marks t, already added with AddTensor, as a graph input.
func (g *Graph) AddInputTensor(t *tensor.Tensor) {
	g.inputs = append(g.inputs, t)
}

// AddOutputTensor marks t, already added with AddTensor, as a graph output.
func (g *Graph) AddOutputTensor(t *tensor.Tensor) {
	g.outputs = append(g.outputs, t)
}

// AddKernel appends k to the execution order.
func (g *Graph) AddKernel(k kernels.Kernel) {
	g.kernels = append(g.kernels, k)
}

// Tensors returns all tensors owned by the graph, in registration order.
func (g *Graph) Tensors() []*tensor.Tensor { return g.tensors }

// AffineQuantizations returns the stored quantization records.
func (g *Graph) AffineQuantizations() []*tensor.AffineQuantization { return g.quantizations }

// Kernels returns the kernels in execution order.
func (g *Graph) Kernels() []kernels.Kernel { return g.kernels }

// InputTensors returns the graph inputs in declaration order.
func (g *Graph) InputTensors() []*tensor.Tensor { return g.inputs }

// OutputTensors returns the graph outputs in declaration order.
func (g *Graph) OutputTensors() []*tensor.Tensor { return g.outputs }

// IsInput reports whether t is one of the graph inputs.
func (g *Graph) IsInput(t *tensor.Tensor) bool {
	for _, in := range g.inputs {
		if in == t {
			return true
		}
	}
	return false
}

// IsOutput reports whether t is one of the graph outputs.
func (g *Graph) IsOutput(t *tensor.Tensor) bool {
	for _, out := range g.outputs {
		if out == t {
			return true
		}
	}
	return false
}

// Release returns the storage of every owned tensor to the memory manager. Constant tensors
// borrowing external memory are not affected.
func (g *Graph) Release() {
	if g.memoryManager == nil {
		return
	}
	for _, t := range g.tensors {
		g.memoryManager.Release(t)
	}
}
