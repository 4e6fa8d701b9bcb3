package runtime

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/micro/internal/kernels"
	"github.com/born-ml/micro/internal/parallel"
	"github.com/born-ml/micro/internal/tensor"
)

// Executor runs the kernels of a Graph in order.
//
// Storage for intermediate tensors is allocated right before the kernel producing them runs,
// and released after their last consumer. An in-place kernel's output shares the storage of
// its source input instead, unless that input is itself a graph output. Graph outputs keep
// their storage until Close.
//
// An Executor is not safe for concurrent use.
type Executor struct {
	graph   *Graph
	lastUse map[*tensor.Tensor]int
	owned   map[*tensor.Tensor]bool
}

// NewExecutor prepares g for execution. The graph's inputs must already have storage.
func NewExecutor(g *Graph) *Executor {
	e := &Executor{
		graph:   g,
		lastUse: make(map[*tensor.Tensor]int),
		owned:   make(map[*tensor.Tensor]bool),
	}
	for i, k := range g.Kernels() {
		for _, t := range k.Inputs() {
			if t != nil {
				e.lastUse[t] = i
			}
		}
		for _, t := range k.Outputs() {
			if _, found := e.lastUse[t]; !found {
				e.lastUse[t] = i
			}
		}
	}
	return e
}

// SetParallel configures the loop parallelism of every kernel that supports it.
func (e *Executor) SetParallel(cfg parallel.Config) {
	for _, k := range e.graph.Kernels() {
		if p, ok := k.(kernels.Parallelizable); ok {
			p.SetParallel(cfg)
		}
	}
}

// Run executes all kernels. It checks ctx between kernels.
func (e *Executor) Run(ctx context.Context) error {
	for i, k := range e.graph.Kernels() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := k.Configure(); err != nil {
			return errors.WithMessagef(err, "configuring kernel #%d (%s)", i, k.Opcode())
		}
		if err := e.prepareOutputs(k); err != nil {
			return errors.WithMessagef(err, "allocating outputs of kernel #%d (%s)", i, k.Opcode())
		}
		if err := k.Execute(); err != nil {
			return errors.WithMessagef(err, "executing kernel #%d (%s)", i, k.Opcode())
		}
		klog.V(4).InfoS("executed kernel", "index", i, "opcode", k.Opcode(), "inplace", k.Inplace())
		e.releaseDead(i)
	}
	return nil
}

func (e *Executor) prepareOutputs(k kernels.Kernel) error {
	mm := e.graph.MemoryManager()
	for _, out := range k.Outputs() {
		if out == nil || out.HasData() {
			continue
		}
		// A graph output keeps its own value, so it never lends its storage.
		if src := k.InplaceSource(); src != nil && !e.graph.IsOutput(src) {
			if _, ok := src.Owned(); ok && src.ByteSize() == out.ByteSize() {
				out.ShareBuffer(src)
				e.owned[out] = true
				continue
			}
		}
		if err := mm.Allocate(out); err != nil {
			return err
		}
		e.owned[out] = true
	}
	return nil
}

// releaseDead recycles intermediates whose last consumer was kernel i.
func (e *Executor) releaseDead(i int) {
	for t := range e.owned {
		if e.lastUse[t] != i || e.graph.IsOutput(t) {
			continue
		}
		e.graph.MemoryManager().Release(t)
		delete(e.owned, t)
	}
}

// Close releases the storage the executor allocated, graph outputs included.
func (e *Executor) Close() {
	for t := range e.owned {
		e.graph.MemoryManager().Release(t)
	}
	clear(e.owned)
}
