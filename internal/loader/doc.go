// Package loader turns a serialized graph into a runtime.Graph.
//
// Loading happens in three passes over the serialized graph:
//   - constant tensors are materialized, borrowing their data from the serialized buffers
//     without copying;
//   - graph input tensors are created and allocated through the memory manager;
//   - operators are walked in order: their output tensors are created (storage is left to the
//     executor), a kernel is built for each one through the KernelBuilder, and kernels whose
//     output can safely reuse an input's storage are marked in-place.
//
// Example:
//
//	reader, err := serialization.NewMmapReader("model.mcro")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//
//	mm := runtime.NewSimpleMemoryManager()
//	graph := runtime.NewGraph(mm)
//	if err := loader.NewGraphLoader(reader, graph, mm).Load(); err != nil {
//	    log.Fatal(err)
//	}
//
// Structural defects of the serialized graph (operand count mismatches, scale and zero-point
// length mismatches, out-of-range tensor indices, negative dimensions) panic with
// exceptions.Panicf. Unsupported operators are reported as errors.
package loader
