// Package serialization reads and writes the .mcro serialized graph format consumed by the
// graph loader.
//
//	Format Structure:
//	  [4 bytes: Magic "MCRO"]
//	  [4 bytes: Version (uint32 LE)]
//	  [4 bytes: Flags (uint32 LE)]
//	  [4 bytes: reserved]                      (v2 only)
//	  [8 bytes: Header Size (uint64 LE)]
//	  [8 bytes: Data Size (uint64 LE)]         (v2 only)
//	  [32 bytes: SHA-256 of the data section]  (v2 only)
//	  [Header: JSON graph description]
//	  [Buffer data: raw bytes, 64-byte aligned]
//
// The JSON header lists the declared tensors (type, shape, quantization, buffer index,
// variable flag), the constant buffers (offset and size inside the data section), the
// operators in execution order (opcode, input and output tensor indices, opcode-specific
// options) and the graph's input and output tensor indices.
//
// Operator options are decoded once, by opcode, into one concrete Options type per opcode,
// so consumers never see an untyped options blob.
//
// MmapReader maps the file read-only: buffers it returns alias the mapping, which lets the
// loader materialize constant tensors without copying them.
//
// Example usage:
//
//	reader, err := serialization.NewMmapReader("model.mcro")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//	for i, op := range reader.Operators() {
//	    fmt.Printf("#%d %s %v -> %v\n", i, op.Opcode, op.Inputs, op.Outputs)
//	}
package serialization
