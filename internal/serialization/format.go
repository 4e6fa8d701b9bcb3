package serialization

import (
	"encoding/json"
	"time"
)

// Format constants.
const (
	MagicBytes        = "MCRO"
	FormatVersion     = 1    // v1: Basic format without checksum
	FormatVersionV2   = 2    // v2: With SHA-256 checksum
	HeaderAlignment   = 64   // Align buffer data to 64 bytes
	FixedHeaderSizeV1 = 20   // magic + version + flags + header size
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20 // Checksum offset in v2 fixed header
)

// Flags for the .mcro format.
const (
	FlagHasMetadata  uint32 = 1 << 0 // bit 0: custom metadata included
	FlagHasVariables uint32 = 1 << 1 // bit 1: graph declares variable tensors
)

// Header represents the JSON header in a .mcro file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	Producer      string            `json:"producer"`
	Name          string            `json:"name"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"`
	Buffers       []BufferMeta      `json:"buffers"`
	Operators     []OperatorMeta    `json:"operators"`
	Inputs        []int             `json:"inputs"`
	Outputs       []int             `json:"outputs"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TensorMeta describes a declared tensor.
type TensorMeta struct {
	Name         string            `json:"name"`
	DType        string            `json:"dtype"`
	Shape        []int32           `json:"shape"`
	Buffer       int               `json:"buffer"`
	IsVariable   bool              `json:"is_variable,omitempty"`
	Quantization *QuantizationMeta `json:"quantization,omitempty"`
}

// QuantizationMeta holds the serialized affine quantization parameters of a tensor.
type QuantizationMeta struct {
	Scale              []float32 `json:"scale"`
	ZeroPoint          []int64   `json:"zero_point"`
	QuantizedDimension int       `json:"quantized_dimension"`
}

// BufferMeta locates a buffer in the data section. Buffer 0 is conventionally the empty
// buffer referenced by every non-constant tensor.
type BufferMeta struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}

// OperatorMeta describes one operator. Input index -1 marks an omitted optional operand.
type OperatorMeta struct {
	Opcode  Opcode          `json:"opcode"`
	Inputs  []int           `json:"inputs"`
	Outputs []int           `json:"outputs"`
	Options json.RawMessage `json:"options,omitempty"`
}

// alignUp rounds n up to the next multiple of HeaderAlignment.
func alignUp(n int64) int64 {
	return ((n + HeaderAlignment - 1) / HeaderAlignment) * HeaderAlignment
}
