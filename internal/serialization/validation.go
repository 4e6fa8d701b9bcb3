package serialization

import (
	"fmt"
	"sort"
	"strings"
)

// Validation limits for security and resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxTensorCount   = 1_000_000         // Maximum number of declared tensors
	MaxOperatorCount = 1_000_000         // Maximum number of operators
	MaxTensorNameLen = 4096              // Maximum tensor name length
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default, recommended for production).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal skips the buffer overlap analysis.
	ValidationNormal
	// ValidationNone skips validation (dangerous! Use only with trusted input).
	ValidationNone
)

func tensorSubject(index int, name string) string {
	if name == "" {
		return fmt.Sprintf("tensor #%d", index)
	}
	return fmt.Sprintf("tensor #%d %q", index, name)
}

// ValidateBufferOffsets checks for overlapping buffers and out-of-bounds access.
// Malformed files could otherwise make borrowed tensors alias each other or read past the data.
func ValidateBufferOffsets(buffers []BufferMeta, dataSize int64) error {
	type region struct {
		index int
		BufferMeta
	}
	sorted := make([]region, 0, len(buffers))
	for i, b := range buffers {
		// Check for negative values (potential integer overflow attacks).
		if b.Offset < 0 || b.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Subject: fmt.Sprintf("buffer #%d", i),
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", b.Offset, b.Size),
			}
		}
		if b.Offset+b.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Subject: fmt.Sprintf("buffer #%d", i),
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", b.Offset, b.Size, dataSize),
			}
		}
		if b.Size > 0 {
			sorted = append(sorted, region{index: i, BufferMeta: b})
		}
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})
	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		if cur.Offset+cur.Size > next.Offset {
			return &ValidationError{
				Type:    "offset_overlap",
				Subject: fmt.Sprintf("buffers #%d and #%d", cur.index, next.index),
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
					cur.Offset, cur.Offset+cur.Size, next.Offset, next.Offset+next.Size),
			}
		}
	}
	return nil
}

// ValidateTensorName rejects names that are too long or hold control bytes.
// Scoped names such as "block1/conv/weights" are fine.
func ValidateTensorName(index int, name string) error {
	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Type:    "name_too_long",
			Subject: tensorSubject(index, name[:32]+"..."),
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}
	if strings.ContainsRune(name, 0) {
		return &ValidationError{
			Type:    "invalid_name",
			Subject: tensorSubject(index, ""),
			Details: "contains null byte",
		}
	}
	return nil
}

// validateIndices checks that every tensor index used by operators and graph inputs/outputs
// is in range. Operator inputs may use -1 for omitted optional operands.
func validateIndices(h *Header) error {
	numTensors := len(h.Tensors)
	for i, t := range h.Tensors {
		if t.Buffer < 0 || t.Buffer >= max(len(h.Buffers), 1) {
			return &ValidationError{
				Type:    "index_out_of_range",
				Subject: tensorSubject(i, t.Name),
				Details: fmt.Sprintf("buffer index %d, file has %d buffers", t.Buffer, len(h.Buffers)),
			}
		}
		for axis, dim := range t.Shape {
			if dim < 0 {
				return &ValidationError{
					Type:    "invalid_shape",
					Subject: tensorSubject(i, t.Name),
					Details: fmt.Sprintf("negative dimension %d at axis %d", dim, axis),
				}
			}
		}
	}

	check := func(subject string, indices []int, allowOmitted bool) error {
		for _, idx := range indices {
			if idx == -1 && allowOmitted {
				continue
			}
			if idx < 0 || idx >= numTensors {
				return &ValidationError{
					Type:    "index_out_of_range",
					Subject: subject,
					Details: fmt.Sprintf("tensor index %d, graph has %d tensors", idx, numTensors),
				}
			}
		}
		return nil
	}

	for i, op := range h.Operators {
		subject := fmt.Sprintf("operator #%d (%s)", i, op.Opcode)
		if err := check(subject+" inputs", op.Inputs, true); err != nil {
			return err
		}
		if err := check(subject+" outputs", op.Outputs, false); err != nil {
			return err
		}
	}
	if err := check("graph inputs", h.Inputs, false); err != nil {
		return err
	}
	return check("graph outputs", h.Outputs, false)
}

// ValidateHeader performs comprehensive header validation.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}

	// Validate counts (DoS prevention).
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}
	if len(h.Operators) > MaxOperatorCount {
		return &ValidationError{
			Type:    "too_many_operators",
			Details: fmt.Sprintf("got %d, max %d", len(h.Operators), MaxOperatorCount),
		}
	}

	for i, t := range h.Tensors {
		if err := ValidateTensorName(i, t.Name); err != nil {
			return err
		}
	}

	if err := validateIndices(h); err != nil {
		return err
	}

	// Validate offsets (only in strict mode - performance-intensive).
	if level == ValidationStrict {
		if err := ValidateBufferOffsets(h.Buffers, dataSize); err != nil {
			return err
		}
	}
	return nil
}
