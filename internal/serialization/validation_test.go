package serialization

import (
	"errors"
	"strings"
	"testing"
)

// TestValidateBufferOffsets_Valid verifies that disjoint buffers pass validation.
func TestValidateBufferOffsets_Valid(t *testing.T) {
	buffers := []BufferMeta{
		{Offset: 0, Size: 0},
		{Offset: 0, Size: 100},
		{Offset: 128, Size: 200},
		{Offset: 384, Size: 16},
	}
	if err := ValidateBufferOffsets(buffers, 400); err != nil {
		t.Errorf("Expected no error for valid buffers, got: %v", err)
	}
}

func TestValidateBufferOffsets_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		buffers  []BufferMeta
		dataSize int64
		wantType string
	}{
		{
			name:     "overlap",
			buffers:  []BufferMeta{{Offset: 0, Size: 100}, {Offset: 50, Size: 100}},
			dataSize: 200,
			wantType: "offset_overlap",
		},
		{
			name:     "out of bounds",
			buffers:  []BufferMeta{{Offset: 64, Size: 100}},
			dataSize: 100,
			wantType: "out_of_bounds",
		},
		{
			name:     "negative size",
			buffers:  []BufferMeta{{Offset: 0, Size: -1}},
			dataSize: 100,
			wantType: "negative_offset",
		},
		{
			name:     "negative offset",
			buffers:  []BufferMeta{{Offset: -64, Size: 10}},
			dataSize: 100,
			wantType: "negative_offset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBufferOffsets(tt.buffers, tt.dataSize)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Expected ValidationError, got %T", err)
			}
			if validationErr.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, validationErr.Type)
			}
		})
	}
}

func TestValidateTensorName(t *testing.T) {
	validNames := []string{"input", "block1/conv/weights", "", "layer.0.bias"}
	for _, name := range validNames {
		if err := ValidateTensorName(0, name); err != nil {
			t.Errorf("Expected %q to be valid, got: %v", name, err)
		}
	}

	if err := ValidateTensorName(0, "bad\x00name"); err == nil {
		t.Error("Expected error for name with null byte")
	}
	if err := ValidateTensorName(0, strings.Repeat("a", MaxTensorNameLen+1)); err == nil {
		t.Error("Expected error for too long name")
	}
}

func validHeader() Header {
	return Header{
		Tensors: []TensorMeta{
			{Name: "input", DType: "float32", Shape: []int32{1, 4}},
			{Name: "shape", DType: "int32", Shape: []int32{1}, Buffer: 1},
			{Name: "output", DType: "float32", Shape: []int32{4}},
		},
		Buffers:   []BufferMeta{{}, {Offset: 0, Size: 4}},
		Operators: []OperatorMeta{{Opcode: OpcodeReshape, Inputs: []int{0, 1}, Outputs: []int{2}}},
		Inputs:    []int{0},
		Outputs:   []int{2},
	}
}

func TestValidateHeader_Strict(t *testing.T) {
	h := validHeader()
	if err := ValidateHeader(&h, 64, ValidationStrict); err != nil {
		t.Fatalf("Expected valid header, got: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(h *Header)
	}{
		{"operator input out of range", func(h *Header) { h.Operators[0].Inputs[0] = 7 }},
		{"operator output omitted", func(h *Header) { h.Operators[0].Outputs[0] = -1 }},
		{"graph output out of range", func(h *Header) { h.Outputs = []int{3} }},
		{"buffer index out of range", func(h *Header) { h.Tensors[1].Buffer = 5 }},
		{"negative dimension", func(h *Header) { h.Tensors[0].Shape = []int32{1, -4} }},
		{"buffer beyond data", func(h *Header) { h.Buffers[1].Offset = 62 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHeader()
			tt.mutate(&h)
			if err := ValidateHeader(&h, 64, ValidationStrict); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestValidateHeader_OmittedOptionalInput(t *testing.T) {
	h := validHeader()
	h.Operators[0].Inputs = []int{0, -1}
	if err := ValidateHeader(&h, 64, ValidationStrict); err != nil {
		t.Errorf("Expected -1 input to be accepted, got: %v", err)
	}
}

func TestValidateHeader_LevelsSkipChecks(t *testing.T) {
	h := validHeader()
	h.Buffers[1].Offset = 62 // beyond data, only caught in strict mode
	if err := ValidateHeader(&h, 64, ValidationNormal); err != nil {
		t.Errorf("Normal level should skip offset checks, got: %v", err)
	}

	h.Operators[0].Inputs[0] = 99
	if err := ValidateHeader(&h, 64, ValidationNone); err != nil {
		t.Errorf("None level should skip all checks, got: %v", err)
	}
}

func TestValidationError_ErrorMessages(t *testing.T) {
	tests := []struct {
		err  *ValidationError
		want string
	}{
		{
			err:  &ValidationError{Type: "offset_overlap", Subject: "buffers #1 and #2", Details: "regions overlap"},
			want: "offset_overlap: buffers #1 and #2: regions overlap",
		},
		{
			err:  &ValidationError{Type: "too_many_tensors", Details: "got 2000000"},
			want: "too_many_tensors: got 2000000",
		},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
