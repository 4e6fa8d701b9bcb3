package serialization

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Activation is a fused activation function applied to an operator's output.
type Activation int

// Fused activations.
const (
	ActivationNone Activation = iota
	ActivationRelu
	ActivationReluN1To1
	ActivationRelu6
	ActivationTanh
)

var activationNames = []string{"NONE", "RELU", "RELU_N1_TO_1", "RELU6", "TANH"}

// String returns the serialized activation name.
func (a Activation) String() string {
	if a < 0 || int(a) >= len(activationNames) {
		return "UNKNOWN"
	}
	return activationNames[a]
}

// MarshalJSON implements json.Marshaler.
func (a Activation) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Activation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range activationNames {
		if n == name {
			*a = Activation(i)
			return nil
		}
	}
	return errors.Errorf("unknown fused activation %q", name)
}

// Options holds the opcode-specific parameters of an operator.
// Each opcode has exactly one concrete Options type.
type Options interface {
	// Opcode returns the opcode these options belong to.
	Opcode() Opcode
}

// AddOptions for OpcodeAdd.
type AddOptions struct {
	FusedActivation Activation `json:"fused_activation"`
}

// MulOptions for OpcodeMul.
type MulOptions struct {
	FusedActivation Activation `json:"fused_activation"`
}

// LogisticOptions for OpcodeLogistic.
type LogisticOptions struct{}

// ReluOptions for OpcodeRelu.
type ReluOptions struct{}

// ReshapeOptions for OpcodeReshape. NewShape may hold one -1 entry for an inferred dimension;
// it is ignored when the operator carries a shape tensor as second input.
type ReshapeOptions struct {
	NewShape []int32 `json:"new_shape,omitempty"`
}

// ExpandDimsOptions for OpcodeExpandDims. The axis comes from the second input tensor.
type ExpandDimsOptions struct{}

// InstanceNormOptions for OpcodeInstanceNorm.
type InstanceNormOptions struct {
	Epsilon         float32    `json:"epsilon"`
	FusedActivation Activation `json:"fused_activation"`
}

// FullyConnectedOptions for OpcodeFullyConnected.
type FullyConnectedOptions struct {
	FusedActivation Activation `json:"fused_activation"`
	KeepNumDims     bool       `json:"keep_num_dims,omitempty"`
}

// SoftmaxOptions for OpcodeSoftmax.
type SoftmaxOptions struct {
	Beta float32 `json:"beta"`
}

// Conv2DOptions for OpcodeConv2D.
type Conv2DOptions struct {
	Padding         string     `json:"padding"`
	StrideW         int32      `json:"stride_w"`
	StrideH         int32      `json:"stride_h"`
	FusedActivation Activation `json:"fused_activation"`
}

// Pool2DOptions for OpcodeAveragePool2D.
type Pool2DOptions struct {
	Padding         string     `json:"padding"`
	StrideW         int32      `json:"stride_w"`
	StrideH         int32      `json:"stride_h"`
	FilterWidth     int32      `json:"filter_width"`
	FilterHeight    int32      `json:"filter_height"`
	FusedActivation Activation `json:"fused_activation"`
}

// ConcatenationOptions for OpcodeConcatenation.
type ConcatenationOptions struct {
	Axis            int32      `json:"axis"`
	FusedActivation Activation `json:"fused_activation"`
}

func (*AddOptions) Opcode() Opcode            { return OpcodeAdd }
func (*MulOptions) Opcode() Opcode            { return OpcodeMul }
func (*LogisticOptions) Opcode() Opcode       { return OpcodeLogistic }
func (*ReluOptions) Opcode() Opcode           { return OpcodeRelu }
func (*ReshapeOptions) Opcode() Opcode        { return OpcodeReshape }
func (*ExpandDimsOptions) Opcode() Opcode     { return OpcodeExpandDims }
func (*InstanceNormOptions) Opcode() Opcode   { return OpcodeInstanceNorm }
func (*FullyConnectedOptions) Opcode() Opcode { return OpcodeFullyConnected }
func (*SoftmaxOptions) Opcode() Opcode        { return OpcodeSoftmax }
func (*Conv2DOptions) Opcode() Opcode         { return OpcodeConv2D }
func (*Pool2DOptions) Opcode() Opcode         { return OpcodeAveragePool2D }
func (*ConcatenationOptions) Opcode() Opcode  { return OpcodeConcatenation }

// newOptions creates the zero-valued options variant of each opcode, with defaults set.
var newOptions = [OpcodeLast]func() Options{
	OpcodeAdd:            func() Options { return &AddOptions{} },
	OpcodeMul:            func() Options { return &MulOptions{} },
	OpcodeLogistic:       func() Options { return &LogisticOptions{} },
	OpcodeRelu:           func() Options { return &ReluOptions{} },
	OpcodeReshape:        func() Options { return &ReshapeOptions{} },
	OpcodeExpandDims:     func() Options { return &ExpandDimsOptions{} },
	OpcodeInstanceNorm:   func() Options { return &InstanceNormOptions{Epsilon: 1e-5} },
	OpcodeFullyConnected: func() Options { return &FullyConnectedOptions{} },
	OpcodeSoftmax:        func() Options { return &SoftmaxOptions{Beta: 1} },
	OpcodeConv2D:         func() Options { return &Conv2DOptions{Padding: "SAME", StrideW: 1, StrideH: 1} },
	OpcodeAveragePool2D:  func() Options { return &Pool2DOptions{Padding: "SAME", StrideW: 1, StrideH: 1} },
	OpcodeConcatenation:  func() Options { return &ConcatenationOptions{} },
}

// DecodeOptions resolves the raw JSON options of an operator into the variant for its opcode.
// Empty raw options yield the defaults.
func DecodeOptions(op Opcode, raw json.RawMessage) (Options, error) {
	if op <= OpcodeInvalid || op >= OpcodeLast || newOptions[op] == nil {
		return nil, errors.Wrapf(ErrUnknownOpcode, "decoding options for opcode %d", int(op))
	}
	opts := newOptions[op]()
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}
	if err := json.Unmarshal(raw, opts); err != nil {
		return nil, errors.Wrapf(err, "decoding %s options", op)
	}
	return opts, nil
}

// EncodeOptions serializes options back to JSON.
func EncodeOptions(opts Options) (json.RawMessage, error) {
	if opts == nil {
		return nil, nil
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s options", opts.Opcode())
	}
	return data, nil
}
