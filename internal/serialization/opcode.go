package serialization

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Opcode enumerates the operator kinds a serialized graph can hold.
type Opcode int

// Opcodes. Not every opcode has a kernel: the loader reports those as unimplemented.
const (
	OpcodeInvalid Opcode = iota
	OpcodeAdd
	OpcodeMul
	OpcodeLogistic
	OpcodeRelu
	OpcodeReshape
	OpcodeExpandDims
	OpcodeInstanceNorm
	OpcodeFullyConnected
	OpcodeSoftmax
	OpcodeConv2D
	OpcodeAveragePool2D
	OpcodeConcatenation

	// OpcodeLast is the number of opcodes, used to size opcode-indexed tables.
	OpcodeLast
)

var opcodeNames = [OpcodeLast]string{
	OpcodeInvalid:        "INVALID",
	OpcodeAdd:            "ADD",
	OpcodeMul:            "MUL",
	OpcodeLogistic:       "LOGISTIC",
	OpcodeRelu:           "RELU",
	OpcodeReshape:        "RESHAPE",
	OpcodeExpandDims:     "EXPAND_DIMS",
	OpcodeInstanceNorm:   "INSTANCE_NORM",
	OpcodeFullyConnected: "FULLY_CONNECTED",
	OpcodeSoftmax:        "SOFTMAX",
	OpcodeConv2D:         "CONV_2D",
	OpcodeAveragePool2D:  "AVERAGE_POOL_2D",
	OpcodeConcatenation:  "CONCATENATION",
}

// String returns the serialized name of the opcode.
func (op Opcode) String() string {
	if op < 0 || op >= OpcodeLast {
		return "UNKNOWN"
	}
	return opcodeNames[op]
}

// ParseOpcode converts a serialized opcode name. It returns OpcodeInvalid and false for
// unknown names.
func ParseOpcode(name string) (Opcode, bool) {
	for op := OpcodeInvalid + 1; op < OpcodeLast; op++ {
		if opcodeNames[op] == name {
			return op, true
		}
	}
	return OpcodeInvalid, false
}

// MarshalJSON implements json.Marshaler.
func (op Opcode) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (op *Opcode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, ok := ParseOpcode(name)
	if !ok {
		return errors.Wrapf(ErrUnknownOpcode, "%q", name)
	}
	*op = parsed
	return nil
}
