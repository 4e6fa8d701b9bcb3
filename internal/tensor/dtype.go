// Package tensor provides the tensor, shape and quantization value types used by the interpreter.
package tensor

import "github.com/gomlx/exceptions"

// DataType represents the element type of a tensor.
type DataType int

// Supported element types.
const (
	Unknown DataType = iota
	Float32
	Float16
	Int32
	Int64
	Uint8
	Int8
	Int16
	Bool
)

// Size returns the byte size of one element of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Int64:
		return 8
	case Float16, Int16:
		return 2
	case Uint8, Int8, Bool:
		return 1
	default:
		exceptions.Panicf("DataType.Size(): unknown data type %d", int(dt))
		return 0
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// IsAffineQuantized reports whether tensors of this type carry affine quantization parameters.
// Only 8-bit unsigned, 8-bit signed and 16-bit signed integers do.
func (dt DataType) IsAffineQuantized() bool {
	return dt == Uint8 || dt == Int8 || dt == Int16
}

// IsFloat reports whether the data type is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float16
}

// ParseDataType converts the serialized name of a data type back to a DataType.
// It returns Unknown and false for names it does not recognize.
func ParseDataType(name string) (DataType, bool) {
	for dt := Float32; dt <= Bool; dt++ {
		if dt.String() == name {
			return dt, true
		}
	}
	return Unknown, false
}
