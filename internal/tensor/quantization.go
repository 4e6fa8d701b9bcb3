package tensor

import "github.com/gomlx/exceptions"

// AffineQuantization maps stored integers q to real values r = Scale[c] * (q - ZeroPoint[c]),
// where c indexes QuantizedDimension. A single-element Scale means per-tensor quantization.
type AffineQuantization struct {
	Scale              []float32
	ZeroPoint          []int64
	QuantizedDimension int
}

// NewAffineQuantization copies the given parameters into a new record.
// Scale and zero-point lengths must match: a mismatch means the serialized graph is corrupt,
// and it panics.
func NewAffineQuantization(scale []float32, zeroPoint []int64, quantizedDimension int) *AffineQuantization {
	if len(scale) != len(zeroPoint) {
		exceptions.Panicf("affine quantization: %d scales but %d zero points", len(scale), len(zeroPoint))
	}
	return &AffineQuantization{
		Scale:              append([]float32(nil), scale...),
		ZeroPoint:          append([]int64(nil), zeroPoint...),
		QuantizedDimension: quantizedDimension,
	}
}

// PerChannel reports whether the record holds more than one scale.
func (q *AffineQuantization) PerChannel() bool {
	return len(q.Scale) > 1
}

// Equal compares the structural fields of two records.
func (q *AffineQuantization) Equal(other *AffineQuantization) bool {
	if q == nil || other == nil {
		return q == other
	}
	if q.QuantizedDimension != other.QuantizedDimension ||
		len(q.Scale) != len(other.Scale) || len(q.ZeroPoint) != len(other.ZeroPoint) {
		return false
	}
	for i := range q.Scale {
		if q.Scale[i] != other.Scale[i] {
			return false
		}
	}
	for i := range q.ZeroPoint {
		if q.ZeroPoint[i] != other.ZeroPoint[i] {
			return false
		}
	}
	return true
}

// Dequantize converts the stored value q of channel c to its real value.
func (q *AffineQuantization) Dequantize(value int64, channel int) float32 {
	if !q.PerChannel() {
		channel = 0
	}
	return q.Scale[channel] * float32(value-q.ZeroPoint[channel])
}
