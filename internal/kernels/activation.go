package kernels

import (
	"math"

	"github.com/born-ml/micro/internal/serialization"
)

func activate(a serialization.Activation, v float32) float32 {
	switch a {
	case serialization.ActivationRelu:
		return max(v, 0)
	case serialization.ActivationReluN1To1:
		return min(max(v, -1), 1)
	case serialization.ActivationRelu6:
		return min(max(v, 0), 6)
	case serialization.ActivationTanh:
		return float32(math.Tanh(float64(v)))
	default:
		return v
	}
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}
