package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/modelexport/internal/tensor"
)

// KaimingUniform reproduces PyTorch's default weight initialization for
// convolutions and linear layers, kaiming_uniform_ with a=sqrt(5):
//
//	U(-bound, bound), bound = gain * sqrt(3 / fan_in) = 1 / sqrt(fan_in)
//
// Values are drawn from rng, so a fixed seed rebuilds the same network.
func KaimingUniform(shape tensor.Shape, fanIn int, rng *rand.Rand) *tensor.RawTensor {
	return Uniform(shape, 1/math.Sqrt(float64(fanIn)), rng)
}

// Uniform fills a tensor with values from U(-bound, bound). PyTorch uses
// bound = 1/sqrt(fan_in) for biases.
func Uniform(shape tensor.Shape, bound float64, rng *rand.Rand) *tensor.RawTensor {
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return t
}

// KaimingNormal draws from N(0, std²) with std = sqrt(2 / fan_in), the
// kaiming_normal_ default, and multiplies the result by scale. Residual
// dense blocks start from scale 0.1 so that each block begins close to the
// identity.
func KaimingNormal(shape tensor.Shape, fanIn int, scale float64, rng *rand.Rand) *tensor.RawTensor {
	std := math.Sqrt(2/float64(fanIn)) * scale
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}
