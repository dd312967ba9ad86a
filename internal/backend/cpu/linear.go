package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/parallel"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Linear computes input @ weightᵀ + bias, the contraction ONNX expresses as
// Gemm with transB=1.
//
// Input shape:  [batch, in_features]
// Weight shape: [out_features, in_features]
// Bias shape:   [out_features] (nil for no bias)
// Output shape: [batch, out_features]
func (cpu *CPUBackend) Linear(input, weight, bias *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("linear", input, weight, bias)
	requireRank("linear", "input", input, 2)
	requireRank("linear", "weight", weight, 2)

	batch, in := input.Shape()[0], input.Shape()[1]
	out := weight.Shape()[0]
	if weight.Shape()[1] != in {
		exceptions.Panicf("linear: input features %d != weight features %d", in, weight.Shape()[1])
	}
	if bias != nil && (len(bias.Shape()) != 1 || bias.Shape()[0] != out) {
		exceptions.Panicf("linear: bias shape %s does not match %d output features", bias.Shape(), out)
	}

	output := newOutput("linear", tensor.Shape{batch, out})
	x := input.AsFloat32()
	w := weight.AsFloat32()
	y := output.AsFloat32()
	var b []float32
	if bias != nil {
		b = bias.AsFloat32()
	}

	parallel.For(batch, in*out, func(i int) {
		row := x[i*in : (i+1)*in]
		for o := 0; o < out; o++ {
			wRow := w[o*in : (o+1)*in]
			var sum float32
			for k, v := range row {
				sum += v * wRow[k]
			}
			if b != nil {
				sum += b[o]
			}
			y[i*out+o] = sum
		}
	}, cpu.par)

	return output
}
