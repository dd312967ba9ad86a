package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/parallel"
	"github.com/born-ml/modelexport/internal/tensor"
)

// UpsampleNearest repeats every pixel factor×factor times.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, height*factor, width*factor]
//
// out[h][w] = in[floor(h/factor)][floor(w/factor)], which is what an ONNX
// Resize with mode=nearest, coordinate_transformation_mode=asymmetric and
// nearest_mode=floor computes for an integer scale.
func (cpu *CPUBackend) UpsampleNearest(input *tensor.RawTensor, factor int) *tensor.RawTensor {
	requireFloat32("upsample_nearest", input)
	requireRank("upsample_nearest", "input", input, 4)
	if factor <= 0 {
		exceptions.Panicf("upsample_nearest: invalid factor %d", factor)
	}

	s := input.Shape()
	N, C, H, W := s[0], s[1], s[2], s[3]
	HOut, WOut := H*factor, W*factor
	output := newOutput("upsample_nearest", tensor.Shape{N, C, HOut, WOut})
	src := input.AsFloat32()
	dst := output.AsFloat32()

	parallel.ForBatch(N, C, HOut*WOut, func(n, c int) {
		plane := src[(n*C+c)*H*W : (n*C+c+1)*H*W]
		out := dst[(n*C+c)*HOut*WOut : (n*C+c+1)*HOut*WOut]
		for oh := 0; oh < HOut; oh++ {
			row := plane[(oh/factor)*W : (oh/factor+1)*W]
			outRow := out[oh*WOut : (oh+1)*WOut]
			for ow := range outRow {
				outRow[ow] = row[ow/factor]
			}
		}
	}, cpu.par)

	return output
}
