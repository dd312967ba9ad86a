package cpu

import (
	"math"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/parallel"
	"github.com/born-ml/modelexport/internal/tensor"
)

// MaxPool2D performs 2D max pooling.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
//	out_height = (height - kernelSize) / stride + 1
//	out_width = (width - kernelSize) / stride + 1
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	requireFloat32("maxpool2d", input)
	requireRank("maxpool2d", "input", input, 4)

	inputShape := input.Shape()
	N, C, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]

	if kernelSize <= 0 {
		exceptions.Panicf("maxpool2d: invalid kernel size %d", kernelSize)
	}
	if stride <= 0 {
		exceptions.Panicf("maxpool2d: invalid stride %d", stride)
	}
	if kernelSize > H || kernelSize > W {
		exceptions.Panicf("maxpool2d: kernel size %d too large for input %dx%d", kernelSize, H, W)
	}

	HOut := (H-kernelSize)/stride + 1
	WOut := (W-kernelSize)/stride + 1

	output := newOutput("maxpool2d", tensor.Shape{N, C, HOut, WOut})
	inputData := input.AsFloat32()
	outputData := output.AsFloat32()

	parallel.ForBatch(N, C, HOut*WOut*kernelSize*kernelSize, func(n, c int) {
		// Pre-slice channel planes: eliminates (n*C+c)*H*W bounds checks
		channelData := inputData[(n*C+c)*H*W : (n*C+c+1)*H*W]
		dst := outputData[(n*C+c)*HOut*WOut : (n*C+c+1)*HOut*WOut]

		for outH := 0; outH < HOut; outH++ {
			hStart := outH * stride
			for outW := 0; outW < WOut; outW++ {
				wStart := outW * stride
				maxVal := float32(math.Inf(-1))
				for kh := 0; kh < kernelSize; kh++ {
					rowData := channelData[(hStart+kh)*W : (hStart+kh+1)*W]
					for kw := 0; kw < kernelSize; kw++ {
						if v := rowData[wStart+kw]; v > maxVal {
							maxVal = v
						}
					}
				}
				dst[outH*WOut+outW] = maxVal
			}
		}
	}, cpu.par)

	return output
}
