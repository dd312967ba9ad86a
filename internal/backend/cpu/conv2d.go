package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/parallel"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape:  [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Bias shape:   [out_channels] (nil for no bias)
// Output shape: [batch, out_channels, out_h, out_w]
//
//	out_h = (height + 2*padding - kernel_h) / stride + 1
//	out_w = (width + 2*padding - kernel_w) / stride + 1
//
// Algorithm: Im2col
//  1. Per image, unfold input patches into a [C_in*K_h*K_w, H_out*W_out] matrix
//  2. Kernel is already a [C_out, C_in*K_h*K_w] matrix in row-major layout
//  3. Multiply, one output channel per work item, writing straight into NCHW
//
// Reference: "High Performance Convolutional Neural Networks for Document Processing"
// (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel, bias *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d", input, kernel, bias)
	requireRank("conv2d", "input", input, 4)
	requireRank("conv2d", "kernel", kernel, 4)

	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	N := inputShape[0]     // batch size
	CIn := inputShape[1]   // input channels
	H := inputShape[2]     // input height
	W := inputShape[3]     // input width
	COut := kernelShape[0] // output channels
	KH := kernelShape[2]   // kernel height
	KW := kernelShape[3]   // kernel width

	if CIn != kernelShape[1] {
		exceptions.Panicf("conv2d: input channels %d != kernel channels %d", CIn, kernelShape[1])
	}
	if stride <= 0 || padding < 0 {
		exceptions.Panicf("conv2d: invalid stride=%d padding=%d", stride, padding)
	}
	if bias != nil && (len(bias.Shape()) != 1 || bias.Shape()[0] != COut) {
		exceptions.Panicf("conv2d: bias shape %s does not match %d output channels", bias.Shape(), COut)
	}

	HOut := (H+2*padding-KH)/stride + 1
	WOut := (W+2*padding-KW)/stride + 1
	if HOut <= 0 || WOut <= 0 {
		exceptions.Panicf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", HOut, WOut)
	}

	output := newOutput("conv2d", tensor.Shape{N, COut, HOut, WOut})

	inputData := input.AsFloat32()
	kernelData := kernel.AsFloat32()
	outputData := output.AsFloat32()
	var biasData []float32
	if bias != nil {
		biasData = bias.AsFloat32()
	}

	colRows := CIn * KH * KW
	colCols := HOut * WOut
	col := make([]float32, colRows*colCols)

	for n := 0; n < N; n++ {
		image := inputData[n*CIn*H*W : (n+1)*CIn*H*W]
		im2colFloat32(col, image, CIn, H, W, KH, KW, HOut, WOut, stride, padding)

		outImage := outputData[n*COut*colCols : (n+1)*COut*colCols]
		parallel.For(COut, colRows*colCols, func(co int) {
			dst := outImage[co*colCols : (co+1)*colCols]
			if biasData != nil {
				b := biasData[co]
				for p := range dst {
					dst[p] = b
				}
			}
			row := kernelData[co*colRows : (co+1)*colRows]
			for k, w := range row {
				if w == 0 {
					continue
				}
				src := col[k*colCols : (k+1)*colCols]
				for p, v := range src {
					dst[p] += w * v
				}
			}
		}, cpu.par)
	}

	return output
}

// im2colFloat32 unfolds one [C, H, W] image into col [C*K_h*K_w, H_out*W_out].
//
// Row k = (c, kh, kw) holds, for every output position, the input value that
// kernel weight k multiplies; out-of-bounds (padding) positions are zero.
func im2colFloat32(col, image []float32, C, H, W, KH, KW, HOut, WOut, stride, padding int) {
	colCols := HOut * WOut
	row := 0
	for c := 0; c < C; c++ {
		plane := image[c*H*W : (c+1)*H*W]
		for kh := 0; kh < KH; kh++ {
			for kw := 0; kw < KW; kw++ {
				dst := col[row*colCols : (row+1)*colCols]
				idx := 0
				for outH := 0; outH < HOut; outH++ {
					h := outH*stride - padding + kh
					if h < 0 || h >= H {
						for outW := 0; outW < WOut; outW++ {
							dst[idx] = 0
							idx++
						}
						continue
					}
					rowData := plane[h*W : (h+1)*W]
					for outW := 0; outW < WOut; outW++ {
						w := outW*stride - padding + kw
						if w >= 0 && w < W {
							dst[idx] = rowData[w]
						} else {
							dst[idx] = 0
						}
						idx++
					}
				}
				row++
			}
		}
	}
}
