package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/parallel"
	"github.com/born-ml/modelexport/internal/tensor"
)

// ConvTranspose2D performs a 2D transposed convolution (fractionally strided
// convolution), the layer PyTorch calls ConvTranspose2d.
//
// Input shape:  [batch, in_channels, height, width]
// Kernel shape: [in_channels, out_channels, kernel_h, kernel_w]
// Bias shape:   [out_channels] (nil for no bias)
// Output shape: [batch, out_channels, out_h, out_w]
//
//	out_h = (height - 1) * stride - 2*padding + kernel_h
//	out_w = (width - 1) * stride - 2*padding + kernel_w
//
// Every input pixel scatters kernel-weighted copies of itself into the
// output; positions falling into the cropped padding border are dropped.
// Work is split by output channel so goroutines never share a plane.
func (cpu *CPUBackend) ConvTranspose2D(input, kernel, bias *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv_transpose2d", input, kernel, bias)
	requireRank("conv_transpose2d", "input", input, 4)
	requireRank("conv_transpose2d", "kernel", kernel, 4)

	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	N, CIn, H, W := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	COut, KH, KW := kernelShape[1], kernelShape[2], kernelShape[3]

	if CIn != kernelShape[0] {
		exceptions.Panicf("conv_transpose2d: input channels %d != kernel channels %d", CIn, kernelShape[0])
	}
	if stride <= 0 || padding < 0 {
		exceptions.Panicf("conv_transpose2d: invalid stride=%d padding=%d", stride, padding)
	}
	if bias != nil && (len(bias.Shape()) != 1 || bias.Shape()[0] != COut) {
		exceptions.Panicf("conv_transpose2d: bias shape %s does not match %d output channels", bias.Shape(), COut)
	}

	HOut := (H-1)*stride - 2*padding + KH
	WOut := (W-1)*stride - 2*padding + KW
	if HOut <= 0 || WOut <= 0 {
		exceptions.Panicf("conv_transpose2d: invalid output dimensions: out_h=%d, out_w=%d", HOut, WOut)
	}

	output := newOutput("conv_transpose2d", tensor.Shape{N, COut, HOut, WOut})

	inputData := input.AsFloat32()
	kernelData := kernel.AsFloat32()
	outputData := output.AsFloat32()
	var biasData []float32
	if bias != nil {
		biasData = bias.AsFloat32()
	}

	work := CIn * H * W * KH * KW
	parallel.ForBatch(N, COut, work, func(n, co int) {
		dst := outputData[(n*COut+co)*HOut*WOut : (n*COut+co+1)*HOut*WOut]
		if biasData != nil {
			for i := range dst {
				dst[i] = biasData[co]
			}
		}
		for ci := 0; ci < CIn; ci++ {
			plane := inputData[(n*CIn+ci)*H*W : (n*CIn+ci+1)*H*W]
			k := kernelData[(ci*COut+co)*KH*KW : (ci*COut+co+1)*KH*KW]
			for h := 0; h < H; h++ {
				for w := 0; w < W; w++ {
					v := plane[h*W+w]
					if v == 0 {
						continue
					}
					for kh := 0; kh < KH; kh++ {
						oh := h*stride - padding + kh
						if oh < 0 || oh >= HOut {
							continue
						}
						outRow := dst[oh*WOut : (oh+1)*WOut]
						kRow := k[kh*KW : (kh+1)*KW]
						for kw, kv := range kRow {
							ow := w*stride - padding + kw
							if ow >= 0 && ow < WOut {
								outRow[ow] += v * kv
							}
						}
					}
				}
			}
		}
	}, cpu.par)

	return output
}
