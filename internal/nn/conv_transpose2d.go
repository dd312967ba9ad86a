package nn

import (
	"fmt"
	"math/rand"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// ConvTranspose2D is a 2D transposed convolution (PyTorch ConvTranspose2d).
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [in_channels, out_channels, kernel, kernel]
// Output shape: [batch, out_channels, (height-1)*stride - 2*padding + kernel, ...]
//
// With kernel 4, stride 2 and padding 1 it doubles the spatial size.
type ConvTranspose2D struct {
	name        string
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter // [in_channels, out_channels, kernel, kernel]
	bias   *Parameter // [out_channels]

	backend *cpu.CPUBackend
}

// NewConvTranspose2D creates a transposed convolution with PyTorch's
// default initialization. PyTorch derives fan_in from dimension 1 of the
// weight, i.e. out_channels * kernel * kernel.
func NewConvTranspose2D(name string, inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand, backend *cpu.CPUBackend) *ConvTranspose2D {
	if inChannels <= 0 || outChannels <= 0 {
		exceptions.Panicf("conv_transpose2d %s: invalid channels in=%d, out=%d", name, inChannels, outChannels)
	}
	if kernelSize <= 0 || stride <= 0 || padding < 0 {
		exceptions.Panicf("conv_transpose2d %s: invalid kernel=%d stride=%d padding=%d", name, kernelSize, stride, padding)
	}

	fanIn := outChannels * kernelSize * kernelSize
	weight := KaimingUniform(tensor.Shape{inChannels, outChannels, kernelSize, kernelSize}, fanIn, rng)
	bias := KaimingUniform(tensor.Shape{outChannels}, fanIn, rng)

	return &ConvTranspose2D{
		name:        name,
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter(scoped(name, "weight"), weight),
		bias:        NewParameter(scoped(name, "bias"), bias),
		backend:     backend,
	}
}

// Forward performs the forward pass.
func (c *ConvTranspose2D) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		exceptions.Panicf("conv_transpose2d %s: expected 4D input [N,C,H,W], got %dD", c.name, len(inputShape))
	}
	if inputShape[1] != c.inChannels {
		exceptions.Panicf("conv_transpose2d %s: input channels %d != expected %d", c.name, inputShape[1], c.inChannels)
	}
	return c.backend.ConvTranspose2D(input, c.weight.Tensor(), c.bias.Tensor(), c.stride, c.padding)
}

// Parameters returns the weight and bias.
func (c *ConvTranspose2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// Export emits a ConvTranspose node. Applying the layer twice emits two
// nodes over the same initializers.
func (c *ConvTranspose2D) Export(b *onnx.GraphBuilder, input string) string {
	k, s, p := int64(c.kernelSize), int64(c.stride), int64(c.padding)
	return b.AddNode("ConvTranspose", c.name,
		[]string{input, b.AddInitializer(c.weight.Name(), c.weight.Tensor()), b.AddInitializer(c.bias.Name(), c.bias.Tensor())},
		onnx.AttrInts("dilations", 1, 1),
		onnx.AttrInt("group", 1),
		onnx.AttrInts("kernel_shape", k, k),
		onnx.AttrInts("output_padding", 0, 0),
		onnx.AttrInts("pads", p, p, p, p),
		onnx.AttrInts("strides", s, s),
	)
}

// String returns a string representation of the layer.
func (c *ConvTranspose2D) String() string {
	return fmt.Sprintf("ConvTranspose2d(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d))",
		c.inChannels, c.outChannels, c.kernelSize, c.kernelSize, c.stride, c.stride, c.padding, c.padding)
}
