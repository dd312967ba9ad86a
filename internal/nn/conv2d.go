package nn

import (
	"fmt"
	"math/rand"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Conv2D is a 2D convolutional layer.
//
// Performs convolution: output = Conv2D(input, weight) + bias
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel) / stride + 1
//	out_w = (width + 2*padding - kernel) / stride + 1
//
// Example:
//
//	// conv1 of the classifier: 1 channel -> 6 channels, 5x5 kernel
//	conv := nn.NewConv2D("conv1", 1, 6, 5, 1, 0, rng, backend)
//	output := conv.Forward(input) // [1, 6, 28, 28] for a 32x32 input
type Conv2D struct {
	name        string
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter // [out_channels, in_channels, kernel, kernel]
	bias   *Parameter // [out_channels]

	backend *cpu.CPUBackend
}

// NewConv2D creates a new 2D convolutional layer with PyTorch's default
// initialization.
//
// Parameters:
//   - name: State dict prefix (parameters become name.weight, name.bias)
//   - inChannels, outChannels: Channel counts
//   - kernelSize: Square kernel size
//   - stride, padding: Convolution stride and zero padding
//   - rng: Source for the initial weights
//   - backend: Backend for computation
func NewConv2D(name string, inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand, backend *cpu.CPUBackend) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		exceptions.Panicf("conv2d %s: invalid channels in=%d, out=%d", name, inChannels, outChannels)
	}
	if kernelSize <= 0 {
		exceptions.Panicf("conv2d %s: invalid kernel size %d", name, kernelSize)
	}
	if stride <= 0 {
		exceptions.Panicf("conv2d %s: invalid stride %d", name, stride)
	}
	if padding < 0 {
		exceptions.Panicf("conv2d %s: invalid padding %d", name, padding)
	}

	fanIn := inChannels * kernelSize * kernelSize
	weight := KaimingUniform(tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, fanIn, rng)
	bias := KaimingUniform(tensor.Shape{outChannels}, fanIn, rng)

	return &Conv2D{
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

// ScaledInit re-initializes the layer with kaiming-normal weights
// multiplied by scale and zero bias.
func (c *Conv2D) ScaledInit(scale float64, rng *rand.Rand) {
	fanIn := c.inChannels * c.kernelSize * c.kernelSize
	c.weight.tensor = KaimingNormal(c.weight.Shape(), fanIn, scale, rng)
	c.bias.tensor = tensor.Zeros(c.bias.Shape())
}

// Forward performs the forward pass.
//
// Input: [batch, in_channels, height, width]
// Output: [batch, out_channels, out_h, out_w].
func (c *Conv2D) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		exceptions.Panicf("conv2d %s: expected 4D input [N,C,H,W], got %dD", c.name, len(inputShape))
	}
	if inputShape[1] != c.inChannels {
		exceptions.Panicf("conv2d %s: input channels %d != expected %d", c.name, inputShape[1], c.inChannels)
	}
	return c.backend.Conv2D(input, c.weight.Tensor(), c.bias.Tensor(), c.stride, c.padding)
}

// Parameters returns the weight and bias.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// Export emits a Conv node.
func (c *Conv2D) Export(b *onnx.GraphBuilder, input string) string {
	k, s, p := int64(c.kernelSize), int64(c.stride), int64(c.padding)
	return b.AddNode("Conv", c.name,
		[]string{input, b.AddInitializer(c.weight.Name(), c.weight.Tensor()), b.AddInitializer(c.bias.Name(), c.bias.Tensor())},
		onnx.AttrInts("dilations", 1, 1),
		onnx.AttrInt("group", 1),
		onnx.AttrInts("kernel_shape", k, k),
		onnx.AttrInts("pads", p, p, p, p),
		onnx.AttrInts("strides", s, s),
	)
}

// String returns a string representation of the layer.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2d(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d))",
		c.inChannels, c.outChannels, c.kernelSize, c.kernelSize, c.stride, c.stride, c.padding, c.padding)
}

// Name returns the layer's state dict prefix.
func (c *Conv2D) Name() string {
	return c.name
}

// InChannels returns the number of input channels.
func (c *Conv2D) InChannels() int {
	return c.inChannels
}

// OutChannels returns the number of output channels.
func (c *Conv2D) OutChannels() int {
	return c.outChannels
}

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Parameter {
	return c.weight
}

// Bias returns the bias parameter.
func (c *Conv2D) Bias() *Parameter {
	return c.bias
}

// ComputeOutputSize computes output spatial dimensions for given input size.
//
// Returns: [out_height, out_width].
func (c *Conv2D) ComputeOutputSize(inputH, inputW int) [2]int {
	outH := (inputH+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputW+2*c.padding-c.kernelSize)/c.stride + 1
	return [2]int{outH, outW}
}
