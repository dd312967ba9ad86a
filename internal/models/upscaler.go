package models

import (
	"math/rand"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// SimpleUpscaler is a plain convolutional 4x upscaler.
//
//	conv1 3→64, conv2 64→64, conv3 64→64 (3x3, padding 1), ReLU after each
//	upconv 64→64 (4x4, stride 2, padding 1), ReLU, applied twice with the
//	same weights: 2x then 4x
//	final 64→3 (3x3, padding 1)
//
// The shared upconv has a single set of parameters and is stored once in
// the exported graph.
type SimpleUpscaler struct {
	nn.Mode

	conv1  *nn.Conv2D
	conv2  *nn.Conv2D
	conv3  *nn.Conv2D
	upconv *nn.ConvTranspose2D
	final  *nn.Conv2D
	act    *nn.ReLU
}

// NewSimpleUpscaler creates the upscaler in training mode.
func NewSimpleUpscaler(rng *rand.Rand, backend *cpu.CPUBackend) *SimpleUpscaler {
	m := &SimpleUpscaler{
		conv1:  nn.NewConv2D("conv1", 3, 64, 3, 1, 1, rng, backend),
		conv2:  nn.NewConv2D("conv2", 64, 64, 3, 1, 1, rng, backend),
		conv3:  nn.NewConv2D("conv3", 64, 64, 3, 1, 1, rng, backend),
		upconv: nn.NewConvTranspose2D("upconv", 64, 64, 4, 2, 1, rng, backend),
		final:  nn.NewConv2D("final", 64, 3, 3, 1, 1, rng, backend),
		act:    nn.NewReLU("act", backend),
	}
	m.Train(true)
	return m
}

// Architecture implements Network.
func (m *SimpleUpscaler) Architecture() string {
	return ArchUpscaler
}

// InputShape implements Network: an RGB image of the given side.
func (m *SimpleUpscaler) InputShape(size int) tensor.Shape {
	return tensor.Shape{1, 3, size, size}
}

// Forward upsamples [batch, 3, H, W] to [batch, 3, 4H, 4W].
func (m *SimpleUpscaler) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	x := m.act.Forward(m.conv1.Forward(input))
	x = m.act.Forward(m.conv2.Forward(x))
	x = m.act.Forward(m.conv3.Forward(x))
	x = m.act.Forward(m.upconv.Forward(x))
	x = m.act.Forward(m.upconv.Forward(x))
	return m.final.Forward(x)
}

// Parameters returns all parameters; upconv appears once.
func (m *SimpleUpscaler) Parameters() []*nn.Parameter {
	return nn.CollectParameters(m.conv1, m.conv2, m.conv3, m.upconv, m.final)
}

// Export emits the upscaler graph.
func (m *SimpleUpscaler) Export(b *onnx.GraphBuilder, input string) string {
	x := m.act.Export(b, m.conv1.Export(b, input))
	x = m.act.Export(b, m.conv2.Export(b, x))
	x = m.act.Export(b, m.conv3.Export(b, x))
	x = m.act.Export(b, m.upconv.Export(b, x))
	x = m.act.Export(b, m.upconv.Export(b, x))
	return m.final.Export(b, x)
}
