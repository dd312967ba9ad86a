package nn

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// MaxPool2D is a 2D max pooling layer.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height - kernelSize) / stride + 1
//	out_width = (width - kernelSize) / stride + 1
//
// Example:
//
//	pool := nn.NewMaxPool2D("pool", 2, 2, backend)
//	output := pool.Forward(input) // [1, 6, 14, 14] for a [1, 6, 28, 28] input
type MaxPool2D struct {
	name       string
	kernelSize int
	stride     int
	backend    *cpu.CPUBackend
}

// NewMaxPool2D creates a new 2D max pooling layer. name only scopes the
// exported node.
func NewMaxPool2D(name string, kernelSize, stride int, backend *cpu.CPUBackend) *MaxPool2D {
	if kernelSize <= 0 || stride <= 0 {
		exceptions.Panicf("maxpool2d %s: invalid kernel=%d stride=%d", name, kernelSize, stride)
	}
	return &MaxPool2D{
		name:       name,
		kernelSize: kernelSize,
		stride:     stride,
		backend:    backend,
	}
}

// Forward performs max pooling.
func (m *MaxPool2D) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	return m.backend.MaxPool2D(input, m.kernelSize, m.stride)
}

// Parameters returns nil (MaxPool2D has no learnable parameters).
func (m *MaxPool2D) Parameters() []*Parameter {
	return nil
}

// Export emits a MaxPool node.
func (m *MaxPool2D) Export(b *onnx.GraphBuilder, input string) string {
	k, s := int64(m.kernelSize), int64(m.stride)
	return b.AddNode("MaxPool", m.name, []string{input},
		onnx.AttrInt("ceil_mode", 0),
		onnx.AttrInts("kernel_shape", k, k),
		onnx.AttrInts("pads", 0, 0, 0, 0),
		onnx.AttrInts("strides", s, s),
	)
}

// String returns a string representation of the layer.
func (m *MaxPool2D) String() string {
	return fmt.Sprintf("MaxPool2d(kernel_size=%d, stride=%d)", m.kernelSize, m.stride)
}
