package nn

import (
	"fmt"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
//
// Example:
//
//	relu := nn.NewReLU("", backend)
//	output := relu.Forward(input) // All negative values become 0
type ReLU struct {
	name    string
	backend *cpu.CPUBackend
}

// NewReLU creates a new ReLU activation module. name only scopes the
// exported node and may be empty.
func NewReLU(name string, backend *cpu.CPUBackend) *ReLU {
	return &ReLU{name: name, backend: backend}
}

// Forward applies ReLU activation: f(x) = max(0, x).
func (r *ReLU) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	return r.backend.ReLU(input)
}

// Parameters returns nil (ReLU has no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return nil
}

// Export emits a Relu node.
func (r *ReLU) Export(b *onnx.GraphBuilder, input string) string {
	return b.AddNode("Relu", r.name, []string{input})
}

// String returns a string representation of the layer.
func (r *ReLU) String() string {
	return "ReLU()"
}

// LeakyReLU applies f(x) = x for x > 0 and slope*x otherwise.
type LeakyReLU struct {
	name    string
	slope   float32
	backend *cpu.CPUBackend
}

// NewLeakyReLU creates a LeakyReLU with the given negative slope.
func NewLeakyReLU(name string, slope float32, backend *cpu.CPUBackend) *LeakyReLU {
	return &LeakyReLU{name: name, slope: slope, backend: backend}
}

// Forward applies the activation.
func (l *LeakyReLU) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	return l.backend.LeakyReLU(input, l.slope)
}

// Parameters returns nil.
func (l *LeakyReLU) Parameters() []*Parameter {
	return nil
}

// Export emits a LeakyRelu node.
func (l *LeakyReLU) Export(b *onnx.GraphBuilder, input string) string {
	return b.AddNode("LeakyRelu", l.name, []string{input}, onnx.AttrFloat("alpha", l.slope))
}

// String returns a string representation of the layer.
func (l *LeakyReLU) String() string {
	return fmt.Sprintf("LeakyReLU(negative_slope=%g)", l.slope)
}
