// Package nn implements the layers the exported networks are built from.
//
// This package provides:
//   - Module interface: eager Forward plus graph Export for every component
//   - Parameter: a named tensor whose name matches the PyTorch state dict key
//   - Layers: Conv2D, ConvTranspose2D, Linear, MaxPool2D, ReLU, LeakyReLU,
//     Flatten, Upsample and the Sequential container
//   - StateDict / LoadStateDict: strict and non-strict weight loading
//
// Layers run on the CPU backend. Shape violations panic with an error value
// (see github.com/gomlx/exceptions); the exporter turns them back into
// errors.
package nn

import (
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential(
//	    nn.NewLinear("fc1", 400, 120, rng, backend),
//	    nn.NewReLU("", backend),
//	    nn.NewLinear("fc2", 120, 84, rng, backend),
//	)
type Module interface {
	// Forward computes the output of the module given an input tensor.
	// The input is never modified.
	Forward(input *tensor.RawTensor) *tensor.RawTensor

	// Parameters returns all parameters of this module, each once, in
	// registration order. Modules without weights return nil.
	Parameters() []*Parameter

	// Export appends the nodes computing this module to b, reading the
	// value named input, and returns the name of the produced value.
	Export(b *onnx.GraphBuilder, input string) string
}

// Mode records whether a network is in training or inference mode.
// None of the layers here behave differently between the two; the flag
// exists so exporters can insist on inference mode like PyTorch users do
// with model.eval().
type Mode struct {
	training bool
}

// Train switches training mode on or off.
func (m *Mode) Train(on bool) {
	m.training = on
}

// Eval switches to inference mode.
func (m *Mode) Eval() {
	m.training = false
}

// IsTraining reports whether the module is in training mode.
func (m *Mode) IsTraining() bool {
	return m.training
}

// Trainable is implemented by networks that carry a Mode.
type Trainable interface {
	Train(on bool)
	Eval()
	IsTraining() bool
}

// scoped joins a module name and a parameter name.
func scoped(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
