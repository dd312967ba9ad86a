package nn

import (
	"fmt"
	"math/rand"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [batch_size, out_features]
//
// Example:
//
//	layer := nn.NewLinear("fc1", 400, 120, rng, backend)
//	output := layer.Forward(input) // [batch, 120]
type Linear struct {
	name        string
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features]
	backend     *cpu.CPUBackend
}

// NewLinear creates a new Linear layer with PyTorch's default
// initialization.
func NewLinear(name string, inFeatures, outFeatures int, rng *rand.Rand, backend *cpu.CPUBackend) *Linear {
	if inFeatures <= 0 || outFeatures <= 0 {
		exceptions.Panicf("linear %s: invalid features in=%d, out=%d", name, inFeatures, outFeatures)
	}
	weight := KaimingUniform(tensor.Shape{outFeatures, inFeatures}, inFeatures, rng)
	bias := KaimingUniform(tensor.Shape{outFeatures}, inFeatures, rng)

	return &Linear{
		name:        name,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(scoped(name, "weight"), weight),
		bias:        NewParameter(scoped(name, "bias"), bias),
		backend:     backend,
	}
}

// Forward computes the output of the linear layer.
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features].
func (l *Linear) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 2 {
		exceptions.Panicf("linear %s: expected 2D input [batch, features], got %s", l.name, inputShape)
	}
	if inputShape[1] != l.inFeatures {
		exceptions.Panicf("linear %s: input features %d != expected %d", l.name, inputShape[1], l.inFeatures)
	}
	return l.backend.Linear(input, l.weight.Tensor(), l.bias.Tensor())
}

// Parameters returns the weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Export emits a Gemm node with transB=1.
func (l *Linear) Export(b *onnx.GraphBuilder, input string) string {
	return b.AddNode("Gemm", l.name,
		[]string{input, b.AddInitializer(l.weight.Name(), l.weight.Tensor()), b.AddInitializer(l.bias.Name(), l.bias.Tensor())},
		onnx.AttrFloat("alpha", 1),
		onnx.AttrFloat("beta", 1),
		onnx.AttrInt("transB", 1),
	)
}

// String returns a string representation of the layer.
func (l *Linear) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d, bias=True)", l.inFeatures, l.outFeatures)
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}
