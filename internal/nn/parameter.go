package nn

import (
	"github.com/born-ml/modelexport/internal/tensor"
)

// Parameter represents a learned tensor of a layer.
//
// The name is the fully-qualified key the parameter has in a PyTorch state
// dict (e.g. "body.0.rdb1.conv1.weight"), fixed when the layer is built, so
// loading weights and naming graph initializers need no extra mapping.
//
// Example:
//
//	weight := nn.NewParameter("conv_first.weight", t)
//	w := weight.Tensor()
type Parameter struct {
	name   string            // State dict key
	tensor *tensor.RawTensor // The parameter tensor (float32)
}

// NewParameter creates a new parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Shape returns the parameter shape.
func (p *Parameter) Shape() tensor.Shape {
	return p.tensor.Shape()
}

// NumElements returns the number of scalars in the parameter.
func (p *Parameter) NumElements() int {
	return p.tensor.NumElements()
}
