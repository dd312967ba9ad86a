package operators

import "github.com/born-ml/modelexport/internal/tensor"

// registerActivations adds activation operators to the registry.
func (r *Registry) registerActivations() {
	r.Register("Relu", handleRelu)
	r.Register("LeakyRelu", handleLeakyRelu)
}

func handleRelu(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(ctx.Backend.ReLU(inputs[0])), nil
}

func handleLeakyRelu(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	alpha := GetAttrFloat(node, "alpha", 0.01)
	return single(ctx.Backend.LeakyReLU(inputs[0], alpha)), nil
}
