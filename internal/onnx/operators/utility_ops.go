package operators

import (
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// registerUtilityOps adds pass-through and constant operators.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Dropout", handleDropout)
	r.Register("Constant", handleConstant)
}

func handleIdentity(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	return single(inputs[0]), nil
}

// handleDropout is the identity in inference mode.
func handleDropout(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 1, 3); err != nil {
		return nil, err
	}
	return single(inputs[0]), nil
}

func handleConstant(_ *Context, node *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if a := node.attr("value"); a != nil && a.T != nil {
		return single(a.T), nil
	}
	if a := node.attr("value_float"); a != nil {
		return single(tensor.Full(tensor.Shape{}, a.F)), nil
	}
	if a := node.attr("value_floats"); a != nil {
		t, err := tensor.FromFloat32(tensor.Shape{len(a.Floats)}, a.Floats)
		if err != nil {
			return nil, err
		}
		return single(t), nil
	}
	return nil, errors.New("Constant: only value, value_float and value_floats are supported")
}
