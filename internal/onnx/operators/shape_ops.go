package operators

import (
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Concat", handleConcat)
	r.Register("Flatten", handleFlatten)
}

func handleConcat(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) == 0 {
		return nil, errors.New("Concat requires at least 1 input")
	}
	rank := int64(len(inputs[0].Shape()))
	axis := GetAttrInt(node, "axis", 1)
	if axis < 0 {
		axis += rank
	}
	if axis != 1 {
		return nil, errors.Errorf("Concat: only axis 1 is supported, got %d", GetAttrInt(node, "axis", 1))
	}
	return single(ctx.Backend.Concat(inputs...)), nil
}

func handleFlatten(_ *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, errors.Errorf("Flatten: axis %d out of range for %s", axis, shape)
	}
	outer := tensor.Shape(shape[:axis]).NumElements()
	inner := tensor.Shape(shape[axis:]).NumElements()
	result, err := inputs[0].Clone().Reshape(tensor.Shape{outer, inner})
	if err != nil {
		return nil, errors.Wrap(err, "Flatten")
	}
	return single(result), nil
}
