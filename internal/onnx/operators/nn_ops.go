package operators

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// registerNNOps adds convolution, pooling and resize operators.
func (r *Registry) registerNNOps() {
	r.Register("Conv", handleConv)
	r.Register("ConvTranspose", handleConvTranspose)
	r.Register("MaxPool", handleMaxPool)
	r.Register("Resize", handleResize)
	r.Register("Upsample", handleResize)
}

// square2D extracts a value that must be equal on both spatial axes.
func square2D(node *Node, name string, values []int64, defaultVal int) (int, error) {
	if len(values) == 0 {
		return defaultVal, nil
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return 0, errors.Errorf("%s: only symmetric %s are supported, got %v", node.OpType, name, values)
		}
	}
	return int(values[0]), nil
}

// convParams reads the attributes shared by Conv and ConvTranspose.
func convParams(node *Node) (stride, padding int, err error) {
	if group := GetAttrInt(node, "group", 1); group != 1 {
		return 0, 0, errors.Errorf("%s: group=%d is not supported", node.OpType, group)
	}
	dilation, err := square2D(node, "dilations", GetAttrInts(node, "dilations"), 1)
	if err != nil {
		return 0, 0, err
	}
	if dilation != 1 {
		return 0, 0, errors.Errorf("%s: dilation %d is not supported", node.OpType, dilation)
	}
	if autoPad := GetAttrString(node, "auto_pad", "NOTSET"); autoPad != "NOTSET" {
		return 0, 0, errors.Errorf("%s: auto_pad=%s is not supported", node.OpType, autoPad)
	}
	if stride, err = square2D(node, "strides", GetAttrInts(node, "strides"), 1); err != nil {
		return 0, 0, err
	}
	if padding, err = square2D(node, "pads", GetAttrInts(node, "pads"), 0); err != nil {
		return 0, 0, err
	}
	return stride, padding, nil
}

func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 2, 3); err != nil {
		return nil, err
	}
	stride, padding, err := convParams(node)
	if err != nil {
		return nil, err
	}
	return single(ctx.Backend.Conv2D(inputs[0], inputs[1], optional(inputs, 2), stride, padding)), nil
}

func handleConvTranspose(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 2, 3); err != nil {
		return nil, err
	}
	stride, padding, err := convParams(node)
	if err != nil {
		return nil, err
	}
	for _, p := range GetAttrInts(node, "output_padding") {
		if p != 0 {
			return nil, errors.Errorf("ConvTranspose: output_padding %v is not supported", GetAttrInts(node, "output_padding"))
		}
	}
	if len(GetAttrInts(node, "output_shape")) > 0 {
		return nil, errors.New("ConvTranspose: output_shape is not supported")
	}
	return single(ctx.Backend.ConvTranspose2D(inputs[0], inputs[1], optional(inputs, 2), stride, padding)), nil
}

func handleMaxPool(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 1, 1); err != nil {
		return nil, err
	}
	if len(node.Outputs) > 1 {
		return nil, errors.New("MaxPool: the indices output is not supported")
	}
	kernel, err := square2D(node, "kernel_shape", GetAttrInts(node, "kernel_shape"), 0)
	if err != nil {
		return nil, err
	}
	if kernel <= 0 {
		return nil, errors.New("MaxPool: kernel_shape is required")
	}
	stride, err := square2D(node, "strides", GetAttrInts(node, "strides"), 1)
	if err != nil {
		return nil, err
	}
	for _, p := range GetAttrInts(node, "pads") {
		if p != 0 {
			return nil, errors.Errorf("MaxPool: pads %v are not supported", GetAttrInts(node, "pads"))
		}
	}
	if GetAttrInt(node, "ceil_mode", 0) != 0 {
		return nil, errors.New("MaxPool: ceil_mode is not supported")
	}
	return single(ctx.Backend.MaxPool2D(inputs[0], kernel, stride)), nil
}

// handleResize implements nearest-neighbour resizing by an integer factor
// equal on both spatial axes, which covers Resize (opset 11+, scales as
// input 2 or sizes as input 3) and the older Upsample (scales as input 1).
func handleResize(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 1, 4); err != nil {
		return nil, err
	}
	if mode := GetAttrString(node, "mode", "nearest"); mode != "nearest" {
		return nil, errors.Errorf("%s: mode %q is not supported", node.OpType, mode)
	}
	x := inputs[0]
	if len(x.Shape()) != 4 {
		return nil, errors.Errorf("%s: input must be 4D, got %s", node.OpType, x.Shape())
	}

	var scales []float32
	scalesIdx := 2
	if node.OpType == "Upsample" {
		scalesIdx = 1
	}
	if s := optional(inputs, scalesIdx); s != nil && s.NumElements() > 0 {
		f, err := s.ToFloat32()
		if err != nil {
			return nil, err
		}
		scales = f.AsFloat32()
	} else if sizes := optional(inputs, 3); sizes != nil && sizes.NumElements() > 0 {
		if sizes.DType() != tensor.Int64 {
			return nil, errors.Errorf("%s: sizes must be int64, got %s", node.OpType, sizes.DType())
		}
		for i, v := range sizes.AsInt64() {
			scales = append(scales, float32(v)/float32(x.Shape()[i]))
		}
	}
	if len(scales) != 4 {
		return nil, errors.Errorf("%s: expected 4 scales, got %v", node.OpType, scales)
	}
	if scales[0] != 1 || scales[1] != 1 || scales[2] != scales[3] {
		return nil, errors.Errorf("%s: only equal spatial scales are supported, got %v", node.OpType, scales)
	}
	factor := scales[2]
	if factor < 1 || factor != float32(math.Trunc(float64(factor))) {
		return nil, errors.Errorf("%s: non-integer scale %g is not supported", node.OpType, factor)
	}
	return single(ctx.Backend.UpsampleNearest(x, int(factor))), nil
}
