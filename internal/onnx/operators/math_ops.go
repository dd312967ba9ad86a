package operators

import (
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// registerMathOps adds math operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register("Add", handleAdd)
	r.Register("Mul", handleMul)
	r.Register("Gemm", handleGemm)
}

func handleAdd(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 2, 2); err != nil {
		return nil, err
	}
	return single(ctx.Backend.Add(inputs[0], inputs[1])), nil
}

func handleMul(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 2, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if a.NumElements() == 1 && b.NumElements() != 1 {
		a, b = b, a
	}
	return single(ctx.Backend.Mul(a, b)), nil
}

// handleGemm computes alpha*A·B + beta*C for the fully-connected form:
// A is [M, K], B is [N, K] with transB=1 (or [K, N] with transB=0), C is
// [N] or absent.
func handleGemm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs(node, inputs, 2, 3); err != nil {
		return nil, err
	}
	if GetAttrInt(node, "transA", 0) != 0 {
		return nil, errors.New("Gemm: transA=1 is not supported")
	}
	alpha := GetAttrFloat(node, "alpha", 1)
	beta := GetAttrFloat(node, "beta", 1)

	weight := inputs[1]
	if len(weight.Shape()) != 2 {
		return nil, errors.Errorf("Gemm: B must be 2D, got %s", weight.Shape())
	}
	if GetAttrInt(node, "transB", 0) == 0 {
		weight = transpose2D(weight)
	}
	bias := optional(inputs, 2)
	if bias != nil && beta != 1 {
		bias = ctx.Backend.Scale(bias, beta)
	}
	if alpha != 1 {
		if bias != nil {
			// alpha*A·B + b == alpha*(A·B + b/alpha)
			bias = ctx.Backend.Scale(bias, 1/alpha)
		}
		return single(ctx.Backend.Scale(ctx.Backend.Linear(inputs[0], weight, bias), alpha)), nil
	}
	return single(ctx.Backend.Linear(inputs[0], weight, bias)), nil
}

// transpose2D returns a transposed copy of a float32 matrix.
func transpose2D(m *tensor.RawTensor) *tensor.RawTensor {
	s := m.Shape()
	rows, cols := s[0], s[1]
	out := tensor.Zeros(tensor.Shape{cols, rows})
	src, dst := m.AsFloat32(), out.AsFloat32()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst[c*rows+r] = src[r*cols+c]
		}
	}
	return out
}
