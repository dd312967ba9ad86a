package operators

import (
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/tensor"
)

// OpHandler processes an ONNX node and returns output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context provides the backend operators execute on.
type Context struct {
	Backend *cpu.CPUBackend
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a new operator registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerMathOps()
	r.registerActivations()
	r.registerNNOps()
	r.registerShapeOps()
	r.registerUtilityOps()

	return r
}

// Register adds a custom operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs. Kernel panics are
// returned as errors.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, errors.Errorf("unsupported operator: %s", node.OpType)
	}
	var (
		outputs []*tensor.RawTensor
		err     error
	)
	if panicked := exceptions.TryCatch[error](func() { outputs, err = handler(ctx, node, inputs) }); panicked != nil {
		return nil, panicked
	}
	return outputs, err
}

// SupportedOps returns the sorted list of supported operator types.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func single(t *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{t}
}

// requireInputs checks the number of present inputs.
func requireInputs(node *Node, inputs []*tensor.RawTensor, min, max int) error {
	if len(inputs) < min || len(inputs) > max {
		if min == max {
			return errors.Errorf("%s requires %d inputs, got %d", node.OpType, min, len(inputs))
		}
		return errors.Errorf("%s requires %d to %d inputs, got %d", node.OpType, min, max, len(inputs))
	}
	for i := 0; i < min; i++ {
		if inputs[i] == nil {
			return errors.Errorf("%s: required input %d is missing", node.OpType, i)
		}
	}
	return nil
}

// optional returns inputs[i] or nil when absent.
func optional(inputs []*tensor.RawTensor, i int) *tensor.RawTensor {
	if i < len(inputs) {
		return inputs[i]
	}
	return nil
}
