package onnx

import (
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx/operators"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// StrictMode fails on unsupported operators at load time instead of
	// at the first Forward call that reaches them.
	StrictMode bool

	// CustomOps provides custom operator handlers.
	CustomOps map[string]operators.OpHandler

	// Backend runs the kernels; nil selects cpu.New().
	Backend *cpu.CPUBackend
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{StrictMode: true}
}

// Load loads an ONNX model from file and prepares it for inference.
//
// Example:
//
//	model, err := onnx.Load("upscaler.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	output, err := model.Forward(input)
func Load(path string, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}

	return LoadFromProto(proto, opt)
}

// LoadFromBytes loads an ONNX model from bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return LoadFromProto(proto, opt)
}

// LoadFromProto loads a model from parsed ModelProto.
func LoadFromProto(proto *ModelProto, opt LoadOptions) (*Model, error) {
	registry := operators.NewRegistry()
	for opType, handler := range opt.CustomOps {
		registry.Register(opType, handler)
	}

	if opt.StrictMode {
		if err := validateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	backend := opt.Backend
	if backend == nil {
		backend = cpu.New()
	}
	model := &Model{
		proto:    proto,
		registry: registry,
		backend:  backend,
	}

	if err := model.compile(); err != nil {
		return nil, errors.Wrap(err, "failed to compile model")
	}

	return model, nil
}

// validateOperators checks that all operators are supported.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return errors.New("model has no graph")
	}

	var unsupported []string
	seen := make(map[string]bool)
	for i := range graph.Nodes {
		op := graph.Nodes[i].OpType
		if _, ok := registry.Get(op); !ok && !seen[op] {
			seen[op] = true
			unsupported = append(unsupported, op)
		}
	}

	if len(unsupported) > 0 {
		return errors.Errorf("unsupported operators: %v", unsupported)
	}

	return nil
}

// ListSupportedOps returns all supported ONNX operators.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
