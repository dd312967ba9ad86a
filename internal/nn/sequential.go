package nn

import (
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input. Parameter names are
// fixed by the layers themselves, so a Sequential adds no prefix; to mirror
// an nn.Sequential attribute such as "body", build the children with
// names "body.0", "body.1", and so on.
//
// Example:
//
//	features := nn.NewSequential(
//	    nn.NewConv2D("conv1", 1, 6, 5, 1, 0, rng, backend),
//	    nn.NewReLU("", backend),
//	    nn.NewMaxPool2D("pool", 2, 2, backend),
//	)
//	output := features.Forward(input)
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules: modules,
	}
}

// Forward applies all modules in sequence.
func (s *Sequential) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all modules, each once.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return dedupParameters(params)
}

// Export chains the modules' exports.
func (s *Sequential) Export(b *onnx.GraphBuilder, input string) string {
	output := input
	for _, module := range s.modules {
		output = module.Export(b, output)
	}
	return output
}

// Add appends a module to the sequence.
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules in the sequence.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index.
//
// Panics if index is out of bounds.
func (s *Sequential) Module(index int) Module {
	if index < 0 || index >= len(s.modules) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.modules[index]
}

// dedupParameters drops repeated parameters, keeping the first occurrence.
// A layer applied twice (a shared upsampling convolution) registers once.
func dedupParameters(params []*Parameter) []*Parameter {
	seen := make(map[*Parameter]bool, len(params))
	out := params[:0:0]
	for _, p := range params {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// CollectParameters concatenates the parameters of several modules, each
// parameter once. Networks use it to implement Parameters.
func CollectParameters(modules ...Module) []*Parameter {
	var params []*Parameter
	for _, m := range modules {
		params = append(params, m.Parameters()...)
	}
	return dedupParameters(params)
}
