// Package cpu implements the float32 CPU kernels behind the nn layers and
// the ONNX graph interpreter.
//
// Kernels validate their inputs and panic with an error value on shape
// violations; callers that need an error return recover them with
// exceptions.TryCatch.
package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/parallel"
	"github.com/born-ml/modelexport/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	par parallel.Config
}

// New creates a new CPU backend that spreads work over all CPUs.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// newOutput allocates a zeroed float32 result tensor.
func newOutput(op string, shape tensor.Shape) *tensor.RawTensor {
	out, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		exceptions.Panicf("%s: failed to create output tensor: %v", op, err)
	}
	return out
}

// requireFloat32 panics unless every tensor is float32.
func requireFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t != nil && t.DType() != tensor.Float32 {
			exceptions.Panicf("%s: unsupported dtype %s", op, t.DType())
		}
	}
}

// requireRank panics unless t has the given rank.
func requireRank(op, what string, t *tensor.RawTensor, rank int) {
	if len(t.Shape()) != rank {
		exceptions.Panicf("%s: %s must be %dD, got %dD %s", op, what, rank, len(t.Shape()), t.Shape())
	}
}
