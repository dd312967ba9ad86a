package cpu

import (
	"github.com/born-ml/modelexport/internal/tensor"
)

// ReLU applies max(0, x) element-wise and returns a new tensor.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("relu", x)
	out := newOutput("relu", x.Shape())
	dst := out.AsFloat32()
	for i, v := range x.AsFloat32() {
		if v > 0 {
			dst[i] = v
		}
	}
	return out
}

// LeakyReLU applies x for x >= 0 and slope*x otherwise.
func (cpu *CPUBackend) LeakyReLU(x *tensor.RawTensor, slope float32) *tensor.RawTensor {
	requireFloat32("leaky_relu", x)
	out := newOutput("leaky_relu", x.Shape())
	dst := out.AsFloat32()
	for i, v := range x.AsFloat32() {
		if v >= 0 {
			dst[i] = v
		} else {
			dst[i] = slope * v
		}
	}
	return out
}
