package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/tensor"
)

// Add performs element-wise addition of two tensors of identical shape.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("add", a, b)
	if !a.Shape().Equal(b.Shape()) {
		exceptions.Panicf("add: shape mismatch %s vs %s", a.Shape(), b.Shape())
	}
	out := newOutput("add", a.Shape())
	dst := out.AsFloat32()
	bd := b.AsFloat32()
	for i, v := range a.AsFloat32() {
		dst[i] = v + bd[i]
	}
	return out
}

// Scale multiplies every element by s.
func (cpu *CPUBackend) Scale(a *tensor.RawTensor, s float32) *tensor.RawTensor {
	requireFloat32("scale", a)
	out := newOutput("scale", a.Shape())
	dst := out.AsFloat32()
	for i, v := range a.AsFloat32() {
		dst[i] = v * s
	}
	return out
}

// Mul multiplies element-wise. b must have a's shape or hold a single
// element, which is then broadcast.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("mul", a, b)
	if b.NumElements() == 1 {
		return cpu.Scale(a, b.AsFloat32()[0])
	}
	if !a.Shape().Equal(b.Shape()) {
		exceptions.Panicf("mul: shape mismatch %s vs %s", a.Shape(), b.Shape())
	}
	out := newOutput("mul", a.Shape())
	dst := out.AsFloat32()
	bd := b.AsFloat32()
	for i, v := range a.AsFloat32() {
		dst[i] = v * bd[i]
	}
	return out
}

// Concat joins NCHW (or any rank ≥ 2) tensors along axis 1.
// All other dimensions must agree.
func (cpu *CPUBackend) Concat(inputs ...*tensor.RawTensor) *tensor.RawTensor {
	if len(inputs) == 0 {
		exceptions.Panicf("concat: no inputs")
	}
	requireFloat32("concat", inputs...)

	first := inputs[0].Shape()
	if len(first) < 2 {
		exceptions.Panicf("concat: inputs must be at least 2D, got %s", first)
	}
	channels := 0
	for _, in := range inputs {
		s := in.Shape()
		if len(s) != len(first) || s[0] != first[0] {
			exceptions.Panicf("concat: shape %s incompatible with %s", s, first)
		}
		for d := 2; d < len(s); d++ {
			if s[d] != first[d] {
				exceptions.Panicf("concat: shape %s incompatible with %s", s, first)
			}
		}
		channels += s[1]
	}

	outShape := first.Clone()
	outShape[1] = channels
	out := newOutput("concat", outShape)
	dst := out.AsFloat32()

	inner := 1
	for _, d := range first[2:] {
		inner *= d
	}
	batch := first[0]
	offset := 0
	for n := 0; n < batch; n++ {
		for _, in := range inputs {
			block := in.Shape()[1] * inner
			src := in.AsFloat32()[n*block : (n+1)*block]
			copy(dst[offset:offset+block], src)
			offset += block
		}
	}
	return out
}
