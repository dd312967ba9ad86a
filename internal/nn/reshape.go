package nn

import (
	"fmt"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Flatten collapses all dimensions after the batch axis:
// [N, C, H, W] -> [N, C*H*W].
type Flatten struct {
	name string
}

// NewFlatten creates a Flatten module.
func NewFlatten(name string) *Flatten {
	return &Flatten{name: name}
}

// Forward returns a flattened copy of input.
func (f *Flatten) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	shape := input.Shape()
	if len(shape) < 2 {
		exceptions.Panicf("flatten %s: expected at least 2D input, got %s", f.name, shape)
	}
	out, err := input.Clone().Reshape(tensor.Shape{shape[0], tensor.Shape(shape[1:]).NumElements()})
	if err != nil {
		panic(err)
	}
	return out
}

// Parameters returns nil.
func (f *Flatten) Parameters() []*Parameter {
	return nil
}

// Export emits a Flatten node with axis=1.
func (f *Flatten) Export(b *onnx.GraphBuilder, input string) string {
	return b.AddNode("Flatten", f.name, []string{input}, onnx.AttrInt("axis", 1))
}

// Upsample resizes by an integer factor with nearest-neighbour sampling,
// the F.interpolate(x, scale_factor=2, mode="nearest") of the upsampling
// stages.
type Upsample struct {
	name    string
	factor  int
	backend *cpu.CPUBackend
}

// NewUpsample creates a nearest-neighbour upsampling module.
func NewUpsample(name string, factor int, backend *cpu.CPUBackend) *Upsample {
	if factor <= 0 {
		exceptions.Panicf("upsample %s: invalid factor %d", name, factor)
	}
	return &Upsample{name: name, factor: factor, backend: backend}
}

// Forward performs the upsampling.
func (u *Upsample) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	return u.backend.UpsampleNearest(input, u.factor)
}

// Parameters returns nil.
func (u *Upsample) Parameters() []*Parameter {
	return nil
}

// Export emits an opset-11 Resize node. Its roi and scales inputs are
// shared initializers.
func (u *Upsample) Export(b *onnx.GraphBuilder, input string) string {
	f := float32(u.factor)
	roi := b.AddEmptyInitializer("onnx::Resize_roi")
	scales := b.Floats(fmt.Sprintf("onnx::Resize_scales_x%d", u.factor), []float32{1, 1, f, f})
	return b.AddNode("Resize", u.name, []string{input, roi, scales},
		onnx.AttrString("coordinate_transformation_mode", "asymmetric"),
		onnx.AttrFloat("cubic_coeff_a", -0.75),
		onnx.AttrString("mode", "nearest"),
		onnx.AttrString("nearest_mode", "floor"),
	)
}
