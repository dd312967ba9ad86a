package onnx

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/tensor"
)

func TestLoadAndForward(t *testing.T) {
	data, err := Marshal(buildReluModel(t))
	require.NoError(t, err)

	model, err := LoadFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"input"}, model.InputNames())
	assert.Equal(t, []string{"output"}, model.OutputNames())
	assert.Equal(t, int64(11), model.OpsetVersion())
	assert.Equal(t, "modelexport", model.Metadata()["producer_name"])

	input, err := tensor.FromFloat32(tensor.Shape{1, 1, 3, 3}, []float32{0, 1, 2, 0.25, 0.5, 0.75, -1, -2, 3})
	require.NoError(t, err)
	out, err := model.Forward(input)
	require.NoError(t, err)
	// relu(2x - 1)
	assert.Equal(t, []float32{0, 1, 3, 0, 0, 0.5, 0, 0, 5}, out.AsFloat32())
}

// TestResizeGraphMatchesKernels runs an upscaling block through the
// interpreter and through the kernels directly.
func TestResizeGraphMatchesKernels(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	weight := tensor.Randn(tensor.Shape{2, 2, 3, 3}, rng)
	bias := tensor.Randn(tensor.Shape{2}, rng)

	b := NewGraphBuilder("up")
	in := b.AddInput("input", TensorProtoFloat, FixedDims(1, 2, 4, 4))
	roi := b.AddEmptyInitializer("roi")
	scales := b.Floats("scales", []float32{1, 1, 2, 2})
	up := b.AddNode("Resize", "", []string{in, roi, scales},
		AttrString("coordinate_transformation_mode", "asymmetric"),
		AttrString("mode", "nearest"),
		AttrString("nearest_mode", "floor"))
	conv := b.AddNode("Conv", "conv_up1", []string{up, b.AddInitializer("conv_up1.weight", weight), b.AddInitializer("conv_up1.bias", bias)},
		AttrInts("kernel_shape", 3, 3), AttrInts("pads", 1, 1, 1, 1), AttrInts("strides", 1, 1))
	act := b.AddNode("LeakyRelu", "lrelu", []string{conv}, AttrFloat("alpha", 0.2))
	scaled := b.AddNode("Mul", "", []string{act, b.Scalar(0.2)})
	sum := b.AddNode("Add", "", []string{scaled, up})
	b.AddOutput(sum, TensorProtoFloat, FixedDims(1, 2, 8, 8))

	path := filepath.Join(t.TempDir(), "up.onnx")
	_, err := WriteFile(path, b.Model(ModelOptions{Opset: 11}))
	require.NoError(t, err)
	model, err := Load(path)
	require.NoError(t, err)

	x := tensor.Randn(tensor.Shape{1, 2, 4, 4}, rng)
	got, err := model.Forward(x)
	require.NoError(t, err)

	k := cpu.New()
	upX := k.UpsampleNearest(x, 2)
	want := k.Add(k.Scale(k.LeakyReLU(k.Conv2D(upX, weight, bias, 1, 1), 0.2), 0.2), upX)
	diff, err := tensor.MaxAbsDiff(got, want)
	require.NoError(t, err)
	assert.Less(t, diff, 1e-6)
}

func TestLoadStrictRejectsUnsupported(t *testing.T) {
	b := NewGraphBuilder("g")
	in := b.AddInput("input", TensorProtoFloat, FixedDims(1))
	out := b.AddNode("Softmax", "", []string{in})
	b.AddOutput(out, TensorProtoFloat, FixedDims(1))

	_, err := LoadFromProto(b.Model(ModelOptions{Opset: 11}), DefaultLoadOptions())
	assert.ErrorContains(t, err, "Softmax")
}

func TestForwardKernelErrorIsReturned(t *testing.T) {
	data, err := Marshal(buildReluModel(t))
	require.NoError(t, err)
	model, err := LoadFromBytes(data)
	require.NoError(t, err)

	// Two channels against a one-channel kernel.
	_, err = model.Forward(tensor.Zeros(tensor.Shape{1, 2, 3, 3}))
	assert.ErrorContains(t, err, "/conv/Conv")
}

func TestTopologicalSort(t *testing.T) {
	nodes := []NodeProto{
		{Name: "c", Inputs: []string{"b"}, Outputs: []string{"c"}},
		{Name: "b", Inputs: []string{"a"}, Outputs: []string{"b"}},
		{Name: "a", Inputs: []string{"x"}, Outputs: []string{"a"}},
	}
	sorted := topologicalSort(nodes)
	names := make([]string, len(sorted))
	for i := range sorted {
		names[i] = sorted[i].Name
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.onnx")
	_, err := WriteFile(path, buildReluModel(t))
	require.NoError(t, err)

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.IRVersion)
	assert.Equal(t, int64(11), info.OpsetVersion)
	assert.Equal(t, []string{"input"}, info.InputNames())
	assert.Equal(t, []string{"output"}, info.OutputNames())
	assert.Equal(t, []string{"batch_size", "1", "3", "3"}, info.Inputs[0].Dims)
	assert.Equal(t, "input [batch_size×1×3×3]", info.Inputs[0].String())
	assert.Equal(t, 2, info.NodeCount)
	assert.Equal(t, 2, info.WeightCount)
	assert.Equal(t, int64(2), info.ParameterCount)
	assert.Equal(t, int64(8), info.ParameterBytes)
	assert.Equal(t, []string{"Conv", "Relu"}, info.Ops())
	assert.Equal(t, "1", info.Metadata["a"])
}
