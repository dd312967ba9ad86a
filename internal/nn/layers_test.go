package nn

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

func mustTensor(t *testing.T, shape tensor.Shape, vals []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(shape, vals)
	require.NoError(t, err)
	return r
}

func TestConvTranspose2D(t *testing.T) {
	up := NewConvTranspose2D("upconv", 4, 4, 4, 2, 1, newRNG(), cpu.New())

	params := up.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, "upconv.weight", params[0].Name())
	assert.True(t, params[0].Shape().Equal(tensor.Shape{4, 4, 4, 4}))

	out := up.Forward(tensor.Zeros(tensor.Shape{1, 4, 5, 6}))
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 4, 10, 12}))

	err := exceptions.TryCatch[error](func() { up.Forward(tensor.Zeros(tensor.Shape{1, 3, 5, 5})) })
	assert.Error(t, err)
}

func TestLinear(t *testing.T) {
	fc := NewLinear("fc1", 400, 120, newRNG(), cpu.New())
	assert.Equal(t, 400, fc.InFeatures())
	assert.Equal(t, 120, fc.OutFeatures())

	out := fc.Forward(tensor.Zeros(tensor.Shape{3, 400}))
	assert.True(t, out.Shape().Equal(tensor.Shape{3, 120}))

	err := exceptions.TryCatch[error](func() { fc.Forward(tensor.Zeros(tensor.Shape{1, 10})) })
	assert.ErrorContains(t, err, "input features 10")
}

func TestActivations(t *testing.T) {
	backend := cpu.New()
	x := mustTensor(t, tensor.Shape{4}, []float32{-2, -0.5, 0, 3})

	assert.Equal(t, []float32{0, 0, 0, 3}, NewReLU("", backend).Forward(x).AsFloat32())
	assert.InDeltaSlice(t, []float32{-0.4, -0.1, 0, 3}, NewLeakyReLU("", 0.2, backend).Forward(x).AsFloat32(), 1e-6)
	assert.Nil(t, NewReLU("", backend).Parameters())
	assert.Equal(t, "LeakyReLU(negative_slope=0.2)", NewLeakyReLU("", 0.2, backend).String())
}

func TestMaxPoolFlatten(t *testing.T) {
	backend := cpu.New()
	pool := NewMaxPool2D("pool", 2, 2, backend)
	out := pool.Forward(tensor.Zeros(tensor.Shape{1, 16, 10, 10}))
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 16, 5, 5}))

	flat := NewFlatten("").Forward(out)
	assert.True(t, flat.Shape().Equal(tensor.Shape{1, 400}))
	// Input keeps its shape.
	assert.True(t, out.Shape().Equal(tensor.Shape{1, 16, 5, 5}))
}

func TestUpsampleExport(t *testing.T) {
	backend := cpu.New()
	up := NewUpsample("", 2, backend)
	x := mustTensor(t, tensor.Shape{1, 1, 1, 2}, []float32{1, 2})
	assert.Equal(t, []float32{1, 1, 2, 2, 1, 1, 2, 2}, up.Forward(x).AsFloat32())

	b := onnx.NewGraphBuilder("g")
	in := b.AddInput("input", onnx.TensorProtoFloat, onnx.FixedDims(1, 1, 1, 2))
	first := up.Export(b, in)
	up.Export(b, first)

	g := b.Graph()
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "Resize", g.Nodes[0].OpType)
	assert.Equal(t, "/Resize_1", g.Nodes[1].Name)
	// roi and scales are shared by both nodes.
	assert.Len(t, g.Initializers, 2)
}

func TestSequential(t *testing.T) {
	backend := cpu.New()
	rng := newRNG()
	shared := NewLinear("shared", 4, 4, rng, backend)
	seq := NewSequential(
		NewLinear("fc1", 3, 4, rng, backend),
		NewReLU("", backend),
		shared,
		shared,
	)
	assert.Equal(t, 4, seq.Len())
	assert.Same(t, shared, seq.Module(2))

	params := seq.Parameters()
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name()
	}
	assert.Equal(t, []string{"fc1.weight", "fc1.bias", "shared.weight", "shared.bias"}, names)
	assert.Equal(t, 3*4+4+4*4+4, ParameterCount(seq))

	out := seq.Forward(tensor.Zeros(tensor.Shape{2, 3}))
	assert.True(t, out.Shape().Equal(tensor.Shape{2, 4}))

	b := onnx.NewGraphBuilder("g")
	in := b.AddInput("input", onnx.TensorProtoFloat, onnx.FixedDims(2, 3))
	seq.Export(b, in)
	assert.Equal(t, 4, b.NumNodes())
	assert.Equal(t, 4, b.NumInitializers())

	assert.Panics(t, func() { seq.Module(9) })
}

func TestMode(t *testing.T) {
	var m Mode
	assert.False(t, m.IsTraining())
	m.Train(true)
	assert.True(t, m.IsTraining())
	m.Eval()
	assert.False(t, m.IsTraining())
}
