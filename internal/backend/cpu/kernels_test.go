package cpu

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/tensor"
)

func TestConvTranspose2D_Stride2(t *testing.T) {
	backend := New()

	// 1x1 -> 1x1 channel, 2x2 kernel of ones, stride 2: each input pixel
	// becomes a non-overlapping 2x2 block.
	input := mustTensor(t, tensor.Shape{1, 1, 2, 2}, []float32{1, 2, 3, 4})
	kernel := tensor.Full(tensor.Shape{1, 1, 2, 2}, 1)

	output := backend.ConvTranspose2D(input, kernel, nil, 2, 0)

	require.True(t, output.Shape().Equal(tensor.Shape{1, 1, 4, 4}))
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, output.AsFloat32())
}

func TestConvTranspose2D_DoublesSpatialSize(t *testing.T) {
	backend := New()

	// The upscaler's upconv: k=4, s=2, p=1 maps H to 2H.
	input := tensor.Full(tensor.Shape{1, 2, 5, 7}, 1)
	kernel := tensor.Full(tensor.Shape{2, 3, 4, 4}, 0.5)
	bias := mustTensor(t, tensor.Shape{3}, []float32{0, 1, 2})

	output := backend.ConvTranspose2D(input, kernel, bias, 2, 1)
	require.True(t, output.Shape().Equal(tensor.Shape{1, 3, 10, 14}), "got %v", output.Shape())

	// Interior pixels receive 2x2 kernel taps from each of the 2 input channels.
	data := output.AsFloat32()
	center := 1*10*14 + 5*14 + 7
	assert.InDelta(t, 2*4*0.5+1, data[center], 1e-6)
}

func TestConvTranspose2D_Overlap(t *testing.T) {
	backend := New()

	input := mustTensor(t, tensor.Shape{1, 1, 1, 2}, []float32{1, 10})
	kernel := mustTensor(t, tensor.Shape{1, 1, 1, 3}, []float32{1, 2, 3})

	output := backend.ConvTranspose2D(input, kernel, nil, 1, 0)

	// [1 2 3 .] + [. 10 20 30]
	assert.Equal(t, []float32{1, 12, 23, 30}, output.AsFloat32())
}

func TestLinear(t *testing.T) {
	backend := New()

	input := mustTensor(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	weight := mustTensor(t, tensor.Shape{2, 3}, []float32{1, 0, 0, 1, 1, 1})
	bias := mustTensor(t, tensor.Shape{2}, []float32{0, -1})

	output := backend.Linear(input, weight, bias)

	require.True(t, output.Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float32{1, 5, 4, 14}, output.AsFloat32())
}

func TestLinear_FeatureMismatch(t *testing.T) {
	backend := New()
	err := exceptions.TryCatch[error](func() {
		backend.Linear(tensor.Zeros(tensor.Shape{1, 4}), tensor.Zeros(tensor.Shape{2, 3}), nil)
	})
	assert.Error(t, err)
}

func TestActivations(t *testing.T) {
	backend := New()
	x := mustTensor(t, tensor.Shape{4}, []float32{-2, -0.5, 0, 3})

	assert.Equal(t, []float32{0, 0, 0, 3}, backend.ReLU(x).AsFloat32())
	assert.Equal(t, []float32{-0.4, -0.1, 0, 3}, backend.LeakyReLU(x, 0.2).AsFloat32())
	// Inputs are not modified.
	assert.Equal(t, []float32{-2, -0.5, 0, 3}, x.AsFloat32())
}

func TestAddScale(t *testing.T) {
	backend := New()
	a := mustTensor(t, tensor.Shape{3}, []float32{1, 2, 3})
	b := mustTensor(t, tensor.Shape{3}, []float32{10, 20, 30})

	assert.Equal(t, []float32{11, 22, 33}, backend.Add(a, b).AsFloat32())
	assert.Equal(t, []float32{0.5, 1, 1.5}, backend.Scale(a, 0.5).AsFloat32())

	err := exceptions.TryCatch[error](func() { backend.Add(a, tensor.Zeros(tensor.Shape{4})) })
	assert.Error(t, err)
}

func TestMul(t *testing.T) {
	backend := New()
	a := mustTensor(t, tensor.Shape{2, 2}, []float32{1, 2, 3, 4})

	scalar := tensor.Full(tensor.Shape{}, 0.2)
	assert.InDeltaSlice(t, []float32{0.2, 0.4, 0.6, 0.8}, backend.Mul(a, scalar).AsFloat32(), 1e-6)
	assert.Equal(t, []float32{1, 4, 9, 16}, backend.Mul(a, a).AsFloat32())

	err := exceptions.TryCatch[error](func() { backend.Mul(a, tensor.Zeros(tensor.Shape{3})) })
	assert.Error(t, err)
}

func TestConcatChannels(t *testing.T) {
	backend := New()

	a := mustTensor(t, tensor.Shape{2, 1, 1, 2}, []float32{1, 2, 3, 4})
	b := mustTensor(t, tensor.Shape{2, 2, 1, 2}, []float32{10, 20, 30, 40, 50, 60, 70, 80})

	out := backend.Concat(a, b)

	require.True(t, out.Shape().Equal(tensor.Shape{2, 3, 1, 2}))
	assert.Equal(t, []float32{1, 2, 10, 20, 30, 40, 3, 4, 50, 60, 70, 80}, out.AsFloat32())
}

func TestUpsampleNearest(t *testing.T) {
	backend := New()
	input := mustTensor(t, tensor.Shape{1, 1, 2, 2}, []float32{1, 2, 3, 4})

	out := backend.UpsampleNearest(input, 2)

	require.True(t, out.Shape().Equal(tensor.Shape{1, 1, 4, 4}))
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, out.AsFloat32())
}
