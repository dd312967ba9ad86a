package cpu

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/parallel"
	"github.com/born-ml/modelexport/internal/tensor"
)

func seq(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func mustTensor(t *testing.T, shape tensor.Shape, values []float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(shape, values)
	require.NoError(t, err)
	return raw
}

// TestConv2D_BasicForward tests basic Conv2D forward pass.
func TestConv2D_BasicForward(t *testing.T) {
	backend := New()

	// 1 2 3
	// 4 5 6
	// 7 8 9
	input := mustTensor(t, tensor.Shape{1, 1, 3, 3}, seq(9, 1))

	// Identity-like kernel:
	// 1 0
	// 0 1
	kernel := mustTensor(t, tensor.Shape{1, 1, 2, 2}, []float32{1, 0, 0, 1})

	output := backend.Conv2D(input, kernel, nil, 1, 0)

	require.True(t, output.Shape().Equal(tensor.Shape{1, 1, 2, 2}), "got %v", output.Shape())
	// Diagonal sums: 1+5, 2+6, 4+8, 5+9
	assert.Equal(t, []float32{6, 8, 12, 14}, output.AsFloat32())
}

// TestConv2D_WithPadding tests Conv2D with zero padding.
func TestConv2D_WithPadding(t *testing.T) {
	backend := New()

	input := tensor.Full(tensor.Shape{1, 1, 3, 3}, 1)
	kernel := tensor.Full(tensor.Shape{1, 1, 3, 3}, 1)

	output := backend.Conv2D(input, kernel, nil, 1, 1)

	require.True(t, output.Shape().Equal(tensor.Shape{1, 1, 3, 3}))
	// Corners see 4 ones, edges 6, center 9
	assert.Equal(t, []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}, output.AsFloat32())
}

func TestConv2D_BiasAndChannels(t *testing.T) {
	backend := New()

	// Two input channels, two output channels, 1x1 kernel.
	input := mustTensor(t, tensor.Shape{1, 2, 1, 2}, []float32{1, 2, 10, 20})
	kernel := mustTensor(t, tensor.Shape{2, 2, 1, 1}, []float32{1, 1, 1, -1})
	bias := mustTensor(t, tensor.Shape{2}, []float32{0.5, 0})

	output := backend.Conv2D(input, kernel, bias, 1, 0)

	assert.Equal(t, []float32{11.5, 22.5, -9, -18}, output.AsFloat32())
}

func TestConv2D_Stride(t *testing.T) {
	backend := New()

	input := mustTensor(t, tensor.Shape{1, 1, 4, 4}, seq(16, 0))
	kernel := tensor.Full(tensor.Shape{1, 1, 1, 1}, 1)

	output := backend.Conv2D(input, kernel, nil, 2, 0)
	assert.Equal(t, []float32{0, 2, 8, 10}, output.AsFloat32())
}

func TestConv2D_ParallelMatchesSequential(t *testing.T) {
	input := mustTensor(t, tensor.Shape{2, 3, 6, 6}, seq(2*3*36, -50))
	kernel := mustTensor(t, tensor.Shape{8, 3, 3, 3}, seq(8*27, -100))
	bias := mustTensor(t, tensor.Shape{8}, seq(8, 0))

	seqOut := NewWithConfig(parallel.Sequential()).Conv2D(input, kernel, bias, 1, 1)
	parOut := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinWork: 1}).Conv2D(input, kernel, bias, 1, 1)

	assert.Equal(t, seqOut.AsFloat32(), parOut.AsFloat32())
}

func TestConv2D_ChannelMismatchPanicsWithError(t *testing.T) {
	backend := New()
	input := tensor.Zeros(tensor.Shape{1, 2, 4, 4})
	kernel := tensor.Zeros(tensor.Shape{1, 3, 3, 3})

	err := exceptions.TryCatch[error](func() {
		backend.Conv2D(input, kernel, nil, 1, 0)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input channels 2 != kernel channels 3")
}
