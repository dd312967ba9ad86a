package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/tensor"
)

func TestMaxPool2D_Basic(t *testing.T) {
	backend := New()
	input := mustTensor(t, tensor.Shape{1, 1, 4, 4}, seq(16, 1))

	output := backend.MaxPool2D(input, 2, 2)

	require.True(t, output.Shape().Equal(tensor.Shape{1, 1, 2, 2}))
	assert.Equal(t, []float32{6, 8, 14, 16}, output.AsFloat32())
}

func TestMaxPool2D_OddInputFloors(t *testing.T) {
	backend := New()
	// LeNet's second pool sees 10x10 -> 5x5; an odd 5x5 input floors to 2x2.
	input := mustTensor(t, tensor.Shape{1, 1, 5, 5}, seq(25, 0))

	output := backend.MaxPool2D(input, 2, 2)

	require.True(t, output.Shape().Equal(tensor.Shape{1, 1, 2, 2}))
	assert.Equal(t, []float32{6, 8, 16, 18}, output.AsFloat32())
}

func TestMaxPool2D_AllNegative(t *testing.T) {
	backend := New()
	input := tensor.Full(tensor.Shape{1, 2, 2, 2}, -3)

	output := backend.MaxPool2D(input, 2, 2)
	assert.Equal(t, []float32{-3, -3}, output.AsFloat32())
}
