package models

import (
	"math/rand"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// ImageClassifier is a LeNet-5 style convolutional classifier.
//
// Architecture:
//
//	Input: [batch, 1, 32, 32]
//	Conv1: 1 → 6 channels, 5x5 kernel -> [batch, 6, 28, 28]
//	ReLU, MaxPool 2x2 -> [batch, 6, 14, 14]
//	Conv2: 6 → 16 channels, 5x5 kernel -> [batch, 16, 10, 10]
//	ReLU, MaxPool 2x2 -> [batch, 16, 5, 5]
//	Flatten -> [batch, 400]
//	FC1: 400 → 120, ReLU
//	FC2: 120 → 84, ReLU
//	FC3: 84 → 10 (class scores)
type ImageClassifier struct {
	nn.Mode

	conv1 *nn.Conv2D
	conv2 *nn.Conv2D
	fc1   *nn.Linear
	fc2   *nn.Linear
	fc3   *nn.Linear

	relu    *nn.ReLU
	pool    *nn.MaxPool2D
	flatten *nn.Flatten
}

// ClassifierInputShape is the fixed input of the classifier.
var ClassifierInputShape = tensor.Shape{1, 1, 32, 32}

// NewImageClassifier creates the classifier in training mode, like a
// freshly constructed PyTorch module.
//
// Total parameters: 61,706.
func NewImageClassifier(rng *rand.Rand, backend *cpu.CPUBackend) *ImageClassifier {
	m := &ImageClassifier{
		conv1: nn.NewConv2D("conv1", 1, 6, 5, 1, 0, rng, backend),
		conv2: nn.NewConv2D("conv2", 6, 16, 5, 1, 0, rng, backend),
		fc1:   nn.NewLinear("fc1", 16*5*5, 120, rng, backend),
		fc2:   nn.NewLinear("fc2", 120, 84, rng, backend),
		fc3:   nn.NewLinear("fc3", 84, 10, rng, backend),

		relu:    nn.NewReLU("", backend),
		pool:    nn.NewMaxPool2D("", 2, 2, backend),
		flatten: nn.NewFlatten(""),
	}
	m.Train(true)
	return m
}

// Architecture implements Network.
func (m *ImageClassifier) Architecture() string {
	return ArchClassifier
}

// InputShape implements Network; the classifier only accepts 32x32.
func (m *ImageClassifier) InputShape(int) tensor.Shape {
	return ClassifierInputShape.Clone()
}

// Forward returns the class scores (logits) for a batch of images.
func (m *ImageClassifier) Forward(input *tensor.RawTensor) *tensor.RawTensor {
	s := input.Shape()
	if len(s) != 4 || s[1] != 1 || s[2] != 32 || s[3] != 32 {
		exceptions.Panicf("classifier: expected input [batch, 1, 32, 32], got %s", s)
	}
	x := m.pool.Forward(m.relu.Forward(m.conv1.Forward(input)))
	x = m.pool.Forward(m.relu.Forward(m.conv2.Forward(x)))
	x = m.flatten.Forward(x)
	x = m.relu.Forward(m.fc1.Forward(x))
	x = m.relu.Forward(m.fc2.Forward(x))
	return m.fc3.Forward(x)
}

// Parameters returns all parameters in declaration order.
func (m *ImageClassifier) Parameters() []*nn.Parameter {
	return nn.CollectParameters(m.conv1, m.conv2, m.fc1, m.fc2, m.fc3)
}

// Export emits the classifier graph.
func (m *ImageClassifier) Export(b *onnx.GraphBuilder, input string) string {
	x := m.pool.Export(b, m.relu.Export(b, m.conv1.Export(b, input)))
	x = m.pool.Export(b, m.relu.Export(b, m.conv2.Export(b, x)))
	x = m.flatten.Export(b, x)
	x = m.relu.Export(b, m.fc1.Export(b, x))
	x = m.relu.Export(b, m.fc2.Export(b, x))
	return m.fc3.Export(b, x)
}
