package tensor

import "math/rand"

// Zeros creates a float32 tensor filled with zeros.
// Panics on an invalid shape.
func Zeros(shape Shape) *RawTensor {
	raw, err := NewRaw(shape, Float32)
	if err != nil {
		panic(err)
	}
	return raw
}

// Full creates a float32 tensor filled with value.
func Full(shape Shape, value float32) *RawTensor {
	raw := Zeros(shape)
	data := raw.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return raw
}

// FromFloat32 creates a float32 tensor holding a copy of values.
func FromFloat32(shape Shape, values []float32) (*RawTensor, error) {
	raw, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	if len(values) != raw.NumElements() {
		return nil, errSizeMismatch(len(values), shape)
	}
	copy(raw.AsFloat32(), values)
	return raw, nil
}

// Randn creates a float32 tensor with values drawn from N(0, 1).
//
// The generator is passed in so that a fixed seed reproduces the same
// synthetic input across runs:
//
//	x := tensor.Randn(tensor.Shape{1, 3, 64, 64}, rand.New(rand.NewSource(0)))
func Randn(shape Shape, rng *rand.Rand) *RawTensor {
	raw := Zeros(shape)
	data := raw.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return raw
}
