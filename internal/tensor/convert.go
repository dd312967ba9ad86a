package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

func errSizeMismatch(n int, shape Shape) error {
	return fmt.Errorf("got %d values for shape %s (%d elements)", n, shape, shape.NumElements())
}

// ToFloat32 returns a float32 copy of r.
// Float16 values are widened with x448/float16; float64 values are narrowed.
func (r *RawTensor) ToFloat32() (*RawTensor, error) {
	switch r.dtype {
	case Float32:
		return r.Clone(), nil
	case Float64:
		out := Zeros(r.shape)
		dst := out.AsFloat32()
		for i, v := range r.AsFloat64() {
			dst[i] = float32(v)
		}
		return out, nil
	case Float16:
		out := Zeros(r.shape)
		dst := out.AsFloat32()
		for i, bits := range r.AsUint16() {
			dst[i] = float16.Frombits(bits).Float32()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot convert %s tensor to float32", r.dtype)
	}
}

// ToFloat16 returns a float16 copy of a float32 tensor.
func (r *RawTensor) ToFloat16() (*RawTensor, error) {
	if r.dtype != Float32 {
		return nil, fmt.Errorf("cannot convert %s tensor to float16", r.dtype)
	}
	out, err := NewRaw(r.shape, Float16)
	if err != nil {
		return nil, err
	}
	dst := out.AsUint16()
	for i, v := range r.AsFloat32() {
		dst[i] = float16.Fromfloat32(v).Bits()
	}
	return out, nil
}

// BFloat16ToFloat32 widens bfloat16 bit patterns (upper half of an IEEE
// float32) into a float32 tensor.
func BFloat16ToFloat32(shape Shape, bits []uint16) (*RawTensor, error) {
	out, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	if len(bits) != out.NumElements() {
		return nil, errSizeMismatch(len(bits), shape)
	}
	dst := out.AsFloat32()
	for i, b := range bits {
		dst[i] = math.Float32frombits(uint32(b) << 16)
	}
	return out, nil
}

// MaxAbsDiff returns max|a-b| over two float32 tensors of equal shape.
func MaxAbsDiff(a, b *RawTensor) (float64, error) {
	if !a.Shape().Equal(b.Shape()) {
		return 0, fmt.Errorf("shape mismatch: %s vs %s", a.Shape(), b.Shape())
	}
	var maxDiff float64
	bd := b.AsFloat32()
	for i, v := range a.AsFloat32() {
		d := math.Abs(float64(v) - float64(bd[i]))
		if d > maxDiff || math.IsNaN(d) {
			maxDiff = d
		}
	}
	return maxDiff, nil
}
