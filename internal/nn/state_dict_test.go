package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/tensor"
)

func twoLayer() *Sequential {
	backend := cpu.New()
	rng := newRNG()
	return NewSequential(
		NewLinear("fc1", 2, 3, rng, backend),
		NewReLU("", backend),
		NewLinear("fc2", 3, 1, rng, backend),
	)
}

func onesLike(sd map[string]*tensor.RawTensor) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(sd))
	for name, t := range sd {
		out[name] = tensor.Full(t.Shape(), 1)
	}
	return out
}

func TestStateDictKeys(t *testing.T) {
	sd := StateDict(twoLayer())
	assert.Len(t, sd, 4)
	assert.Contains(t, sd, "fc1.weight")
	assert.Contains(t, sd, "fc2.bias")
}

func TestLoadStateDictStrict(t *testing.T) {
	m := twoLayer()
	report, err := LoadStateDict(m, onesLike(StateDict(m)), true)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, []string{"fc1.bias", "fc1.weight", "fc2.bias", "fc2.weight"}, report.Loaded)
	for _, p := range m.Parameters() {
		for _, v := range p.Tensor().AsFloat32() {
			assert.Equal(t, float32(1), v)
		}
	}
}

func TestLoadStateDictStrictFailureModifiesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(sd map[string]*tensor.RawTensor)
		check  func(t *testing.T, r *LoadReport)
	}{
		{"unexpected key", func(sd map[string]*tensor.RawTensor) {
			sd["module.extra"] = tensor.Zeros(tensor.Shape{1})
		}, func(t *testing.T, r *LoadReport) { assert.Equal(t, []string{"module.extra"}, r.Unexpected) }},
		{"missing key", func(sd map[string]*tensor.RawTensor) {
			delete(sd, "fc2.bias")
		}, func(t *testing.T, r *LoadReport) { assert.Equal(t, []string{"fc2.bias"}, r.Missing) }},
		{"shape mismatch", func(sd map[string]*tensor.RawTensor) {
			sd["fc1.weight"] = tensor.Zeros(tensor.Shape{3, 3})
		}, func(t *testing.T, r *LoadReport) {
			require.Len(t, r.Mismatched, 1)
			assert.Equal(t, "fc1.weight", r.Mismatched[0].Name)
			assert.True(t, r.Mismatched[0].Want.Equal(tensor.Shape{3, 2}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := twoLayer()
			before := make(map[string][]float32)
			for name, v := range StateDict(m) {
				before[name] = append([]float32(nil), v.AsFloat32()...)
			}
			sd := onesLike(StateDict(m))
			tt.mutate(sd)

			report, err := LoadStateDict(m, sd, true)
			require.ErrorIs(t, err, ErrStrictMismatch)
			tt.check(t, report)
			assert.Empty(t, report.Loaded)
			for name, v := range StateDict(m) {
				assert.Equal(t, before[name], v.AsFloat32(), name)
			}
		})
	}
}

func TestLoadStateDictNonStrict(t *testing.T) {
	m := twoLayer()
	origFC2 := append([]float32(nil), StateDict(m)["fc2.weight"].AsFloat32()...)

	sd := onesLike(StateDict(m))
	delete(sd, "fc2.weight")
	sd["fc1.bias"] = tensor.Zeros(tensor.Shape{7})
	sd["extra.weight"] = tensor.Zeros(tensor.Shape{1})

	report, err := LoadStateDict(m, sd, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"fc1.weight", "fc2.bias"}, report.Loaded)
	assert.Equal(t, []string{"fc2.weight"}, report.Missing)
	assert.Equal(t, []string{"extra.weight"}, report.Unexpected)
	require.Len(t, report.Mismatched, 1)
	assert.Equal(t, "fc1.bias: want [3], got [7]", report.Mismatched[0].String())

	assert.Equal(t, origFC2, StateDict(m)["fc2.weight"].AsFloat32())
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, StateDict(m)["fc1.weight"].AsFloat32())
}

func TestLoadStateDictConvertsFloat16(t *testing.T) {
	m := twoLayer()
	sd := onesLike(StateDict(m))
	half, err := tensor.Full(tensor.Shape{3, 2}, 0.5).ToFloat16()
	require.NoError(t, err)
	sd["fc1.weight"] = half

	_, err = LoadStateDict(m, sd, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, StateDict(m)["fc1.weight"].AsFloat32())
}
