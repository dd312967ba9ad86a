package weights

import (
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// WrapperKeys are the checkpoint entries that hold the actual state dict,
// in order of preference.
var WrapperKeys = []string{"params_ema", "params", "state_dict"}

// PyTorchReader holds the tensors of a torch.save archive. gopickle decodes
// the whole archive on open, so Tensor only converts.
type PyTorchReader struct {
	tensors map[string]*pytorch.Tensor
	wrapper string
}

var _ Container = (*PyTorchReader)(nil)

// OpenPyTorch decodes a .pth/.pt archive and unwraps a params_ema, params
// or state_dict entry when present.
func OpenPyTorch(path string) (*PyTorchReader, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding pytorch archive %s", path)
	}
	stateDict, wrapper := unwrapStateDict(obj)

	r := &PyTorchReader{tensors: map[string]*pytorch.Tensor{}, wrapper: wrapper}
	add := func(k, v interface{}) error {
		key, ok := k.(string)
		if !ok {
			return errors.Errorf("pytorch archive %s: non-string state dict key %v", path, k)
		}
		if t, ok := v.(*pytorch.Tensor); ok {
			r.tensors[key] = t
		}
		// Non-tensor entries (e.g. _metadata) carry no parameters.
		return nil
	}

	switch d := stateDict.(type) {
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry, ok := e.Value.(*types.OrderedDictEntry)
			if !ok {
				return nil, errors.Errorf("pytorch archive %s: malformed ordered dict entry %T", path, e.Value)
			}
			if err := add(entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
	case *types.Dict:
		for _, entry := range *d {
			if err := add(entry.Key, entry.Value); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Errorf("pytorch archive %s: expected a state dict, got %T", path, stateDict)
	}
	return r, nil
}

// dictGetter is satisfied by both gopickle dict types.
type dictGetter interface {
	Get(key interface{}) (interface{}, bool)
}

// unwrapStateDict returns the first wrapper entry present, or obj itself.
func unwrapStateDict(obj interface{}) (interface{}, string) {
	d, ok := obj.(dictGetter)
	if !ok {
		return obj, ""
	}
	for _, key := range WrapperKeys {
		if inner, found := d.Get(key); found {
			if _, isDict := inner.(dictGetter); isDict {
				return inner, key
			}
		}
	}
	return obj, ""
}

// Format implements Container.
func (r *PyTorchReader) Format() Format {
	return FormatPyTorch
}

// Wrapper returns the checkpoint key the state dict was unwrapped from, or
// "" for a bare state dict.
func (r *PyTorchReader) Wrapper() string {
	return r.wrapper
}

// Names implements Container.
func (r *PyTorchReader) Names() []string {
	return sortedKeys(r.tensors)
}

// Metadata implements Container.
func (r *PyTorchReader) Metadata() map[string]string {
	md := map[string]string{}
	if r.wrapper != "" {
		md["wrapper"] = r.wrapper
	}
	return md
}

// Close implements Container.
func (r *PyTorchReader) Close() error {
	r.tensors = nil
	return nil
}

// Tensor implements Container. Float, double, half and bfloat16 storages
// are supported; strided views are copied into row-major order.
func (r *PyTorchReader) Tensor(name string) (*tensor.RawTensor, error) {
	t, ok := r.tensors[name]
	if !ok {
		return nil, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	shape := tensor.Shape(append([]int{}, t.Size...))
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}

	var values []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		values = s.Data
	case *pytorch.HalfStorage:
		values = s.Data
	case *pytorch.BFloat16Storage:
		values = s.Data
	case *pytorch.DoubleStorage:
		values = make([]float32, len(s.Data))
		for i, v := range s.Data {
			values[i] = float32(v)
		}
	default:
		return nil, errors.Errorf("tensor %s: unsupported storage %T", name, t.Source)
	}

	out, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	if err := gatherStrided(out.AsFloat32(), values, t.StorageOffset, shape, t.Stride); err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	return out, nil
}

// gatherStrided copies a strided view of src starting at offset into dst
// in row-major order.
func gatherStrided(dst, src []float32, offset int, shape tensor.Shape, stride []int) error {
	if len(stride) != len(shape) {
		return errors.Errorf("stride %v does not match shape %s", stride, shape)
	}
	idx := make([]int, len(shape))
	for i := range dst {
		pos := offset
		for d := range shape {
			pos += idx[d] * stride[d]
		}
		if pos < 0 || pos >= len(src) {
			return errors.Errorf("element %d maps to storage index %d outside %d values", i, pos, len(src))
		}
		dst[i] = src[pos]
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return nil
}
