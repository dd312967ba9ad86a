package nn

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// ErrStrictMismatch is returned by a strict LoadStateDict whose keys or
// shapes do not match the module exactly.
var ErrStrictMismatch = errors.New("state dict does not match module")

// ShapeMismatch describes a key present on both sides with different shapes.
type ShapeMismatch struct {
	Name string
	Want tensor.Shape // Module parameter shape
	Got  tensor.Shape // State dict tensor shape
}

// String formats the mismatch like "conv_first.weight: want [64×3×3×3], got [64×4×3×3]".
func (m ShapeMismatch) String() string {
	return fmt.Sprintf("%s: want %s, got %s", m.Name, m.Want, m.Got)
}

// LoadReport summarizes a LoadStateDict call. All lists are sorted.
type LoadReport struct {
	Loaded     []string        // Parameters overwritten from the state dict
	Missing    []string        // Parameters with no key in the state dict
	Unexpected []string        // State dict keys matching no parameter
	Mismatched []ShapeMismatch // Keys whose shapes differ
}

// Clean reports whether every parameter was loaded and nothing was left
// over.
func (r *LoadReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0 && len(r.Mismatched) == 0
}

// summary describes what kept a load from being clean.
func (r *LoadReport) summary() string {
	s := ""
	add := func(label string, names []string) {
		if len(names) == 0 {
			return
		}
		if s != "" {
			s += "; "
		}
		shown := names
		if len(shown) > 5 {
			shown = shown[:5]
		}
		s += fmt.Sprintf("%d %s %v", len(names), label, shown)
		if len(names) > len(shown) {
			s = s[:len(s)-1] + " ...]"
		}
	}
	add("missing", r.Missing)
	add("unexpected", r.Unexpected)
	mismatched := make([]string, len(r.Mismatched))
	for i, m := range r.Mismatched {
		mismatched[i] = m.String()
	}
	add("mismatched", mismatched)
	return s
}

// StateDict returns the module's parameters by name. The tensors are the
// live parameter tensors, not copies.
func StateDict(m Module) map[string]*tensor.RawTensor {
	params := m.Parameters()
	sd := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		sd[p.Name()] = p.Tensor()
	}
	return sd
}

// ParameterCount returns the number of scalars in the module.
func ParameterCount(m Module) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.NumElements()
	}
	return n
}

// LoadStateDict copies state dict tensors into the module's parameters.
// Non-float32 tensors (float16, float64) are converted first.
//
// With strict set, any missing parameter, unexpected key or shape mismatch
// fails the call with ErrStrictMismatch and leaves every parameter
// untouched. Without it, every key whose name and shape match is copied,
// the rest is reported, and the call only fails on an unconvertible dtype.
func LoadStateDict(m Module, sd map[string]*tensor.RawTensor, strict bool) (*LoadReport, error) {
	params := make(map[string]*Parameter)
	for _, p := range m.Parameters() {
		params[p.Name()] = p
	}

	report := &LoadReport{}
	type pending struct {
		param *Parameter
		src   *tensor.RawTensor
	}
	var apply []pending
	for name, src := range sd {
		p, ok := params[name]
		if !ok {
			report.Unexpected = append(report.Unexpected, name)
			continue
		}
		if !p.Shape().Equal(src.Shape()) {
			report.Mismatched = append(report.Mismatched, ShapeMismatch{Name: name, Want: p.Shape(), Got: src.Shape()})
			continue
		}
		if src.DType() != tensor.Float32 {
			converted, err := src.ToFloat32()
			if err != nil {
				if strict {
					return nil, errors.Wrapf(err, "state dict entry %s", name)
				}
				report.Mismatched = append(report.Mismatched, ShapeMismatch{Name: name, Want: p.Shape(), Got: src.Shape()})
				continue
			}
			src = converted
		}
		apply = append(apply, pending{param: p, src: src})
	}
	for name := range params {
		if _, ok := sd[name]; !ok {
			report.Missing = append(report.Missing, name)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Unexpected)
	sort.Slice(report.Mismatched, func(i, j int) bool { return report.Mismatched[i].Name < report.Mismatched[j].Name })

	if strict && !report.Clean() {
		return report, errors.Wrap(ErrStrictMismatch, report.summary())
	}

	for _, a := range apply {
		if err := a.param.tensor.CopyFrom(a.src); err != nil {
			return report, errors.Wrapf(err, "copying %s", a.param.Name())
		}
		report.Loaded = append(report.Loaded, a.param.Name())
	}
	sort.Strings(report.Loaded)
	return report, nil
}
