// Package checker validates the structure of an ONNX model before it is
// handed to a runtime.
//
// It covers what the exporters can get wrong: versioning, naming, value
// dataflow, initializer payloads and graph signatures. Operator semantics
// (attribute ranges, type inference) are left to the runtime.
package checker

import (
	"fmt"
	"strings"

	"github.com/born-ml/modelexport/internal/onnx"
)

// ValidationError lists every problem found in a model.
type ValidationError struct {
	Problems []string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0]
	}
	return fmt.Sprintf("%d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// Checker validates models. The zero value checks against opset 1..MaxOpset.
type Checker struct {
	// MaxOpset is the newest default-domain opset accepted (0 means 21).
	MaxOpset int64
}

// Check validates m with a zero-value Checker.
func Check(m *onnx.ModelProto) error {
	return Checker{}.Check(m)
}

// CheckFile parses and validates an ONNX file.
func CheckFile(path string) error {
	m, err := onnx.ParseFile(path)
	if err != nil {
		return err
	}
	return Check(m)
}

type report struct {
	problems []string
}

func (r *report) addf(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

// Check validates m and returns a *ValidationError listing all problems.
func (c Checker) Check(m *onnx.ModelProto) error {
	if m == nil {
		return &ValidationError{Problems: []string{"model is nil"}}
	}
	maxOpset := c.MaxOpset
	if maxOpset == 0 {
		maxOpset = 21
	}

	r := &report{}
	if m.IRVersion < 3 {
		r.addf("model ir_version %d is not supported", m.IRVersion)
	}
	opset := m.DefaultOpset()
	switch {
	case opset == 0:
		r.addf("model does not import the default operator set")
	case opset > maxOpset:
		r.addf("default opset %d is newer than %d", opset, maxOpset)
	}
	if m.Graph == nil {
		r.addf("model has no graph")
	} else {
		checkGraph(r, m.Graph)
	}

	if len(r.problems) > 0 {
		return &ValidationError{Problems: r.problems}
	}
	return nil
}

func checkGraph(r *report, g *onnx.GraphProto) {
	if g.Name == "" {
		r.addf("graph has no name")
	}

	defined := make(map[string]string) // value name -> what defined it
	define := func(name, by string) {
		if name == "" {
			r.addf("%s has an empty name", by)
			return
		}
		if prev, ok := defined[name]; ok {
			r.addf("value %q defined by %s is already defined by %s", name, by, prev)
			return
		}
		defined[name] = by
	}

	for i := range g.Initializers {
		init := &g.Initializers[i]
		define(init.Name, "initializer")
		checkInitializer(r, init)
	}
	if len(g.Inputs) == 0 {
		r.addf("graph has no inputs")
	}
	for i := range g.Inputs {
		in := &g.Inputs[i]
		checkValueInfo(r, "graph input", in)
		if defined[in.Name] == "initializer" {
			// IR < 4 lists initializers among the inputs.
			continue
		}
		define(in.Name, "graph input")
	}

	nodeNames := make(map[string]bool)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		label := fmt.Sprintf("node %d (%s)", i, n.OpType)
		if n.Name != "" {
			label = fmt.Sprintf("node %q (%s)", n.Name, n.OpType)
			if nodeNames[n.Name] {
				r.addf("%s: duplicate node name", label)
			}
			nodeNames[n.Name] = true
		}
		if n.OpType == "" {
			r.addf("%s: missing op_type", label)
		} else if (n.Domain == "" || n.Domain == "ai.onnx") && !knownOps[n.OpType] {
			r.addf("%s: %q is not an operator of the default domain", label, n.OpType)
		}
		for _, in := range n.Inputs {
			if in == "" {
				continue
			}
			if _, ok := defined[in]; !ok {
				r.addf("%s: input %q is not an initializer, graph input or earlier node output", label, in)
			}
		}
		if len(n.Outputs) == 0 {
			r.addf("%s: has no outputs", label)
		}
		for _, out := range n.Outputs {
			if out == "" {
				continue
			}
			define(out, label)
		}
	}

	if len(g.Outputs) == 0 {
		r.addf("graph has no outputs")
	}
	for i := range g.Outputs {
		out := &g.Outputs[i]
		checkValueInfo(r, "graph output", out)
		if _, ok := defined[out.Name]; !ok {
			r.addf("graph output %q is never produced", out.Name)
		}
	}
}

func checkInitializer(r *report, t *onnx.TensorProto) {
	size := onnx.ElemSize(t.DataType)
	if size == 0 {
		r.addf("initializer %q has unsupported data type %d", t.Name, t.DataType)
		return
	}
	elems := int64(1)
	for _, d := range t.Dims {
		if d < 0 {
			r.addf("initializer %q has negative dimension in %v", t.Name, t.Dims)
			return
		}
		elems *= d
	}
	switch {
	case len(t.RawData) > 0:
		if int64(len(t.RawData)) != elems*int64(size) {
			r.addf("initializer %q: raw_data has %d bytes, dims %v need %d",
				t.Name, len(t.RawData), t.Dims, elems*int64(size))
		}
	case len(t.FloatData) > 0:
		if int64(len(t.FloatData)) != elems {
			r.addf("initializer %q: float_data has %d values, dims %v need %d", t.Name, len(t.FloatData), t.Dims, elems)
		}
	case len(t.Int64Data) > 0:
		if int64(len(t.Int64Data)) != elems {
			r.addf("initializer %q: int64_data has %d values, dims %v need %d", t.Name, len(t.Int64Data), t.Dims, elems)
		}
	case len(t.Int32Data) > 0:
		if int64(len(t.Int32Data)) != elems {
			r.addf("initializer %q: int32_data has %d values, dims %v need %d", t.Name, len(t.Int32Data), t.Dims, elems)
		}
	default:
		if elems != 0 {
			r.addf("initializer %q has no data for dims %v", t.Name, t.Dims)
		}
	}
}

func checkValueInfo(r *report, kind string, v *onnx.ValueInfoProto) {
	if v.Type == nil || v.Type.TensorType == nil {
		r.addf("%s %q has no tensor type", kind, v.Name)
		return
	}
	if v.Type.TensorType.ElemType == onnx.TensorProtoUndefined {
		r.addf("%s %q has undefined element type", kind, v.Name)
	}
	if v.Type.TensorType.Shape == nil {
		return
	}
	for i, d := range v.Type.TensorType.Shape.Dims {
		if !d.IsDynamic() && d.DimValue < 0 {
			r.addf("%s %q: dimension %d is negative", kind, v.Name, i)
		}
	}
}
