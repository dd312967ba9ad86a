package onnx

import (
	"sort"
	"strconv"
	"strings"
)

// ValueInfo summarizes a graph input or output.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []string // dim_value as decimal, dim_param verbatim, "?" when unset
}

// ModelInfo contains basic information about an ONNX model without loading
// it for inference.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	Inputs          []ValueInfo
	Outputs         []ValueInfo
	NodeCount       int
	WeightCount     int
	ParameterCount  int64          // Total initializer elements
	ParameterBytes  int64          // Total initializer payload bytes
	OpCounts        map[string]int // Nodes per op type
	Metadata        map[string]string
}

// InputNames returns the names of the graph inputs.
func (mi *ModelInfo) InputNames() []string {
	return valueNames(mi.Inputs)
}

// OutputNames returns the names of the graph outputs.
func (mi *ModelInfo) OutputNames() []string {
	return valueNames(mi.Outputs)
}

// Ops returns the op types in the graph, sorted.
func (mi *ModelInfo) Ops() []string {
	ops := make([]string, 0, len(mi.OpCounts))
	for op := range mi.OpCounts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// String formats dims like "[batch_size×3×height×width]".
func (v ValueInfo) String() string {
	return v.Name + " [" + strings.Join(v.Dims, "×") + "]"
}

func valueNames(vs []ValueInfo) []string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}

// Inspect parses an ONNX file and summarizes it.
func Inspect(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Describe(proto), nil
}

// Describe summarizes a parsed model.
func Describe(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		OpsetVersion:    proto.DefaultOpset(),
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		OpCounts:        make(map[string]int),
		Metadata:        make(map[string]string),
	}
	for _, prop := range proto.MetadataProps {
		info.Metadata[prop.Key] = prop.Value
	}

	graph := proto.Graph
	if graph == nil {
		return info
	}

	// Graph inputs exclude initializers (older exporters list both).
	initNames := make(map[string]bool, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		initNames[init.Name] = true
		elems := int64(1)
		for _, d := range init.Dims {
			elems *= d
		}
		info.ParameterCount += elems
		info.ParameterBytes += elems * int64(ElemSize(init.DataType))
	}
	for i := range graph.Inputs {
		if !initNames[graph.Inputs[i].Name] {
			info.Inputs = append(info.Inputs, describeValue(&graph.Inputs[i]))
		}
	}
	for i := range graph.Outputs {
		info.Outputs = append(info.Outputs, describeValue(&graph.Outputs[i]))
	}

	info.NodeCount = len(graph.Nodes)
	info.WeightCount = len(graph.Initializers)
	for i := range graph.Nodes {
		info.OpCounts[graph.Nodes[i].OpType]++
	}
	return info
}

func describeValue(v *ValueInfoProto) ValueInfo {
	out := ValueInfo{Name: v.Name}
	if v.Type == nil || v.Type.TensorType == nil {
		return out
	}
	out.ElemType = v.Type.TensorType.ElemType
	if v.Type.TensorType.Shape == nil {
		return out
	}
	for _, d := range v.Type.TensorType.Shape.Dims {
		switch {
		case d.IsDynamic():
			out.Dims = append(out.Dims, d.DimParam)
		case d.DimValue > 0:
			out.Dims = append(out.Dims, strconv.FormatInt(d.DimValue, 10))
		default:
			out.Dims = append(out.Dims, "?")
		}
	}
	return out
}
