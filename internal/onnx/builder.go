package onnx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/modelexport/internal/tensor"
)

// GraphBuilder assembles a GraphProto node by node.
//
// Node names follow the scoped convention "/<scope>/<OpType>" with a numeric
// suffix when a scope emits the same op twice, and each node's single output
// is "<node name>_output_0". Initializers are keyed by name, so a layer that
// is applied several times contributes its parameters once.
//
// Errors (unsupported dtypes, unknown values) panic with an error value, the
// same way the CPU kernels report shape violations.
type GraphBuilder struct {
	name      string
	nodes     []NodeProto
	inits     []TensorProto
	initIndex map[string]int
	inputs    []ValueInfoProto
	outputs   []ValueInfoProto
	values    map[string]bool
	nodeNames map[string]int
}

// NewGraphBuilder creates an empty graph with the given name.
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{
		name:      name,
		initIndex: make(map[string]int),
		values:    make(map[string]bool),
		nodeNames: make(map[string]int),
	}
}

// FixedDims returns static dimensions.
func FixedDims(dims ...int) []DimensionProto {
	out := make([]DimensionProto, len(dims))
	for i, d := range dims {
		out[i] = DimensionProto{DimValue: int64(d)}
	}
	return out
}

// ShapeDims returns the dimensions of shape, replacing the axes listed in
// dynamic by their symbolic names.
func ShapeDims(shape tensor.Shape, dynamic map[int]string) []DimensionProto {
	out := make([]DimensionProto, len(shape))
	for i, d := range shape {
		if param, ok := dynamic[i]; ok && param != "" {
			out[i] = DimensionProto{DimParam: param}
			continue
		}
		out[i] = DimensionProto{DimValue: int64(d)}
	}
	return out
}

func valueInfo(name string, elemType int32, dims []DimensionProto) ValueInfoProto {
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: elemType,
			Shape:    &TensorShapeProto{Dims: dims},
		}},
	}
}

// AddInput declares a graph input and returns its name.
func (b *GraphBuilder) AddInput(name string, elemType int32, dims []DimensionProto) string {
	if b.values[name] {
		exceptions.Panicf("onnx: graph input %q already defined", name)
	}
	b.values[name] = true
	b.inputs = append(b.inputs, valueInfo(name, elemType, dims))
	return name
}

// AddOutput declares an existing value as a graph output.
func (b *GraphBuilder) AddOutput(name string, elemType int32, dims []DimensionProto) {
	if !b.values[name] {
		exceptions.Panicf("onnx: graph output %q is not produced by any node", name)
	}
	b.outputs = append(b.outputs, valueInfo(name, elemType, dims))
}

// AddInitializer stores t under name and returns the name. A second call
// with the same name reuses the first tensor.
func (b *GraphBuilder) AddInitializer(name string, t *tensor.RawTensor) string {
	if _, ok := b.initIndex[name]; ok {
		return name
	}
	if b.values[name] {
		exceptions.Panicf("onnx: initializer %q clashes with an existing value", name)
	}
	p, err := TensorToProto(name, t)
	if err != nil {
		panic(err)
	}
	b.initIndex[name] = len(b.inits)
	b.inits = append(b.inits, p)
	b.values[name] = true
	return name
}

// AddEmptyInitializer stores a zero-length float tensor, the placeholder
// for inputs such as Resize's roi that must be present but unused.
func (b *GraphBuilder) AddEmptyInitializer(name string) string {
	if _, ok := b.initIndex[name]; ok {
		return name
	}
	b.initIndex[name] = len(b.inits)
	b.inits = append(b.inits, TensorProto{Name: name, DataType: TensorProtoFloat, Dims: []int64{0}})
	b.values[name] = true
	return name
}

// Scalar returns a rank-0 float constant, shared across the graph.
func (b *GraphBuilder) Scalar(v float32) string {
	name := fmt.Sprintf("onnx::Constant_%g", v)
	t := tensor.Full(tensor.Shape{}, v)
	return b.AddInitializer(name, t)
}

// Floats returns a rank-1 float constant with the given name.
func (b *GraphBuilder) Floats(name string, values []float32) string {
	t, err := tensor.FromFloat32(tensor.Shape{len(values)}, values)
	if err != nil {
		panic(err)
	}
	return b.AddInitializer(name, t)
}

// AddNode appends a node with one output and returns the output name.
// Every input must already be a graph input, an initializer or the output of
// an earlier node; the empty string marks an omitted optional input.
func (b *GraphBuilder) AddNode(opType, scope string, inputs []string, attrs ...AttributeProto) string {
	for _, in := range inputs {
		if in != "" && !b.values[in] {
			exceptions.Panicf("onnx: %s node in scope %q uses undefined value %q", opType, scope, in)
		}
	}
	name := b.uniqueNodeName(opType, scope)
	output := name + "_output_0"
	b.values[output] = true
	b.nodes = append(b.nodes, NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     append([]string(nil), inputs...),
		Outputs:    []string{output},
		Attributes: attrs,
	})
	return output
}

func (b *GraphBuilder) uniqueNodeName(opType, scope string) string {
	base := "/" + opType
	if scope != "" {
		base = "/" + strings.ReplaceAll(scope, ".", "/") + base
	}
	n := b.nodeNames[base]
	b.nodeNames[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

// RenameValue renames a node output, updating every consumer.
func (b *GraphBuilder) RenameValue(from, to string) {
	if from == to {
		return
	}
	if !b.values[from] {
		exceptions.Panicf("onnx: cannot rename unknown value %q", from)
	}
	if b.values[to] {
		exceptions.Panicf("onnx: cannot rename %q to existing value %q", from, to)
	}
	if _, isInit := b.initIndex[from]; isInit {
		exceptions.Panicf("onnx: cannot rename initializer %q", from)
	}
	for i := range b.nodes {
		for j, in := range b.nodes[i].Inputs {
			if in == from {
				b.nodes[i].Inputs[j] = to
			}
		}
		for j, out := range b.nodes[i].Outputs {
			if out == from {
				b.nodes[i].Outputs[j] = to
			}
		}
	}
	for i := range b.inputs {
		if b.inputs[i].Name == from {
			b.inputs[i].Name = to
		}
	}
	delete(b.values, from)
	b.values[to] = true
}

// NumNodes returns the number of nodes added so far.
func (b *GraphBuilder) NumNodes() int {
	return len(b.nodes)
}

// NumInitializers returns the number of distinct initializers.
func (b *GraphBuilder) NumInitializers() int {
	return len(b.inits)
}

// Graph returns the assembled graph. The builder must not be used afterwards.
func (b *GraphBuilder) Graph() *GraphProto {
	return &GraphProto{
		Name:         b.name,
		Nodes:        b.nodes,
		Inputs:       b.inputs,
		Outputs:      b.outputs,
		Initializers: b.inits,
	}
}

// ModelOptions carries model-level fields.
type ModelOptions struct {
	Opset           int64
	ProducerName    string
	ProducerVersion string
	DocString       string
	Metadata        map[string]string
}

// Model wraps the assembled graph into a ModelProto. The IR version is the
// lowest one able to carry opts.Opset.
func (b *GraphBuilder) Model(opts ModelOptions) *ModelProto {
	m := &ModelProto{
		IRVersion:       IRVersionForOpset(opts.Opset),
		OpsetImport:     []OperatorSetID{{Version: opts.Opset}},
		ProducerName:    opts.ProducerName,
		ProducerVersion: opts.ProducerVersion,
		DocString:       opts.DocString,
		Graph:           b.Graph(),
	}
	keys := make([]string, 0, len(opts.Metadata))
	for k := range opts.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.MetadataProps = append(m.MetadataProps, StringStringEntry{Key: k, Value: opts.Metadata[k]})
	}
	return m
}

// AttrInt builds an INT attribute.
func AttrInt(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// AttrInts builds an INTS attribute.
func AttrInts(name string, v ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: v}
}

// AttrFloat builds a FLOAT attribute.
func AttrFloat(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// AttrString builds a STRING attribute.
func AttrString(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}
