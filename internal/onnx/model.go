package onnx

import (
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/onnx/operators"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Model represents a loaded ONNX model ready for inference.
// It executes the computation graph on the CPU backend.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	backend      *cpu.CPUBackend
	tensors      map[string]*tensor.RawTensor // Initializers; nil marks an empty placeholder
	inputNames   []string
	outputNames  []string
	sortedNodes  []NodeProto
	opsetVersion int64
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	meta["domain"] = m.proto.Domain
	return meta
}

// Forward runs inference with a single input tensor.
// For models with multiple inputs, use ForwardNamed.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.inputNames) != 1 {
		return nil, errors.Errorf("model has %d inputs, use ForwardNamed", len(m.inputNames))
	}

	outputs, err := m.ForwardNamed(map[string]*tensor.RawTensor{
		m.inputNames[0]: input,
	})
	if err != nil {
		return nil, err
	}

	if len(m.outputNames) != 1 {
		return nil, errors.Errorf("model has %d outputs, access via ForwardNamed result", len(m.outputNames))
	}

	return outputs[m.outputNames[0]], nil
}

// ForwardNamed runs inference with named inputs.
// Returns a map of output name to tensor.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	tensors := make(map[string]*tensor.RawTensor, len(m.tensors)+len(inputs))
	for name, t := range m.tensors {
		tensors[name] = t
	}
	for name, t := range inputs {
		tensors[name] = t
	}

	for _, inputName := range m.inputNames {
		if tensors[inputName] == nil {
			return nil, errors.Errorf("missing input: %s", inputName)
		}
	}

	// Execute nodes in topological order
	ctx := &operators.Context{Backend: m.backend}
	for nodeIdx := range m.sortedNodes {
		node := &m.sortedNodes[nodeIdx]
		nodeInputs := make([]*tensor.RawTensor, len(node.Inputs))
		for i, inputName := range node.Inputs {
			if inputName == "" {
				// Optional input not provided
				continue
			}
			t, ok := tensors[inputName]
			if !ok {
				return nil, errors.Errorf("node %s: missing input %s", node.Name, inputName)
			}
			nodeInputs[i] = t
		}

		opNode, err := nodeProtoToOperatorNode(node)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s", node.Name)
		}
		outputs, err := m.registry.Execute(ctx, opNode, nodeInputs)
		if err != nil {
			return nil, errors.Wrapf(err, "node %s (%s)", node.Name, node.OpType)
		}

		for i, outputName := range node.Outputs {
			if i < len(outputs) {
				tensors[outputName] = outputs[i]
			}
		}
	}

	result := make(map[string]*tensor.RawTensor, len(m.outputNames))
	for _, outputName := range m.outputNames {
		t, ok := tensors[outputName]
		if !ok {
			return nil, errors.Errorf("missing output: %s", outputName)
		}
		result[outputName] = t
	}

	return result, nil
}

// compile prepares the model for inference.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return errors.New("model has no graph")
	}

	m.tensors = make(map[string]*tensor.RawTensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		if isEmptyTensor(init) {
			m.tensors[init.Name] = nil
			continue
		}
		t, err := TensorFromProto(init)
		if err != nil {
			return errors.Wrapf(err, "failed to load initializer %s", init.Name)
		}
		m.tensors[init.Name] = t
	}

	// Inputs are graph inputs minus initializers
	for i := range graph.Inputs {
		if _, isInit := m.tensors[graph.Inputs[i].Name]; !isInit {
			m.inputNames = append(m.inputNames, graph.Inputs[i].Name)
		}
	}

	for i := range graph.Outputs {
		m.outputNames = append(m.outputNames, graph.Outputs[i].Name)
	}

	m.sortedNodes = topologicalSort(graph.Nodes)
	m.opsetVersion = m.proto.DefaultOpset()

	return nil
}

// isEmptyTensor reports whether a tensor has a zero-sized dimension.
func isEmptyTensor(p *TensorProto) bool {
	for _, d := range p.Dims {
		if d == 0 {
			return true
		}
	}
	return false
}

// nodeProtoToOperatorNode converts NodeProto to operators.Node.
func nodeProtoToOperatorNode(proto *NodeProto) (*operators.Node, error) {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:    attr.Name,
			Type:    attr.Type,
			F:       attr.F,
			I:       attr.I,
			S:       attr.S,
			Floats:  attr.Floats,
			Ints:    attr.Ints,
			Strings: attr.Strings,
		}
		if attr.T != nil {
			t, err := TensorFromProto(attr.T)
			if err != nil {
				return nil, errors.Wrapf(err, "attribute %s", attr.Name)
			}
			attrs[i].T = t
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
		Domain:     proto.Domain,
	}, nil
}

// topologicalSort sorts nodes in execution order.
// Ensures dependencies are executed before dependents.
func topologicalSort(nodes []NodeProto) []NodeProto {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true

		// Visit dependencies first
		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				visit(depIdx)
			}
		}

		result = append(result, nodes[i])
	}

	for i := range nodes {
		visit(i)
	}

	return result
}
