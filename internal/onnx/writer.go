package onnx

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes a model to ONNX protobuf bytes.
//
// Fields are written in field-number order and repeated fields in slice
// order, so equal models always produce equal bytes.
func Marshal(m *ModelProto) ([]byte, error) {
	if m == nil {
		return nil, errors.New("onnx: nil model")
	}
	return appendModel(nil, m), nil
}

// WriteFile encodes a model and writes it to path, returning the number of
// bytes written.
func WriteFile(path string, m *ModelProto) (int, error) {
	data, err := Marshal(m)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, errors.Wrapf(err, "onnx: writing %s", path)
	}
	return len(data), nil
}

func appendModel(b []byte, m *ModelProto) []byte {
	b = appendInt64(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendInt64(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, appendGraph(nil, m.Graph))
	}
	for _, opset := range m.OpsetImport {
		var sub []byte
		sub = appendString(sub, 1, opset.Domain)
		sub = appendInt64(sub, 2, opset.Version)
		b = appendMessage(b, 8, sub)
	}
	for _, prop := range m.MetadataProps {
		var sub []byte
		sub = appendString(sub, 1, prop.Key)
		sub = appendString(sub, 2, prop.Value)
		b = appendMessage(b, 14, sub)
	}
	return b
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for i := range g.Nodes {
		b = appendMessage(b, 1, appendNode(nil, &g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, appendTensor(nil, &g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, appendValueInfo(nil, &g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, appendValueInfo(nil, &g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, 13, appendValueInfo(nil, &g.ValueInfo[i]))
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	for _, in := range n.Inputs {
		// Empty names mark omitted optional inputs and must be kept.
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, appendAttribute(nil, &n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return b
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, 5, appendTensor(nil, a.T))
		}
	case AttributeProtoFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttributeProtoInts:
		for _, v := range a.Ints {
			b = protowire.AppendTag(b, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v))
		}
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, 9, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	case AttributeProtoTensors:
		for i := range a.Tensors {
			b = appendMessage(b, 10, appendTensor(nil, &a.Tensors[i]))
		}
	}
	b = appendString(b, 13, a.DocString)
	b = appendInt64(b, 20, int64(a.Type))
	return b
}

func appendTensor(b []byte, t *TensorProto) []byte {
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = appendInt64(b, 2, int64(t.DataType))
	if len(t.FloatData) > 0 {
		var packed []byte
		for _, f := range t.FloatData {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = appendMessage(b, 4, packed)
	}
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v)))
		}
		b = appendMessage(b, 5, packed)
	}
	if len(t.Int64Data) > 0 {
		var packed []byte
		for _, v := range t.Int64Data {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		b = appendMessage(b, 7, packed)
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	b = appendString(b, 12, t.DocString)
	return b
}

func appendValueInfo(b []byte, v *ValueInfoProto) []byte {
	b = appendString(b, 1, v.Name)
	if v.Type != nil {
		b = appendMessage(b, 2, appendType(nil, v.Type))
	}
	b = appendString(b, 3, v.DocString)
	return b
}

func appendType(b []byte, t *TypeProto) []byte {
	if t.TensorType == nil {
		return b
	}
	var tt []byte
	tt = appendInt64(tt, 1, int64(t.TensorType.ElemType))
	if t.TensorType.Shape != nil {
		var shape []byte
		for _, d := range t.TensorType.Shape.Dims {
			var dim []byte
			if d.IsDynamic() {
				dim = appendString(dim, 2, d.DimParam)
			} else {
				dim = protowire.AppendTag(dim, 1, protowire.VarintType)
				dim = protowire.AppendVarint(dim, uint64(d.DimValue))
			}
			shape = appendMessage(shape, 1, dim)
		}
		// An empty shape message still means "rank 0", so it is always written.
		tt = appendMessage(tt, 2, shape)
	}
	return appendMessage(b, 1, tt)
}

// appendMessage writes a length-delimited field.
func appendMessage(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

// appendString writes a string field, skipping the proto3 default.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendInt64 writes a varint field, skipping the proto3 default.
func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}
