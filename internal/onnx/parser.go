package onnx

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "onnx: reading %s", path)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes. Unknown fields are skipped, and
// repeated scalars are accepted both packed and unpacked.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := parseModel(data, m); err != nil {
		return nil, errors.Wrap(err, "onnx: failed to parse model")
	}
	return m, nil
}

// field is one decoded protobuf field.
type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64 // varint, fixed32 and fixed64 payloads
	b   []byte // length-delimited payload
}

// eachField walks the top-level fields of a message.
func eachField(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// str returns a string field or an error on a wire-type mismatch.
func (f field) str() (string, error) {
	if f.typ != protowire.BytesType {
		return "", errors.Errorf("field %d: expected bytes, got wire type %d", f.num, f.typ)
	}
	return string(f.b), nil
}

func (f field) int64() (int64, error) {
	if f.typ != protowire.VarintType {
		return 0, errors.Errorf("field %d: expected varint, got wire type %d", f.num, f.typ)
	}
	return int64(f.v), nil
}

func (f field) message() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, errors.Errorf("field %d: expected message, got wire type %d", f.num, f.typ)
	}
	return f.b, nil
}

// appendInt64s decodes a repeated int64 field in either encoding.
func (f field) appendInt64s(dst []int64) ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, int64(f.v)), nil
	case protowire.BytesType:
		b := f.b
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "field %d", f.num)
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	}
	return nil, errors.Errorf("field %d: unexpected wire type %d for repeated int", f.num, f.typ)
}

// appendFloat32s decodes a repeated float field in either encoding.
func (f field) appendFloat32s(dst []float32) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(uint32(f.v))), nil
	case protowire.BytesType:
		b := f.b
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "field %d", f.num)
			}
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	}
	return nil, errors.Errorf("field %d: unexpected wire type %d for repeated float", f.num, f.typ)
}

func parseModel(data []byte, m *ModelProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.IRVersion, err = f.int64()
		case 2:
			m.ProducerName, err = f.str()
		case 3:
			m.ProducerVersion, err = f.str()
		case 4:
			m.Domain, err = f.str()
		case 5:
			m.ModelVersion, err = f.int64()
		case 6:
			m.DocString, err = f.str()
		case 7:
			var b []byte
			if b, err = f.message(); err == nil {
				m.Graph = &GraphProto{}
				err = errors.Wrap(parseGraph(b, m.Graph), "graph")
			}
		case 8:
			var b []byte
			if b, err = f.message(); err == nil {
				var opset OperatorSetID
				err = eachField(b, func(f field) error {
					var err error
					switch f.num {
					case 1:
						opset.Domain, err = f.str()
					case 2:
						opset.Version, err = f.int64()
					}
					return err
				})
				m.OpsetImport = append(m.OpsetImport, opset)
			}
		case 14:
			var b []byte
			if b, err = f.message(); err == nil {
				var entry StringStringEntry
				err = eachField(b, func(f field) error {
					var err error
					switch f.num {
					case 1:
						entry.Key, err = f.str()
					case 2:
						entry.Value, err = f.str()
					}
					return err
				})
				m.MetadataProps = append(m.MetadataProps, entry)
			}
		}
		return err
	})
}

func parseGraph(data []byte, g *GraphProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var node NodeProto
			if err = parseSub(f, &node, parseNode); err == nil {
				g.Nodes = append(g.Nodes, node)
			}
		case 2:
			g.Name, err = f.str()
		case 5:
			var t TensorProto
			if err = parseSub(f, &t, parseTensor); err == nil {
				g.Initializers = append(g.Initializers, t)
			}
		case 10:
			g.DocString, err = f.str()
		case 11, 12, 13:
			var vi ValueInfoProto
			if err = parseSub(f, &vi, parseValueInfo); err == nil {
				switch f.num {
				case 11:
					g.Inputs = append(g.Inputs, vi)
				case 12:
					g.Outputs = append(g.Outputs, vi)
				default:
					g.ValueInfo = append(g.ValueInfo, vi)
				}
			}
		}
		return err
	})
}

// parseSub decodes an embedded message field into dst.
func parseSub[T any](f field, dst *T, parse func([]byte, *T) error) error {
	b, err := f.message()
	if err != nil {
		return err
	}
	return parse(b, dst)
}

func parseNode(data []byte, n *NodeProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var s string
			if s, err = f.str(); err == nil {
				n.Inputs = append(n.Inputs, s)
			}
		case 2:
			var s string
			if s, err = f.str(); err == nil {
				n.Outputs = append(n.Outputs, s)
			}
		case 3:
			n.Name, err = f.str()
		case 4:
			n.OpType, err = f.str()
		case 5:
			var a AttributeProto
			if err = parseSub(f, &a, parseAttribute); err == nil {
				n.Attributes = append(n.Attributes, a)
			}
		case 6:
			n.DocString, err = f.str()
		case 7:
			n.Domain, err = f.str()
		}
		if err != nil {
			return errors.Wrapf(err, "node %q", n.Name)
		}
		return nil
	})
}

func parseAttribute(data []byte, a *AttributeProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name, err = f.str()
		case 2:
			if f.typ != protowire.Fixed32Type {
				return errors.Errorf("attribute %q: f has wire type %d", a.Name, f.typ)
			}
			a.F = math.Float32frombits(uint32(f.v))
		case 3:
			a.I, err = f.int64()
		case 4:
			a.S, err = f.message()
		case 5:
			a.T = &TensorProto{}
			err = parseSub(f, a.T, parseTensor)
		case 7:
			a.Floats, err = f.appendFloat32s(a.Floats)
		case 8:
			a.Ints, err = f.appendInt64s(a.Ints)
		case 9:
			var s []byte
			if s, err = f.message(); err == nil {
				a.Strings = append(a.Strings, s)
			}
		case 10:
			var t TensorProto
			if err = parseSub(f, &t, parseTensor); err == nil {
				a.Tensors = append(a.Tensors, t)
			}
		case 13:
			a.DocString, err = f.str()
		case 20:
			var v int64
			v, err = f.int64()
			a.Type = int32(v)
		}
		return err
	})
}

func parseTensor(data []byte, t *TensorProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = f.appendInt64s(t.Dims)
		case 2:
			var v int64
			v, err = f.int64()
			t.DataType = int32(v)
		case 4:
			t.FloatData, err = f.appendFloat32s(t.FloatData)
		case 5:
			var vals []int64
			if vals, err = f.appendInt64s(nil); err == nil {
				for _, v := range vals {
					t.Int32Data = append(t.Int32Data, int32(v))
				}
			}
		case 7:
			t.Int64Data, err = f.appendInt64s(t.Int64Data)
		case 8:
			t.Name, err = f.str()
		case 9:
			t.RawData, err = f.message()
		case 12:
			t.DocString, err = f.str()
		}
		if err != nil {
			return errors.Wrapf(err, "tensor %q", t.Name)
		}
		return nil
	})
}

func parseValueInfo(data []byte, v *ValueInfoProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			v.Name, err = f.str()
		case 2:
			v.Type = &TypeProto{}
			err = parseSub(f, v.Type, parseType)
		case 3:
			v.DocString, err = f.str()
		}
		return err
	})
}

func parseType(data []byte, t *TypeProto) error {
	return eachField(data, func(f field) error {
		if f.num != 1 {
			// Sequence, map and optional types are not used by this package.
			return nil
		}
		tt := &TensorTypeProto{}
		t.TensorType = tt
		return parseSub(f, tt, func(b []byte, tt *TensorTypeProto) error {
			return eachField(b, func(f field) error {
				var err error
				switch f.num {
				case 1:
					var v int64
					v, err = f.int64()
					tt.ElemType = int32(v)
				case 2:
					tt.Shape = &TensorShapeProto{}
					err = parseSub(f, tt.Shape, parseShape)
				}
				return err
			})
		})
	})
}

func parseShape(data []byte, s *TensorShapeProto) error {
	return eachField(data, func(f field) error {
		if f.num != 1 {
			return nil
		}
		var dim DimensionProto
		err := parseSub(f, &dim, func(b []byte, d *DimensionProto) error {
			return eachField(b, func(f field) error {
				var err error
				switch f.num {
				case 1:
					d.DimValue, err = f.int64()
				case 2:
					d.DimParam, err = f.str()
				}
				return err
			})
		})
		if err != nil {
			return err
		}
		s.Dims = append(s.Dims, dim)
		return nil
	})
}
