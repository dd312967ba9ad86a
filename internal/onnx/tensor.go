package onnx

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// TensorToProto converts a RawTensor into an initializer. The payload is
// stored little-endian in raw_data.
func TensorToProto(name string, t *tensor.RawTensor) (TensorProto, error) {
	dtype, err := tensorTypeToProtoType(t.DType())
	if err != nil {
		return TensorProto{}, errors.Wrapf(err, "initializer %q", name)
	}
	raw := make([]byte, t.ByteSize())
	copy(raw, t.Data())
	return TensorProto{
		Name:     name,
		DataType: dtype,
		Dims:     t.Shape().Int64s(),
		RawData:  raw,
	}, nil
}

// TensorFromProto converts a TensorProto into a RawTensor.
func TensorFromProto(p *TensorProto) (*tensor.RawTensor, error) {
	dtype, err := protoTypeToTensorType(p.DataType)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", p.Name)
	}
	t, err := tensor.NewRaw(tensor.ShapeFromInt64s(p.Dims), dtype)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %q", p.Name)
	}

	// Data fields are mutually exclusive.
	switch {
	case len(p.RawData) > 0:
		if len(p.RawData) != t.ByteSize() {
			return nil, errors.Errorf("tensor %q: raw_data has %d bytes, dims %v need %d",
				p.Name, len(p.RawData), p.Dims, t.ByteSize())
		}
		copy(t.Data(), p.RawData)
	case len(p.FloatData) > 0:
		if dtype != tensor.Float32 || len(p.FloatData) != t.NumElements() {
			return nil, errors.Errorf("tensor %q: float_data does not match dims %v", p.Name, p.Dims)
		}
		copy(t.AsFloat32(), p.FloatData)
	case len(p.Int64Data) > 0:
		if dtype != tensor.Int64 || len(p.Int64Data) != t.NumElements() {
			return nil, errors.Errorf("tensor %q: int64_data does not match dims %v", p.Name, p.Dims)
		}
		copy(t.AsInt64(), p.Int64Data)
	case len(p.Int32Data) > 0:
		if len(p.Int32Data) != t.NumElements() {
			return nil, errors.Errorf("tensor %q: int32_data does not match dims %v", p.Name, p.Dims)
		}
		data := t.Data()
		for i, v := range p.Int32Data {
			switch dtype {
			case tensor.Int32:
				binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
			case tensor.Uint8, tensor.Bool:
				data[i] = byte(v)
			case tensor.Float16:
				binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
			default:
				return nil, errors.Errorf("tensor %q: int32_data cannot carry %s", p.Name, dtype)
			}
		}
	}
	return t, nil
}

// Float32Values decodes a float tensor into a slice, whatever field holds it.
func Float32Values(p *TensorProto) ([]float32, error) {
	if p.DataType != TensorProtoFloat {
		return nil, errors.Errorf("tensor %q: expected FLOAT, got data type %d", p.Name, p.DataType)
	}
	if len(p.FloatData) > 0 {
		return p.FloatData, nil
	}
	if len(p.RawData)%4 != 0 {
		return nil, errors.Errorf("tensor %q: raw_data length %d is not a multiple of 4", p.Name, len(p.RawData))
	}
	out := make([]float32, len(p.RawData)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p.RawData[i*4:]))
	}
	return out, nil
}

// protoTypeToTensorType converts ONNX data type to tensor.DataType.
func protoTypeToTensorType(onnxType int32) (tensor.DataType, error) {
	switch onnxType {
	case TensorProtoFloat:
		return tensor.Float32, nil
	case TensorProtoDouble:
		return tensor.Float64, nil
	case TensorProtoInt32:
		return tensor.Int32, nil
	case TensorProtoInt64:
		return tensor.Int64, nil
	case TensorProtoUint8:
		return tensor.Uint8, nil
	case TensorProtoBool:
		return tensor.Bool, nil
	case TensorProtoFloat16:
		return tensor.Float16, nil
	default:
		return 0, errors.Errorf("unsupported ONNX data type %d", onnxType)
	}
}

// tensorTypeToProtoType is the inverse of protoTypeToTensorType.
func tensorTypeToProtoType(dt tensor.DataType) (int32, error) {
	switch dt {
	case tensor.Float32:
		return TensorProtoFloat, nil
	case tensor.Float64:
		return TensorProtoDouble, nil
	case tensor.Int32:
		return TensorProtoInt32, nil
	case tensor.Int64:
		return TensorProtoInt64, nil
	case tensor.Uint8:
		return TensorProtoUint8, nil
	case tensor.Bool:
		return TensorProtoBool, nil
	case tensor.Float16:
		return TensorProtoFloat16, nil
	default:
		return 0, errors.Errorf("unsupported tensor dtype %s", dt)
	}
}

// ElemSize returns the byte width of an ONNX data type, or 0 when unknown.
func ElemSize(onnxType int32) int {
	dt, err := protoTypeToTensorType(onnxType)
	if err != nil {
		return 0
	}
	return dt.Size()
}
