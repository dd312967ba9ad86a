package weights

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/tensor"
)

// SafeTensors layout:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// SafeTensorsDType is a dtype tag of the SafeTensors header.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsI32  SafeTensorsDType = "I32"
	SafeTensorsI64  SafeTensorsDType = "I64"
	SafeTensorsU8   SafeTensorsDType = "U8"
	SafeTensorsBool SafeTensorsDType = "BOOL"
)

const (
	metadataKey       = "__metadata__"
	maxSafeHeaderSize = 100 << 20
)

// SafeTensorInfo describes one tensor of the header.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end) relative to the data section
}

// SafeTensorsHeader is the parsed JSON header.
type SafeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]SafeTensorInfo
}

// UnmarshalJSON splits the flat header object into metadata and tensors.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}
	if raw, ok := rawMap[metadataKey]; ok {
		if err := json.Unmarshal(raw, &h.Metadata); err != nil {
			return errors.Wrap(err, "metadata")
		}
	}
	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == metadataKey {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return errors.Wrapf(err, "tensor %s", key)
		}
		h.Tensors[key] = info
	}
	return nil
}

// MarshalJSON writes the flat header object.
func (h SafeTensorsHeader) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		flat[metadataKey] = h.Metadata
	}
	for name, info := range h.Tensors {
		flat[name] = info
	}
	// encoding/json sorts map keys, so the header is deterministic.
	return json.Marshal(flat)
}

// SafeTensorsReader reads a SafeTensors file lazily, one tensor at a time.
type SafeTensorsReader struct {
	file       *os.File
	header     SafeTensorsHeader
	dataOffset int64
	dataSize   int64
}

var _ Container = (*SafeTensorsReader)(nil)

// OpenSafeTensors opens a SafeTensors file and parses its header.
func OpenSafeTensors(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: weight paths are user input by design.
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening safetensors")
	}
	r, err := newSafeTensorsReader(file)
	if err != nil {
		_ = file.Close()
		return nil, errors.WithMessagef(err, "safetensors %s", path)
	}
	return r, nil
}

func newSafeTensorsReader(file *os.File) (*SafeTensorsReader, error) {
	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "reading header size")
	}
	if headerSize > maxSafeHeaderSize {
		return nil, errors.Errorf("invalid header size %d (too large)", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, errors.Wrap(err, "parsing header JSON")
	}
	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	//nolint:gosec // G115: header size is bounded above.
	dataOffset := int64(8 + headerSize)
	r := &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   stat.Size() - dataOffset,
	}
	for name, info := range header.Tensors {
		if info.DataOffsets[0] < 0 || info.DataOffsets[1] < info.DataOffsets[0] || info.DataOffsets[1] > r.dataSize {
			return nil, errors.Errorf("tensor %s: data offsets %v outside data section of %d bytes",
				name, info.DataOffsets, r.dataSize)
		}
	}
	return r, nil
}

// Format implements Container.
func (r *SafeTensorsReader) Format() Format {
	return FormatSafeTensors
}

// Close implements Container.
func (r *SafeTensorsReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Metadata implements Container.
func (r *SafeTensorsReader) Metadata() map[string]string {
	if r.header.Metadata == nil {
		return map[string]string{}
	}
	return r.header.Metadata
}

// Names implements Container.
func (r *SafeTensorsReader) Names() []string {
	return sortedKeys(r.header.Tensors)
}

// TensorInfo returns the header entry of name.
func (r *SafeTensorsReader) TensorInfo(name string) (SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return SafeTensorInfo{}, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	return info, nil
}

// ReadTensorData reads the raw bytes of name.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	if r.file == nil {
		return nil, errors.New("safetensors reader is closed")
	}
	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if _, err := r.file.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, errors.Wrapf(err, "reading tensor %s", name)
	}
	return data, nil
}

// Tensor implements Container.
func (r *SafeTensorsReader) Tensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	switch info.DType {
	case SafeTensorsBF16:
		if len(data) != 2*shape.NumElements() {
			return nil, errors.Errorf("tensor %s: %d bytes for bf16 %s", name, len(data), shape)
		}
		bits := make([]uint16, len(data)/2)
		for i := range bits {
			bits[i] = binary.LittleEndian.Uint16(data[2*i:])
		}
		return tensor.BFloat16ToFloat32(shape, bits)
	case SafeTensorsF16:
		half, err := tensor.FromBytes(shape, tensor.Float16, data)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %s", name)
		}
		return half.ToFloat32()
	}

	dtype, err := safeTensorsDTypeToDataType(info.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	t, err := tensor.FromBytes(shape, dtype, data)
	return t, errors.Wrapf(err, "tensor %s", name)
}

func safeTensorsDTypeToDataType(dtype SafeTensorsDType) (tensor.DataType, error) {
	switch dtype {
	case SafeTensorsF32:
		return tensor.Float32, nil
	case SafeTensorsF64:
		return tensor.Float64, nil
	case SafeTensorsF16:
		return tensor.Float16, nil
	case SafeTensorsI32:
		return tensor.Int32, nil
	case SafeTensorsI64:
		return tensor.Int64, nil
	case SafeTensorsU8:
		return tensor.Uint8, nil
	case SafeTensorsBool:
		return tensor.Bool, nil
	default:
		return 0, errors.Errorf("unsupported dtype %s", dtype)
	}
}

func dataTypeToSafeTensorsDType(dtype tensor.DataType) (SafeTensorsDType, error) {
	switch dtype {
	case tensor.Float32:
		return SafeTensorsF32, nil
	case tensor.Float64:
		return SafeTensorsF64, nil
	case tensor.Float16:
		return SafeTensorsF16, nil
	case tensor.Int32:
		return SafeTensorsI32, nil
	case tensor.Int64:
		return SafeTensorsI64, nil
	case tensor.Uint8:
		return SafeTensorsU8, nil
	case tensor.Bool:
		return SafeTensorsBool, nil
	default:
		return "", errors.Errorf("unsupported dtype %s", dtype)
	}
}

// WriteSafeTensors writes tensors to path. Tensor data is laid out in name
// order, so equal inputs produce identical files.
func WriteSafeTensors(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) (int64, error) {
	header := SafeTensorsHeader{
		Metadata: metadata,
		Tensors:  make(map[string]SafeTensorInfo, len(tensors)),
	}
	names := sortedKeys(tensors)
	var offset int64
	for _, name := range names {
		t := tensors[name]
		dtype, err := dataTypeToSafeTensorsDType(t.DType())
		if err != nil {
			return 0, errors.Wrapf(err, "tensor %s", name)
		}
		size := int64(t.ByteSize())
		header.Tensors[name] = SafeTensorInfo{
			DType:       dtype,
			Shape:       append([]int{}, t.Shape()...),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return 0, errors.Wrap(err, "encoding header")
	}
	// Pad the header with spaces to keep the data section 8-byte aligned.
	for (len(headerJSON))%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	//nolint:gosec // G304: output path is user input by design.
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "creating safetensors")
	}
	written := int64(0)
	write := func(b []byte) error {
		n, err := f.Write(b)
		written += int64(n)
		return err
	}
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(len(headerJSON)))
	err = write(sizeBuf[:])
	if err == nil {
		err = write(headerJSON)
	}
	for _, name := range names {
		if err != nil {
			break
		}
		err = write(tensors[name].Data())
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, errors.Wrapf(err, "writing %s", path)
	}
	return written, nil
}
