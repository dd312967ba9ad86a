package weights

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

// torchTensor is a float32 tensor for a synthetic torch.save archive.
type torchTensor struct {
	name   string
	data   []float32
	size   []int
	stride []int // nil means row-major
	bf16   bool  // stored as a BFloat16Storage
}

// pickleWriter emits the protocol-2 opcodes torch.save uses for a state dict.
type pickleWriter struct {
	bytes.Buffer
}

func (p *pickleWriter) global(module, name string) {
	p.WriteByte('c')
	p.WriteString(module + "\n" + name + "\n")
}

func (p *pickleWriter) str(s string) {
	p.WriteByte('X')
	_ = binary.Write(&p.Buffer, binary.LittleEndian, uint32(len(s)))
	p.WriteString(s)
}

func (p *pickleWriter) int(v int) {
	p.WriteByte('J')
	_ = binary.Write(&p.Buffer, binary.LittleEndian, int32(v))
}

func (p *pickleWriter) ints(vs []int) {
	p.WriteByte('(')
	for _, v := range vs {
		p.int(v)
	}
	p.WriteByte('t')
}

func (p *pickleWriter) orderedDict() {
	p.global("collections", "OrderedDict")
	p.WriteByte(')')
	p.WriteByte('R')
}

func rowMajorStride(size []int) []int {
	stride := make([]int, len(size))
	s := 1
	for i := len(size) - 1; i >= 0; i-- {
		stride[i] = s
		s *= size[i]
	}
	return stride
}

// writeTorchArchive writes a zip-format torch.save archive holding an
// OrderedDict of tensors, optionally nested under wrapper.
func writeTorchArchive(t *testing.T, path, wrapper string, tensors []torchTensor) {
	t.Helper()
	writeTorch(t, path, wrapper, false, tensors)
}

// writeTorchDictArchive is writeTorchArchive with a plain dict at the top.
func writeTorchDictArchive(t *testing.T, path string, tensors []torchTensor) {
	t.Helper()
	writeTorch(t, path, "", true, tensors)
}

func writeTorch(t *testing.T, path, wrapper string, plainDict bool, tensors []torchTensor) {
	t.Helper()
	var p pickleWriter
	p.WriteString("\x80\x02")
	if wrapper != "" {
		p.WriteByte('}')
		p.str(wrapper)
	}
	if plainDict {
		p.WriteByte('}')
	} else {
		p.orderedDict()
	}
	p.WriteByte('(')
	for i, tt := range tensors {
		stride := tt.stride
		if stride == nil {
			stride = rowMajorStride(tt.size)
		}
		p.str(tt.name)
		p.global("torch._utils", "_rebuild_tensor_v2")
		p.WriteByte('(')
		p.WriteByte('(')
		p.str("storage")
		if tt.bf16 {
			p.global("torch", "BFloat16Storage")
		} else {
			p.global("torch", "FloatStorage")
		}
		p.str(string(rune('0' + i)))
		p.str("cpu")
		p.int(len(tt.data))
		p.WriteByte('t')
		p.WriteByte('Q')
		p.int(0)
		p.ints(tt.size)
		p.ints(stride)
		p.WriteByte(0x89)
		p.orderedDict()
		p.WriteByte('t')
		p.WriteByte('R')
	}
	p.WriteByte('u')
	if wrapper != "" {
		p.WriteByte('s')
	}
	p.WriteByte('.')

	f := must.M1(os.Create(path))
	defer func() { require.NoError(t, f.Close()) }()
	zw := zip.NewWriter(f)
	add := func(name string, data []byte) {
		w := must.M1(zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store}))
		must.M1(w.Write(data))
	}
	add("archive/data.pkl", p.Bytes())
	for i, tt := range tensors {
		var buf []byte
		for _, v := range tt.data {
			bits := math.Float32bits(v)
			if tt.bf16 {
				buf = binary.LittleEndian.AppendUint16(buf, uint16(bits>>16))
			} else {
				buf = binary.LittleEndian.AppendUint32(buf, bits)
			}
		}
		add("archive/data/"+string(rune('0'+i)), buf)
	}
	add("archive/version", []byte("3\n"))
	require.NoError(t, zw.Close())
}
