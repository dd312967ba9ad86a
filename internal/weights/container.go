package weights

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/modelexport/internal/tensor"
)

// Format identifies a container encoding.
type Format int

// Supported container formats.
const (
	FormatUnknown Format = iota
	FormatSafeTensors
	FormatPyTorch
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatSafeTensors:
		return "SafeTensors"
	case FormatPyTorch:
		return "PyTorch"
	default:
		return "Unknown"
	}
}

// ErrUnsupportedFormat is returned by Open when the file is neither a
// SafeTensors file nor a PyTorch archive.
var ErrUnsupportedFormat = errors.New("unsupported weight container format")

// ErrTensorNotFound is returned by Container.Tensor for an unknown name.
var ErrTensorNotFound = errors.New("tensor not found")

// Container is a read-only mapping from parameter name to tensor.
type Container interface {
	// Format returns the container encoding.
	Format() Format

	// Names returns all tensor names, sorted.
	Names() []string

	// Tensor decodes one tensor. Half and bfloat16 data is widened to
	// float32; other dtypes are returned as stored.
	Tensor(name string) (*tensor.RawTensor, error)

	// Metadata returns free-form string metadata, possibly empty.
	Metadata() map[string]string

	// Close releases the underlying file.
	Close() error
}

var (
	zipMagic    = []byte("PK\x03\x04")
	pickleMagic = byte(0x80) // PROTO opcode of a legacy torch.save stream
)

// DetectFormat inspects the first bytes of path.
func DetectFormat(path string) (Format, error) {
	//nolint:gosec // G304: weight paths are user input by design.
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, errors.Wrap(err, "opening weights")
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return FormatUnknown, errors.Wrapf(err, "reading %s", path)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatPyTorch, nil
	case looksLikeSafeTensors(head):
		return FormatSafeTensors, nil
	case looksLikePickle(head):
		return FormatPyTorch, nil
	}
	return FormatUnknown, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
}

// looksLikePickle checks for a PROTO opcode with a protocol torch.save
// writes. A safetensors header length can also start with 0x80, so this
// runs after looksLikeSafeTensors.
func looksLikePickle(head []byte) bool {
	return len(head) >= 2 && head[0] == pickleMagic && head[1] >= 2 && head[1] <= 5
}

// looksLikeSafeTensors checks for an 8-byte header length followed by '{'.
func looksLikeSafeTensors(head []byte) bool {
	return len(head) >= 9 && head[8] == '{'
}

// Open opens a weight container, detecting its format.
func Open(path string) (Container, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatSafeTensors:
		return OpenSafeTensors(path)
	case FormatPyTorch:
		return OpenPyTorch(path)
	}
	return nil, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
}

// ReadOptions configures ReadAll.
type ReadOptions struct {
	// Progress, when non-nil, receives a progress bar while tensors decode.
	Progress io.Writer
}

// ReadAll decodes every tensor of c into a state dict.
func ReadAll(c Container, opts ReadOptions) (map[string]*tensor.RawTensor, error) {
	names := c.Names()
	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = progressbar.NewOptions(len(names),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionSetDescription("Decoding weights"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
			progressbar.OptionClearOnFinish(),
		)
	}
	sd := make(map[string]*tensor.RawTensor, len(names))
	for _, name := range names {
		t, err := c.Tensor(name)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", name)
		}
		sd[name] = t
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return sd, nil
}

// Load opens path and decodes every tensor.
func Load(path string, opts ReadOptions) (map[string]*tensor.RawTensor, error) {
	c, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()
	return ReadAll(c, opts)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
