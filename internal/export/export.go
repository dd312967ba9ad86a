// Package export traces a network into an ONNX file.
//
// Export runs one forward pass on a seeded synthetic input, replays the
// network through its Export methods into a GraphBuilder, writes the model
// and optionally validates it structurally and numerically.
package export

import (
	"context"
	"log/slog"
	"math/rand"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/logging"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Defaults applied by Export for zero option values.
const (
	DefaultOpset      = 11
	DefaultInputName  = "input"
	DefaultOutputName = "output"
	DefaultTolerance  = 1e-4
	DefaultGraphName  = "main_graph"
)

// ErrTrainingMode is returned when the model has not been switched to
// inference mode.
var ErrTrainingMode = errors.New("model is in training mode; call Eval() before exporting")

// Model is what Export needs from a network.
type Model interface {
	nn.Module
	nn.Trainable
}

// Checker validates a written model. checker.Checker satisfies it.
type Checker interface {
	Check(m *onnx.ModelProto) error
}

// Options configures Export.
type Options struct {
	Path       string       // Output file
	InputShape tensor.Shape // Shape of the synthetic input
	InputName  string
	OutputName string

	// DynamicAxes names axes of both the input and the output that are
	// declared symbolic, e.g. {0: "batch_size", 2: "height", 3: "width"}.
	DynamicAxes map[int]string

	Opset           int64
	Seed            int64
	ProducerName    string
	ProducerVersion string
	DocString       string
	Metadata        map[string]string

	// Checker validates the written file. Nil skips validation.
	Checker Checker

	// Parity reloads the written file through the interpreter and compares
	// its output with the eager forward pass.
	Parity    bool
	Tolerance float64

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.InputName == "" {
		o.InputName = DefaultInputName
	}
	if o.OutputName == "" {
		o.OutputName = DefaultOutputName
	}
	if o.Opset == 0 {
		o.Opset = DefaultOpset
	}
	if o.Tolerance == 0 {
		o.Tolerance = DefaultTolerance
	}
}

// Validation is the outcome of the structural check.
type Validation int

// Validation outcomes.
const (
	ValidationSkipped Validation = iota // No checker configured
	ValidationPassed
	ValidationFailed
)

// String returns "skipped", "passed" or "failed".
func (v Validation) String() string {
	switch v {
	case ValidationPassed:
		return "passed"
	case ValidationFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Result describes a successful export. Validation and parity problems
// are reported here, not as errors.
type Result struct {
	Path         string
	BytesWritten int
	InputShape   tensor.Shape
	OutputShape  tensor.Shape
	Nodes        int
	Initializers int
	Parameters   int

	Validation    Validation
	ValidationErr error

	ParityChecked bool
	ParityDiff    float64
	ParityErr     error // Interpreter failure or diff above tolerance
}

// Export writes m to opts.Path.
func Export(ctx context.Context, m Model, opts Options) (*Result, error) {
	opts.setDefaults()
	logger := logging.OrNop(opts.Logger)

	if m.IsTraining() {
		return nil, ErrTrainingMode
	}
	if opts.Path == "" {
		return nil, errors.New("export: no output path")
	}
	if err := opts.InputShape.Validate(); err != nil || len(opts.InputShape) == 0 {
		return nil, errors.Errorf("export: invalid input shape %s", opts.InputShape)
	}

	input := tensor.Randn(opts.InputShape, rand.New(rand.NewSource(opts.Seed))) //nolint:gosec // synthetic input
	var output *tensor.RawTensor
	if err := exceptions.TryCatch[error](func() { output = m.Forward(input) }); err != nil {
		return nil, errors.WithMessage(err, "forward pass")
	}
	logger.Debug("forward pass done", "input", input.Shape(), "output", output.Shape())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var proto *onnx.ModelProto
	var nodes, inits int
	err := exceptions.TryCatch[error](func() {
		b := onnx.NewGraphBuilder(DefaultGraphName)
		in := b.AddInput(opts.InputName, onnx.TensorProtoFloat, onnx.ShapeDims(opts.InputShape, opts.DynamicAxes))
		out := m.Export(b, in)
		b.RenameValue(out, opts.OutputName)
		b.AddOutput(opts.OutputName, onnx.TensorProtoFloat, onnx.ShapeDims(output.Shape(), opts.DynamicAxes))
		nodes, inits = b.NumNodes(), b.NumInitializers()
		proto = b.Model(onnx.ModelOptions{
			Opset:           opts.Opset,
			ProducerName:    opts.ProducerName,
			ProducerVersion: opts.ProducerVersion,
			DocString:       opts.DocString,
			Metadata:        withMode(opts.Metadata, m.IsTraining()),
		})
	})
	if err != nil {
		return nil, errors.WithMessage(err, "building graph")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := onnx.WriteFile(opts.Path, proto)
	if err != nil {
		return nil, errors.WithMessage(err, "writing model")
	}
	logger.Info("model written", "path", opts.Path, "bytes", n, "nodes", nodes, "initializers", inits)

	result := &Result{
		Path:         opts.Path,
		BytesWritten: n,
		InputShape:   input.Shape().Clone(),
		OutputShape:  output.Shape().Clone(),
		Nodes:        nodes,
		Initializers: inits,
		Parameters:   nn.ParameterCount(m),
	}

	if opts.Checker != nil {
		result.ValidationErr = validate(opts.Path, opts.Checker)
		result.Validation = ValidationPassed
		if result.ValidationErr != nil {
			result.Validation = ValidationFailed
			logger.Warn("model validation failed", "error", result.ValidationErr)
		}
	}

	if opts.Parity {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.ParityChecked = true
		result.ParityDiff, result.ParityErr = parity(opts.Path, input, output, opts.Tolerance)
		if result.ParityErr != nil {
			logger.Warn("parity check failed", "error", result.ParityErr)
		} else {
			logger.Info("parity check passed", "max_abs_diff", result.ParityDiff)
		}
	}
	return result, nil
}

func withMode(md map[string]string, training bool) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out["training_mode"] = strconv.FormatBool(training)
	return out
}

// validate re-reads the written file so the check sees exactly what a
// runtime would.
func validate(path string, c Checker) error {
	written, err := onnx.ParseFile(path)
	if err != nil {
		return err
	}
	return c.Check(written)
}

// parity runs the written file on input and compares with want.
func parity(path string, input, want *tensor.RawTensor, tolerance float64) (float64, error) {
	model, err := onnx.Load(path)
	if err != nil {
		return 0, errors.WithMessage(err, "loading exported model")
	}
	got, err := model.Forward(input)
	if err != nil {
		return 0, errors.WithMessage(err, "running exported model")
	}
	diff, err := tensor.MaxAbsDiff(want, got)
	if err != nil {
		return 0, err
	}
	if diff > tolerance {
		return diff, errors.Errorf("max abs diff %g exceeds tolerance %g", diff, tolerance)
	}
	return diff, nil
}
