// Package app implements the three exporters as plain functions over
// config, a console printer and file paths. The cmd binaries only parse
// arguments and map errors to exit codes.
package app

import (
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/config"
	"github.com/born-ml/modelexport/internal/console"
	"github.com/born-ml/modelexport/internal/export"
	"github.com/born-ml/modelexport/internal/logging"
	"github.com/born-ml/modelexport/internal/models"
	"github.com/born-ml/modelexport/internal/onnx/checker"
)

// Version is reported as the ONNX producer version and by the tool binary.
var Version = "0.1.0"

// stderr receives logs and progress bars unless overridden.
var stderr io.Writer = os.Stderr

// upscalerAxes are the symbolic axes of both upscaler exporters.
var upscalerAxes = map[int]string{0: "batch_size", 2: "height", 3: "width"}

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	logger   *slog.Logger
	progress io.Writer
	backend  *cpu.CPUBackend
	rrdb     models.RRDBConfig
	checker  export.Checker
}

// WithLogger sets the diagnostic logger. The default is built from
// cfg.Log.Level and writes to stderr.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) {
		o.logger = l
	}
}

// WithProgress sets where the weight-decoding progress bar goes when
// cfg.Progress is on. The default is stderr.
func WithProgress(w io.Writer) Option {
	return func(o *runOptions) {
		o.progress = w
	}
}

// WithBackend sets the CPU backend.
func WithBackend(b *cpu.CPUBackend) Option {
	return func(o *runOptions) {
		o.backend = b
	}
}

// WithRRDBConfig replaces the RRDBNet configuration. Pretrained weights
// only fit the default; smaller networks are for testing.
func WithRRDBConfig(c models.RRDBConfig) Option {
	return func(o *runOptions) {
		o.rrdb = c
	}
}

// WithChecker replaces the structural checker used when cfg.Verify.Check
// is on. A nil checker disables validation with a notice.
func WithChecker(c export.Checker) Option {
	return func(o *runOptions) {
		o.checker = c
	}
}

func newRunOptions(cfg config.Config, opts []Option) *runOptions {
	o := &runOptions{
		progress: stderr,
		rrdb:     models.DefaultRRDBConfig(),
		checker:  checker.Checker{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		level, err := logging.ParseLevel(cfg.Log.Level)
		o.logger = logging.NewWithWriter(stderr, level)
		if err != nil {
			o.logger.Warn("falling back to info logging", "error", err)
		}
	}
	if o.backend == nil {
		o.backend = cpu.New()
	}
	if !cfg.Verify.Check {
		o.checker = nil
	}
	return o
}

// exportOptions maps config onto export.Options.
func exportOptions(cfg config.Config, o *runOptions, path, arch string) export.Options {
	return export.Options{
		Path:            path,
		Opset:           cfg.Opset,
		Seed:            cfg.Seed,
		ProducerName:    cfg.ProducerName,
		ProducerVersion: Version,
		Metadata:        map[string]string{"architecture": arch},
		Checker:         o.checker,
		Parity:          cfg.Verify.Parity,
		Tolerance:       cfg.Verify.Tolerance,
		Logger:          o.logger,
	}
}

// reportExport prints the success line and the validation outcome.
func reportExport(p *console.Printer, r *export.Result) {
	p.Success("Successfully exported model to %s", r.Path)
	p.Detail("%d nodes, %s parameters, %s", r.Nodes, humanize.Comma(int64(r.Parameters)), humanize.Bytes(uint64(r.BytesWritten)))

	switch r.Validation {
	case export.ValidationPassed:
		p.Success("ONNX model is valid!")
	case export.ValidationFailed:
		p.Warning("ONNX verification warning: %v", r.ValidationErr)
		p.Status("The model may still work with OpenCV.")
	default:
		p.Status("ONNX checker not available. Skipping verification.")
	}

	if r.ParityChecked {
		if r.ParityErr != nil {
			p.Warning("Parity check warning: %v", r.ParityErr)
		} else {
			p.Status("Parity check passed (max abs diff %.3g)", r.ParityDiff)
		}
	}
}
