package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/config"
	"github.com/born-ml/modelexport/internal/console"
	"github.com/born-ml/modelexport/internal/logging"
	"github.com/born-ml/modelexport/internal/models"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
	"github.com/born-ml/modelexport/internal/weights"
)

var tinyRRDB = models.RRDBConfig{InChannels: 3, OutChannels: 3, NumFeat: 4, NumBlock: 1, NumGrowCh: 2, Scale: 4}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Upscaler.InputSize = 4
	cfg.RRDB.InputSize = 4
	return cfg
}

func quiet(extra ...Option) []Option {
	return append([]Option{WithLogger(logging.NewNop())}, extra...)
}

type rejectAll struct{}

func (rejectAll) Check(*onnx.ModelProto) error {
	return errors.New("graph has no name")
}

// rrdbWeights writes the state dict of a tiny RRDBNet built from seed,
// with every key passed through rename.
func rrdbWeights(t *testing.T, seed int64, rename func(string) string) (string, map[string]*tensor.RawTensor) {
	t.Helper()
	net := must.M1(models.NewRRDBNet(tinyRRDB, models.NewRNG(seed), cpu.New()))
	sd := map[string]*tensor.RawTensor{}
	for name, v := range nn.StateDict(net) {
		sd[rename(name)] = v
	}
	path := filepath.Join(t.TempDir(), "RRDB_ESRGAN_x4.safetensors")
	must.M1(weights.WriteSafeTensors(path, sd, nil))
	return path, nn.StateDict(net)
}

func keep(s string) string { return s }

func TestRunClassifier(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "image_classifier_model.onnx")
	require.NoError(t, RunClassifier(context.Background(), testConfig(), console.NewPlain(&out), path, quiet()...))

	assert.FileExists(t, path)
	lines := out.String()
	assert.Contains(t, lines, "Exporting to ONNX...\n")
	assert.Contains(t, lines, "Successfully exported model to "+path+"\n")
	assert.Contains(t, lines, "61,706 parameters")
	assert.Contains(t, lines, "ONNX model is valid!\n")

	info := must.M1(onnx.Inspect(path))
	assert.Equal(t, "input [1×1×32×32]", info.Inputs[0].String())
	assert.Equal(t, "output [1×10]", info.Outputs[0].String())
	assert.Equal(t, models.ArchClassifier, info.Metadata["architecture"])
	assert.Equal(t, "modelexport", info.ProducerName)
}

func TestRunClassifierDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Classifier.Output = filepath.Join(dir, "from-config.onnx")
	cfg.Verify.Check = false

	var out bytes.Buffer
	require.NoError(t, RunClassifier(context.Background(), cfg, console.NewPlain(&out), "", quiet()...))
	assert.FileExists(t, cfg.Classifier.Output)
	assert.Contains(t, out.String(), "ONNX checker not available. Skipping verification.\n")
}

func TestRunUpscaler(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "RealESRGAN_x4plus.safetensors")
	must.M1(weights.WriteSafeTensors(in, map[string]*tensor.RawTensor{"conv_first.weight": tensor.Full(tensor.Shape{2}, 1)}, nil))
	outPath := filepath.Join(dir, "upscaler.onnx")

	var out bytes.Buffer
	cfg := testConfig()
	cfg.Verify.Parity = true
	require.NoError(t, RunUpscaler(context.Background(), cfg, console.NewPlain(&out), in, outPath, quiet()...))

	lines := out.String()
	assert.Contains(t, lines, "Converting "+in+" to "+outPath+"...\n")
	assert.Contains(t, lines, "Successfully exported model to "+outPath+"\n")
	assert.Contains(t, lines, "Parity check passed")

	info := must.M1(onnx.Inspect(outPath))
	assert.Equal(t, "input [batch_size×3×height×width]", info.Inputs[0].String())
	assert.Equal(t, "output [batch_size×3×height×width]", info.Outputs[0].String())
}

func TestRunUpscalerMissingWeights(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "upscaler.onnx")
	var out bytes.Buffer
	err := RunUpscaler(context.Background(), testConfig(), console.NewPlain(&out), filepath.Join(dir, "nope.pth"), outPath, quiet()...)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoFileExists(t, outPath)
	assert.NotContains(t, out.String(), "Exporting to ONNX")
}

func TestRunUpscalerValidationWarning(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "w.safetensors")
	must.M1(weights.WriteSafeTensors(in, map[string]*tensor.RawTensor{"x": tensor.Full(tensor.Shape{1}, 1)}, nil))
	outPath := filepath.Join(dir, "upscaler.onnx")

	var out bytes.Buffer
	require.NoError(t, RunUpscaler(context.Background(), testConfig(), console.NewPlain(&out), in, outPath, quiet(WithChecker(rejectAll{}))...))
	assert.Contains(t, out.String(), "ONNX verification warning: graph has no name\nThe model may still work with OpenCV.\n")
	assert.FileExists(t, outPath)
}

func TestRunRRDBStrict(t *testing.T) {
	in, want := rrdbWeights(t, 5, keep)
	outPath := filepath.Join(t.TempDir(), "rrdb.onnx")

	var out bytes.Buffer
	cfg := testConfig()
	cfg.Verify.Parity = true
	require.NoError(t, RunRRDB(context.Background(), cfg, console.NewPlain(&out), in, outPath, quiet(WithRRDBConfig(tinyRRDB))...))

	lines := out.String()
	assert.Contains(t, lines, "Loading weights from "+in+"...\n")
	assert.Contains(t, lines, "Weights loaded (tier 1: strict)\n")
	assert.NotContains(t, lines, "strict=false")
	assert.Contains(t, lines, "ONNX model is valid!\n")
	assert.Contains(t, lines, "Parity check passed")

	// The exported initializers are the loaded weights, not the seed-0 init.
	proto := must.M1(onnx.ParseFile(outPath))
	found := false
	for i := range proto.Graph.Initializers {
		init := &proto.Graph.Initializers[i]
		if init.Name != "conv_first.weight" {
			continue
		}
		got := must.M1(onnx.TensorFromProto(init))
		assert.Equal(t, want["conv_first.weight"].AsFloat32(), got.AsFloat32())
		found = true
	}
	assert.True(t, found)

	info := must.M1(onnx.Inspect(outPath))
	assert.Equal(t, "strict", info.Metadata["weights_tier"])
	assert.Equal(t, "output [batch_size×3×height×width]", info.Outputs[0].String())
}

func TestRunRRDBRenamed(t *testing.T) {
	in, _ := rrdbWeights(t, 5, func(s string) string { return "module." + s })
	var out bytes.Buffer
	outPath := filepath.Join(t.TempDir(), "rrdb.onnx")
	require.NoError(t, RunRRDB(context.Background(), testConfig(), console.NewPlain(&out), in, outPath, quiet(WithRRDBConfig(tinyRRDB))...))
	assert.Contains(t, out.String(), "Weights loaded (tier 2: renamed)\n")
}

func TestRunRRDBPartial(t *testing.T) {
	in, _ := rrdbWeights(t, 5, func(s string) string {
		if s == "conv_last.weight" || s == "conv_last.bias" {
			return "tail." + s
		}
		return s
	})
	var out bytes.Buffer
	outPath := filepath.Join(t.TempDir(), "rrdb.onnx")
	require.NoError(t, RunRRDB(context.Background(), testConfig(), console.NewPlain(&out), in, outPath, quiet(WithRRDBConfig(tinyRRDB))...))

	lines := out.String()
	assert.Contains(t, lines, "Weights loaded (tier 3: partial)\n")
	assert.Contains(t, lines, "Warning: loaded with strict=false; 2 parameters left at initial values\n")
	assert.Contains(t, lines, "Successfully exported model to "+outPath)
}

func TestRunRRDBMissingWeights(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "rrdb.onnx")
	var out bytes.Buffer
	err := RunRRDB(context.Background(), testConfig(), console.NewPlain(&out), filepath.Join(dir, "missing.pth"), outPath, quiet(WithRRDBConfig(tinyRRDB))...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")
	assert.NoFileExists(t, outPath)
}

func TestRunRRDBBadPrefixRule(t *testing.T) {
	in, _ := rrdbWeights(t, 5, keep)
	cfg := testConfig()
	cfg.Weights.PrefixRules = []string{"module."}
	err := RunRRDB(context.Background(), cfg, console.NewPlain(&bytes.Buffer{}), in, filepath.Join(t.TempDir(), "o.onnx"), quiet(WithRRDBConfig(tinyRRDB))...)
	assert.Error(t, err)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "c.onnx")
	err := RunClassifier(ctx, testConfig(), console.NewPlain(&bytes.Buffer{}), path, quiet()...)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, path)
}

func TestProgressOption(t *testing.T) {
	in, _ := rrdbWeights(t, 5, keep)
	cfg := testConfig()
	cfg.Progress = true
	cfg.Verify.Check = false
	var progress bytes.Buffer
	require.NoError(t, RunRRDB(context.Background(), cfg, console.NewPlain(&bytes.Buffer{}), in,
		filepath.Join(t.TempDir(), "o.onnx"), quiet(WithRRDBConfig(tinyRRDB), WithProgress(&progress))...))
	assert.NotZero(t, progress.Len())
}
