package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/weights"
)

type outcome struct {
	code   int
	stdout string
	stderr string
}

func run(cmd *cobra.Command, args ...string) outcome {
	var stdout, stderr bytes.Buffer
	code := Execute(cmd, args, &stdout, &stderr)
	return outcome{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// smallConfig writes a config that keeps the upscaler graphs tiny.
func smallConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modelexport.yaml")
	body := "upscaler:\n  input_size: 4\nrrdb:\n  input_size: 4\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// seedWeights writes a safetensors file with init-weights.
func seedWeights(t *testing.T, arch string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), arch+".safetensors")
	res := run(NewToolCommand(), "init-weights", arch, path)
	require.Equal(t, 0, res.code, res.stdout)
	return path
}

func TestConverterUsage(t *testing.T) {
	for name, newCmd := range map[string]func() *cobra.Command{
		"upscaler-export": NewUpscalerCommand,
		"rrdb-export":     NewRRDBCommand,
	} {
		for _, args := range [][]string{nil, {"in.pth"}, {"in.pth", "out.onnx", "extra"}} {
			res := run(newCmd(), args...)
			assert.Equal(t, 1, res.code, "%s %v", name, args)
			assert.Equal(t, "Usage: "+name+" input.pth output.onnx\n", res.stdout, "%s %v", name, args)
		}
	}
}

func TestUpscalerExport(t *testing.T) {
	input := seedWeights(t, "upscaler")
	output := filepath.Join(t.TempDir(), "upscaler.onnx")

	res := run(NewUpscalerCommand(), "--config", smallConfig(t, ""), "--parity", input, output)
	require.Equal(t, 0, res.code, res.stdout)
	assert.Contains(t, res.stdout, "Converting "+input+" to "+output+"...")
	assert.Contains(t, res.stdout, "Successfully exported model to "+output)
	assert.Contains(t, res.stdout, "ONNX model is valid!")
	assert.Contains(t, res.stdout, "Parity check passed")

	info, err := onnx.Inspect(output)
	require.NoError(t, err)
	require.Len(t, info.Inputs, 1)
	assert.Equal(t, []string{"batch_size", "3", "height", "width"}, info.Inputs[0].Dims)
}

func TestUpscalerMissingInput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.onnx")
	res := run(NewUpscalerCommand(), "--config", smallConfig(t, ""), filepath.Join(dir, "missing.pth"), output)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "Error: ")
	assert.NoFileExists(t, output)
}

func TestRRDBBadPrefixRule(t *testing.T) {
	cfg := smallConfig(t, "weights:\n  prefix_rules: [nodelimiter]\n")
	res := run(NewRRDBCommand(), "--config", cfg, "in.pth", filepath.Join(t.TempDir(), "out.onnx"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "Error: ")
	assert.Contains(t, res.stdout, "nodelimiter")
}

func TestConfigErrorsAreReported(t *testing.T) {
	res := run(NewUpscalerCommand(), "--config", filepath.Join(t.TempDir(), "absent.yaml"), "in.pth", "out.onnx")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "Error: ")
}

func TestClassifierExport(t *testing.T) {
	output := filepath.Join(t.TempDir(), "classifier.onnx")
	res := run(NewClassifierCommand(), "--config", smallConfig(t, ""), "--output", output)
	require.Equal(t, 0, res.code, res.stdout)
	assert.Contains(t, res.stdout, "Exporting to ONNX...")
	assert.Contains(t, res.stdout, "Successfully exported model to "+output)
	assert.FileExists(t, output)
}

func TestClassifierRejectsArgs(t *testing.T) {
	res := run(NewClassifierCommand(), "extra")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "Usage: classifier-export")
}

func TestVersion(t *testing.T) {
	res := run(NewToolCommand(), "version")
	require.Equal(t, 0, res.code)
	assert.Regexp(t, `^modelexport v\d+\.\d+\.\d+\n$`, res.stdout)
}

func TestInspectAndCheck(t *testing.T) {
	output := filepath.Join(t.TempDir(), "classifier.onnx")
	require.Equal(t, 0, run(NewClassifierCommand(), "--config", smallConfig(t, ""), "-o", output).code)

	res := run(NewToolCommand(), "inspect", output)
	require.Equal(t, 0, res.code, res.stdout)
	assert.Contains(t, res.stdout, "opset 11")
	assert.Contains(t, res.stdout, "input  input [1×1×32×32]")
	assert.Contains(t, res.stdout, "61,706 parameters")
	assert.Contains(t, res.stdout, "Conv=2")
	assert.Contains(t, res.stdout, "architecture: classifier")

	res = run(NewToolCommand(), "check", output)
	require.Equal(t, 0, res.code, res.stdout)
	assert.Equal(t, "ONNX model is valid!\n", res.stdout)
}

func TestCheckRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.onnx")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o600))
	res := run(NewToolCommand(), "check", path)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "Error: ")
}

func TestInitWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classifier.safetensors")
	res := run(NewToolCommand(), "init-weights", "--seed", "7", "classifier", path)
	require.Equal(t, 0, res.code, res.stdout)
	assert.Contains(t, res.stdout, "61,706 parameters")

	c, err := weights.Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "classifier", c.Metadata()["architecture"])
	assert.Equal(t, "7", c.Metadata()["seed"])
	assert.Contains(t, c.Names(), "conv1.weight")
}

func TestInitWeightsUnknownArchitecture(t *testing.T) {
	res := run(NewToolCommand(), "init-weights", "vgg", filepath.Join(t.TempDir(), "x.safetensors"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "unknown architecture")
}

func TestToolSubcommandUsage(t *testing.T) {
	res := run(NewToolCommand(), "inspect")
	assert.Equal(t, 1, res.code)
	assert.Equal(t, "Usage: modelexport inspect file.onnx\n", res.stdout)
}
