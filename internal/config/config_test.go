package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modelexport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(11), cfg.Opset)
	assert.Equal(t, "modelexport", cfg.ProducerName)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Verify.Check)
	assert.False(t, cfg.Verify.Parity)
	assert.InDelta(t, 1e-4, cfg.Verify.Tolerance, 1e-12)
	assert.Equal(t, "image_classifier_model.onnx", cfg.Classifier.Output)
	assert.Equal(t, 64, cfg.Upscaler.InputSize)
	assert.Equal(t, 64, cfg.RRDB.InputSize)
	assert.Equal(t, []string{"module.="}, cfg.Weights.PrefixRules)
	assert.NoError(t, cfg.Validate())
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := LoadWithEnv("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
opset: 13
verify:
  parity: true
rrdb:
  input_size: 32
weights:
  prefix_rules: ["module.=", "model.="]
`)
	cfg, err := LoadWithEnv(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(13), cfg.Opset)
	assert.True(t, cfg.Verify.Parity)
	assert.True(t, cfg.Verify.Check, "unset keys keep their defaults")
	assert.Equal(t, 32, cfg.RRDB.InputSize)
	assert.Equal(t, 64, cfg.Upscaler.InputSize)
	assert.Equal(t, []string{"module.=", "model.="}, cfg.Weights.PrefixRules)
}

func TestLoadFileFromEnv(t *testing.T) {
	path := writeConfig(t, "seed: 7\n")
	cfg, err := LoadWithEnv("", env(map[string]string{EnvConfigFile: path}))
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Seed)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "seed: 7\nlog:\n  level: info\n")
	cfg, err := LoadWithEnv(path, env(map[string]string{
		"MODELEXPORT_SEED":                 "9",
		"MODELEXPORT_LOG_LEVEL":            "debug",
		"MODELEXPORT_VERIFY_PARITY":        "true",
		"MODELEXPORT_VERIFY_TOLERANCE":     "0.001",
		"MODELEXPORT_WEIGHTS_PREFIX_RULES": "module.=,net.=",
		"MODELEXPORT_PROGRESS":             "1",
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Verify.Parity)
	assert.InDelta(t, 0.001, cfg.Verify.Tolerance, 1e-12)
	assert.Equal(t, []string{"module.=", "net.="}, cfg.Weights.PrefixRules)
	assert.True(t, cfg.Progress)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "colour: blue\n"},
		{"bad type", "opset: eleven\n"},
		{"old opset", "opset: 9\n"},
		{"zero input size", "upscaler:\n  input_size: 0\n"},
		{"malformed yaml", "verify: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithEnv(writeConfig(t, tt.body), env(nil))
			assert.Error(t, err)
		})
	}

	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKeysAndEnvNames(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "verify.parity")
	assert.Contains(t, keys, "weights.prefix_rules")
	assert.IsNonDecreasing(t, keys)
	assert.Equal(t, "MODELEXPORT_CLASSIFIER_OUTPUT", EnvName("classifier.output"))
}
