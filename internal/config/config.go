// Package config loads exporter settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// MODELEXPORT_* environment variables. Keys are dotted paths ("verify.parity");
// the matching variable upper-cases the path and replaces dots with
// underscores (MODELEXPORT_VERIFY_PARITY).
package config

import (
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODELEXPORT_"

// EnvConfigFile names the variable holding the config file path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Config holds all exporter settings.
type Config struct {
	Opset        int64  `mapstructure:"opset"`
	Seed         int64  `mapstructure:"seed"`
	ProducerName string `mapstructure:"producer_name"`
	Progress     bool   `mapstructure:"progress"` // Show a progress bar while decoding weights

	Log        LogConfig        `mapstructure:"log"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Upscaler   UpscalerConfig   `mapstructure:"upscaler"`
	RRDB       RRDBConfig       `mapstructure:"rrdb"`
	Weights    WeightsConfig    `mapstructure:"weights"`
}

// LogConfig configures the diagnostic logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// VerifyConfig configures post-export checks.
type VerifyConfig struct {
	Check     bool    `mapstructure:"check"`     // Structural validation of the written file
	Parity    bool    `mapstructure:"parity"`    // Re-run the file and compare outputs
	Tolerance float64 `mapstructure:"tolerance"` // Max abs diff accepted by the parity check
}

// ClassifierConfig configures the classifier exporter.
type ClassifierConfig struct {
	Output string `mapstructure:"output"`
}

// UpscalerConfig configures the simple upscaler exporter.
type UpscalerConfig struct {
	InputSize int `mapstructure:"input_size"`
}

// RRDBConfig configures the RRDB exporter.
type RRDBConfig struct {
	InputSize int `mapstructure:"input_size"`
}

// WeightsConfig configures weight loading.
type WeightsConfig struct {
	// PrefixRules are "from=to" key rewrites tried by the fallback loader.
	PrefixRules []string `mapstructure:"prefix_rules"`
}

// defaults returns the built-in settings as a nested map.
func defaults() map[string]any {
	return map[string]any{
		"opset":         11,
		"seed":          0,
		"producer_name": "modelexport",
		"progress":      false,
		"log":           map[string]any{"level": "warn"},
		"verify": map[string]any{
			"check":     true,
			"parity":    false,
			"tolerance": 1e-4,
		},
		"classifier": map[string]any{"output": "image_classifier_model.onnx"},
		"upscaler":   map[string]any{"input_size": 64},
		"rrdb":       map[string]any{"input_size": 64},
		"weights":    map[string]any{"prefix_rules": []any{"module.="}},
	}
}

// Default returns the built-in settings.
func Default() Config {
	cfg, err := decode(defaults())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads settings. path may be empty, in which case MODELEXPORT_CONFIG
// is consulted; with neither, only defaults and the environment apply.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	settings := defaults()

	if path == "" {
		path, _ = lookup(EnvConfigFile)
	}
	if path != "" {
		//nolint:gosec // G304: config path is user input by design.
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "reading config")
		}
		var file map[string]any
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, errors.Wrapf(err, "parsing config %s", path)
		}
		merge(settings, file)
	}

	for _, key := range leafKeys("", defaults()) {
		if v, ok := lookup(EnvName(key)); ok {
			set(settings, key, v)
		}
	}

	cfg, err := decode(settings)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// EnvName returns the environment variable overriding a dotted key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Keys returns every dotted key, sorted.
func Keys() []string {
	return leafKeys("", defaults())
}

func decode(settings map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "config decoder")
	}
	if err := dec.Decode(settings); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	// Resize with roi/scales inputs needs opset 11.
	if c.Opset < 11 || c.Opset > 21 {
		return errors.Errorf("config: opset %d outside supported range 11..21", c.Opset)
	}
	if c.Upscaler.InputSize <= 0 || c.RRDB.InputSize <= 0 {
		return errors.Errorf("config: input sizes must be positive (upscaler %d, rrdb %d)",
			c.Upscaler.InputSize, c.RRDB.InputSize)
	}
	if c.Verify.Tolerance <= 0 {
		return errors.Errorf("config: verify.tolerance must be positive, got %g", c.Verify.Tolerance)
	}
	if c.Classifier.Output == "" {
		return errors.New("config: classifier.output is empty")
	}
	return nil
}

// merge overlays src onto dst, descending into nested maps.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				merge(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// set assigns a dotted key, creating intermediate maps.
func set(m map[string]any, key string, v any) {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		sub, ok := m[p].(map[string]any)
		if !ok {
			sub = map[string]any{}
			m[p] = sub
		}
		m = sub
	}
	m[parts[len(parts)-1]] = v
}

func leafKeys(prefix string, m map[string]any) []string {
	var keys []string
	for k, v := range m {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			keys = append(keys, leafKeys(full, sub)...)
			continue
		}
		keys = append(keys, full)
	}
	sort.Strings(keys)
	return keys
}
