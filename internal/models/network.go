package models

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/tensor"
)

// Network is a complete model that can be run, loaded and exported.
type Network interface {
	nn.Module
	nn.Trainable

	// Architecture returns the registry name of the network.
	Architecture() string

	// InputShape returns the synthetic input shape used for export, for a
	// square image of the given side (ignored by fixed-size networks).
	InputShape(size int) tensor.Shape
}

// ErrUnknownArchitecture is returned by New for an unregistered name.
var ErrUnknownArchitecture = errors.New("unknown architecture")

// Architecture names.
const (
	ArchClassifier = "classifier"
	ArchUpscaler   = "upscaler"
	ArchRRDB       = "rrdb"
)

var builders = map[string]func(rng *rand.Rand, backend *cpu.CPUBackend) (Network, error){
	ArchClassifier: func(rng *rand.Rand, backend *cpu.CPUBackend) (Network, error) {
		return NewImageClassifier(rng, backend), nil
	},
	ArchUpscaler: func(rng *rand.Rand, backend *cpu.CPUBackend) (Network, error) {
		return NewSimpleUpscaler(rng, backend), nil
	},
	ArchRRDB: func(rng *rand.Rand, backend *cpu.CPUBackend) (Network, error) {
		return NewRRDBNet(DefaultRRDBConfig(), rng, backend)
	},
}

// Architectures returns the registered architecture names, sorted.
func Architectures() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a registered architecture with its default configuration.
func New(arch string, rng *rand.Rand, backend *cpu.CPUBackend) (Network, error) {
	build, ok := builders[arch]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownArchitecture, "%q (known: %v)", arch, Architectures())
	}
	return build(rng, backend)
}

// NewRNG returns the random source used to initialize parameters.
// Networks built from the same seed are identical.
func NewRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible init, not security
}
