// Package parallel splits CPU kernel loops across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Number of worker goroutines to use.
	MinWork    int  // Minimum estimated scalar ops per goroutine.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
		MinWork:    1 << 15,
	}
}

// Sequential returns a config that never spawns goroutines.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1}
}

// For executes f(i) for i in [0, n). workPerItem is an estimate of the
// scalar operations one call performs; chunks are sized so every goroutine
// gets at least cfg.MinWork of it. Falls back to a plain loop when that
// leaves a single chunk.
func For(n, workPerItem int, f func(i int), cfg Config) {
	if n <= 0 {
		return
	}
	workers := cfg.NumWorkers
	if cfg.Enabled && workPerItem > 0 && cfg.MinWork > 0 {
		workers = min(workers, n*workPerItem/cfg.MinWork)
	}
	if !cfg.Enabled || workers <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := (n + workers - 1) / workers

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch is For over the batch*channels iteration pattern of NCHW kernels.
func ForBatch(batch, channels, workPerItem int, f func(b, c int), cfg Config) {
	For(batch*channels, workPerItem, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
