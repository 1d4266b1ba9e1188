// Package parallel provides parallel execution utilities for the patch kernels.
package parallel

import (
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// NumWorkersEnvVar overrides the number of workers picked by DefaultConfig.
const NumWorkersEnvVar = "DNLS_NUM_WORKERS"

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
// The worker count can be pinned with the DNLS_NUM_WORKERS environment variable.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	if v, ok := os.LookupEnv(NumWorkersEnvVar); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			klog.Warningf("ignoring %s=%q: want a positive integer", NumWorkersEnvVar, v)
		} else {
			n = parsed
		}
	}
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 16,
	}
}

// Sequential returns a configuration that runs everything on the calling goroutine.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(cfg.NumWorkers)
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				f(i)
			}
			return nil
		})
	}
	_ = g.Wait() // Workers never fail.
}

// ForBatch iterates the (outer, inner) grid, e.g. (query, neighbor) pairs.
func ForBatch(outer, inner int, f func(o, i int), cfg Config) {
	n := outer * inner
	For(n, func(k int) {
		f(k/inner, k%inner)
	}, cfg)
}
