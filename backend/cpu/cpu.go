// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	"github.com/born-ml/dnls/autodiff"
	internalcpu "github.com/born-ml/dnls/internal/backend/cpu"
	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/tiling"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Config controls how the backend fans work out over goroutines.
type Config = parallel.Config

// Compile-time checks that Backend can drive autodiff and the tiling pipeline.
var (
	_ autodiff.Kernels = (*Backend)(nil)
	_ tiling.Kernels   = (*Backend)(nil)
)

// New creates a new CPU backend using DefaultConfig.
//
// Example:
//
//	backend := cpu.New()
//	patches, err := backend.Extract(vid, indices, patch.DefaultParams())
func New() *Backend {
	return internalcpu.New()
}

// NewWithConfig creates a CPU backend with an explicit worker configuration.
func NewWithConfig(cfg Config) *Backend {
	return internalcpu.NewWithConfig(cfg)
}

// DefaultConfig returns one worker per CPU, overridable with DNLS_NUM_WORKERS.
func DefaultConfig() Config {
	return parallel.DefaultConfig()
}

// Sequential returns a configuration that runs every kernel on the calling goroutine.
func Sequential() Config {
	return parallel.Sequential()
}
