// Package cpu implements the non-local patch kernels on the CPU.
package cpu

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// CPUBackend runs search, extraction, insertion and their adjoints on the CPU.
type CPUBackend struct {
	device tensor.Device
	cfg    parallel.Config
}

// New creates a new CPU backend using parallel.DefaultConfig.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit worker configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		cfg:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Config returns the parallel configuration.
func (cpu *CPUBackend) Config() parallel.Config {
	return cpu.cfg
}

// Add performs element-wise addition of two float32 tensors with equal shapes.
// When a is not shared the sum is written into a.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 || !a.Shape().Equal(b.Shape()) {
		return nil, errors.Wrapf(patch.ErrShapeMismatch, "add: %s %v vs %s %v", a.DType(), a.Shape(), b.DType(), b.Shape())
	}
	result := a
	if !a.IsUnique() {
		result = tensor.ZerosLike(a)
		copy(result.AsFloat32(), a.AsFloat32())
	}
	dst, src := result.AsFloat32(), b.AsFloat32()
	for i := range dst {
		dst[i] += src[i]
	}
	return result, nil
}
