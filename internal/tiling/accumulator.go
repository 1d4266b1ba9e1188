package tiling

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Accumulator is the overlap-add buffer pair. Volume holds Σ w*patch and Weights
// holds Σ w per voxel. Both are created zeroed together and share one lifecycle.
type Accumulator struct {
	Volume  *tensor.RawTensor
	Weights *tensor.RawTensor
}

// NewAccumulator allocates a zeroed accumulator pair for a (T, C, H, W) volume.
func NewAccumulator(shape tensor.Shape) (*Accumulator, error) {
	if _, _, _, _, err := shape.VolumeDims(); err != nil {
		return nil, errors.Wrapf(patch.ErrShapeMismatch, "accumulator: %v", err)
	}
	vol, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, errors.Wrapf(patch.ErrShapeMismatch, "accumulator: %v", err)
	}
	return &Accumulator{Volume: vol, Weights: tensor.ZerosLike(vol)}, nil
}

// Shape returns the volume shape.
func (a *Accumulator) Shape() tensor.Shape {
	return a.Volume.Shape()
}

// Reset zeroes both buffers.
func (a *Accumulator) Reset() {
	clear(a.Volume.AsFloat32())
	clear(a.Weights.AsFloat32())
}

// Reconstruct returns Volume / Weights, with zero where no patch contributed.
func (a *Accumulator) Reconstruct(k Kernels) (*tensor.RawTensor, error) {
	return k.Normalize(a.Volume, a.Weights)
}
