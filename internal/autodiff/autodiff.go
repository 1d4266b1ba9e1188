// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps a kernel backend and records every differentiable call in a
// GradientTape. Walking the tape backwards chains the exact adjoints of search,
// extraction, insertion and the weighted patch sum.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	patches, _ := backend.Extract(volume, indices, p)
//	accum, weights, _ := backend.Insert(patches, nil, indices, volume.Shape(), p)
//	grads, _ := autodiff.Backward(accum, backend)
//	gradVolume := grads[volume]
package autodiff

import (
	"github.com/born-ml/dnls/internal/autodiff/ops"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Backend is a kernel backend with forward and adjoint kernels.
type Backend interface {
	ops.Backend

	// Name returns the backend name.
	Name() string

	Search(query, target, queries *tensor.RawTensor, flow *patch.Flow, p patch.SearchParams) (*tensor.RawTensor, *tensor.RawTensor, error)
	Extract(volume, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, error)
	Insert(patches, weights, indices, accum, weightVol *tensor.RawTensor, p patch.Params) error
	WeightedPatchSum(volume, weights, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, error)
}

// AutodiffBackend wraps a Backend and adds automatic differentiation.
//
// Type parameter B must satisfy the Backend interface.
type AutodiffBackend[B Backend] struct {
	inner B             // Wrapped backend
	tape  *GradientTape // Records operations for backpropagation
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Device returns the compute device.
func (b *AutodiffBackend[B]) Device() tensor.Device {
	return b.inner.Device()
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(a, c *tensor.RawTensor) (*tensor.RawTensor, error) {
	// Keep the inputs alive on the tape: the inner backend must not add in place.
	defer a.ForceNonUnique()()
	defer c.ForceNonUnique()()

	result, err := b.inner.Add(a, c)
	if err != nil {
		return nil, err
	}
	b.tape.Record(ops.NewAddOp(a, c, result))
	return result, nil
}

// Search runs the non-local search and records the distances as differentiable
// with respect to query and target. target may be nil for a self search.
func (b *AutodiffBackend[B]) Search(query, target, queries *tensor.RawTensor, flow *patch.Flow, p patch.SearchParams) (*tensor.RawTensor, *tensor.RawTensor, error) {
	dists, indices, err := b.inner.Search(query, target, queries, flow, p)
	if err != nil {
		return nil, nil, err
	}
	b.tape.Record(ops.NewSearchOp(query, target, queries, indices, dists, p))
	return dists, indices, nil
}

// Extract extracts patches and records the operation.
func (b *AutodiffBackend[B]) Extract(volume, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, error) {
	patches, err := b.inner.Extract(volume, indices, p)
	if err != nil {
		return nil, err
	}
	b.tape.Record(ops.NewExtractOp(volume, indices, patches, p))
	return patches, nil
}

// Insert inserts patches into a freshly zeroed accumulator pair of the given
// volume shape and records the operation. Unlike the in-place kernel, the
// differentiable version never mutates a tensor that is already on the tape.
func (b *AutodiffBackend[B]) Insert(patches, weights, indices *tensor.RawTensor, volumeShape tensor.Shape, p patch.Params) (accum, weightVol *tensor.RawTensor, err error) {
	accum, err = tensor.NewRaw(volumeShape, tensor.Float32, b.inner.Device())
	if err != nil {
		return nil, nil, err
	}
	weightVol = tensor.ZerosLike(accum)
	if err := b.inner.Insert(patches, weights, indices, accum, weightVol, p); err != nil {
		return nil, nil, err
	}
	b.tape.Record(ops.NewInsertOp(patches, weights, indices, accum, weightVol, p))
	return accum, weightVol, nil
}

// WeightedPatchSum computes the fused weighted patch sum and records the operation.
func (b *AutodiffBackend[B]) WeightedPatchSum(volume, weights, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, error) {
	out, err := b.inner.WeightedPatchSum(volume, weights, indices, p)
	if err != nil {
		return nil, err
	}
	b.tape.Record(ops.NewWeightedSumOp(volume, weights, indices, out, p))
	return out, nil
}

// SearchBackward forwards to the wrapped backend's search adjoint.
func (b *AutodiffBackend[B]) SearchBackward(query, target, queries, indices, gradDists *tensor.RawTensor, p patch.SearchParams) (*tensor.RawTensor, *tensor.RawTensor, error) {
	return b.inner.SearchBackward(query, target, queries, indices, gradDists, p)
}

// ExtractBackward forwards to the wrapped backend's extraction adjoint.
func (b *AutodiffBackend[B]) ExtractBackward(gradPatches, indices *tensor.RawTensor, volumeShape tensor.Shape, p patch.Params) (*tensor.RawTensor, error) {
	return b.inner.ExtractBackward(gradPatches, indices, volumeShape, p)
}

// InsertBackward forwards to the wrapped backend's insertion adjoint.
func (b *AutodiffBackend[B]) InsertBackward(gradAccum, gradWeightVol, patches, weights, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, *tensor.RawTensor, error) {
	return b.inner.InsertBackward(gradAccum, gradWeightVol, patches, weights, indices, p)
}

// WeightedPatchSumBackward forwards to the wrapped backend's weighted patch sum adjoint.
func (b *AutodiffBackend[B]) WeightedPatchSumBackward(gradOut, volume, weights, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, *tensor.RawTensor, error) {
	return b.inner.WeightedPatchSumBackward(gradOut, volume, weights, indices, p)
}
