// Package ops defines the differentiable operation records used by the gradient tape.
//
// Each operation keeps the forward context it needs (inputs, indices, parameters)
// and delegates the adjoint math to the backend:
//   - AddOp: element-wise addition (gradient flows unchanged to both inputs)
//   - SearchOp: search distances with respect to the query and target volumes
//   - ExtractOp: patch extraction (adjoint is a unit-weight insertion)
//   - InsertOp: weighted insertion (adjoint is a weighted extraction)
//   - WeightedSumOp: fused weighted patch sum
package ops

import (
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Backend is the set of adjoint kernels the operations delegate to.
// *cpu.CPUBackend implements it.
type Backend interface {
	// Device returns the compute device of the backend.
	Device() tensor.Device

	// Add returns a + b.
	Add(a, b *tensor.RawTensor) (*tensor.RawTensor, error)

	SearchBackward(query, target, queries, indices, gradDists *tensor.RawTensor, p patch.SearchParams) (*tensor.RawTensor, *tensor.RawTensor, error)
	ExtractBackward(gradPatches, indices *tensor.RawTensor, volumeShape tensor.Shape, p patch.Params) (*tensor.RawTensor, error)
	InsertBackward(gradAccum, gradWeightVol, patches, weights, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, *tensor.RawTensor, error)
	WeightedPatchSumBackward(gradOut, volume, weights, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, *tensor.RawTensor, error)
}

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor;
	// an entry is nil when no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend Backend) ([]*tensor.RawTensor, error)

	// Inputs returns the input tensors for this operation. Entries may be nil
	// for optional inputs that were not supplied.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// MultiOutputOperation represents an operation that produces multiple outputs,
// such as insertion (accumulated volume and weight volume).
//
// The tape collects gradients for ALL outputs before calling BackwardMulti.
// Outputs that received no gradient are passed as nil.
type MultiOutputOperation interface {
	Operation

	// Outputs returns all output tensors produced by this operation.
	Outputs() []*tensor.RawTensor

	// BackwardMulti computes gradients for inputs given gradients for ALL outputs.
	BackwardMulti(outputGrads []*tensor.RawTensor, backend Backend) ([]*tensor.RawTensor, error)
}
