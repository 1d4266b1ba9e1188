package ops

import (
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// InsertOp records a weighted insertion into freshly zeroed accumulators.
//
// Forward: accum, weightVol = Insert(patches, weights, indices)
//
// Backward:
//   - d_patches = w · Extract(d_accum)
//   - d_weights = Σ patch · Extract(d_accum) + Extract(d_weightVol)
type InsertOp struct {
	patches   *tensor.RawTensor
	weights   *tensor.RawTensor
	indices   *tensor.RawTensor
	accum     *tensor.RawTensor
	weightVol *tensor.RawTensor
	params    patch.Params
}

// NewInsertOp creates a new InsertOp. weights may be nil for unit weights.
func NewInsertOp(patches, weights, indices, accum, weightVol *tensor.RawTensor, p patch.Params) *InsertOp {
	return &InsertOp{
		patches:   patches,
		weights:   weights,
		indices:   indices,
		accum:     accum,
		weightVol: weightVol,
		params:    p,
	}
}

// Inputs returns [patches, weights].
func (op *InsertOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.patches, op.weights}
}

// Output returns the accumulated volume.
func (op *InsertOp) Output() *tensor.RawTensor {
	return op.accum
}

// Outputs returns [accum, weightVol].
func (op *InsertOp) Outputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.accum, op.weightVol}
}

// Backward is BackwardMulti with no gradient on the weight volume.
func (op *InsertOp) Backward(outputGrad *tensor.RawTensor, backend Backend) ([]*tensor.RawTensor, error) {
	return op.BackwardMulti([]*tensor.RawTensor{outputGrad, nil}, backend)
}

// BackwardMulti computes the patch and weight gradients.
func (op *InsertOp) BackwardMulti(outputGrads []*tensor.RawTensor, backend Backend) ([]*tensor.RawTensor, error) {
	gradAccum, gradWeightVol := outputGrads[0], outputGrads[1]
	if gradAccum == nil {
		gradAccum = tensor.ZerosLike(op.accum)
	}
	gradPatches, gradWeights, err := backend.InsertBackward(gradAccum, gradWeightVol, op.patches, op.weights, op.indices, op.params)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{gradPatches, gradWeights}, nil
}
