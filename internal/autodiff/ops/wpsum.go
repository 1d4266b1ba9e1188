package ops

import (
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// WeightedSumOp records a fused weighted patch sum: out[q] = Σ_k w[q,k]·patch(indices[q,k]).
type WeightedSumOp struct {
	volume  *tensor.RawTensor
	weights *tensor.RawTensor
	indices *tensor.RawTensor
	output  *tensor.RawTensor
	params  patch.Params
}

// NewWeightedSumOp creates a new WeightedSumOp.
func NewWeightedSumOp(volume, weights, indices, output *tensor.RawTensor, p patch.Params) *WeightedSumOp {
	return &WeightedSumOp{volume: volume, weights: weights, indices: indices, output: output, params: p}
}

// Inputs returns [volume, weights].
func (op *WeightedSumOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.volume, op.weights}
}

// Output returns the summed patches.
func (op *WeightedSumOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the volume and weight gradients.
func (op *WeightedSumOp) Backward(outputGrad *tensor.RawTensor, backend Backend) ([]*tensor.RawTensor, error) {
	gradVolume, gradWeights, err := backend.WeightedPatchSumBackward(outputGrad, op.volume, op.weights, op.indices, op.params)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{gradVolume, gradWeights}, nil
}
