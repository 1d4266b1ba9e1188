package ops

import (
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// ExtractOp records a patch extraction for autodiff.
//
// Forward: patches = Extract(volume, indices)
//
// Backward: d_volume = Insert(d_patches) with unit weights into a zeroed volume.
type ExtractOp struct {
	volume  *tensor.RawTensor
	indices *tensor.RawTensor
	output  *tensor.RawTensor
	params  patch.Params
}

// NewExtractOp creates a new ExtractOp.
func NewExtractOp(volume, indices, patches *tensor.RawTensor, p patch.Params) *ExtractOp {
	return &ExtractOp{volume: volume, indices: indices, output: patches, params: p}
}

// Inputs returns [volume].
func (op *ExtractOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.volume}
}

// Output returns the patch buffer.
func (op *ExtractOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the volume gradient.
func (op *ExtractOp) Backward(outputGrad *tensor.RawTensor, backend Backend) ([]*tensor.RawTensor, error) {
	gradVolume, err := backend.ExtractBackward(outputGrad, op.indices, op.volume.Shape(), op.params)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{gradVolume}, nil
}
