package ops

import (
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// SearchOp records a non-local search for autodiff.
//
// Forward: dists, indices = Search(query, target, queries)
//
// Only the distances are differentiable. The indices are treated as constants,
// as for the argmax of a max pooling:
//   - d_query:  Σ 2(a-b)·g at every query element
//   - d_target: Σ -2(a-b)·g at every candidate element
//
// For a self search (target nil) both terms land on the query volume.
type SearchOp struct {
	query   *tensor.RawTensor
	target  *tensor.RawTensor
	queries *tensor.RawTensor
	indices *tensor.RawTensor
	output  *tensor.RawTensor
	params  patch.SearchParams
}

// NewSearchOp creates a new SearchOp. target may be nil.
func NewSearchOp(query, target, queries, indices, dists *tensor.RawTensor, p patch.SearchParams) *SearchOp {
	return &SearchOp{
		query:   query,
		target:  target,
		queries: queries,
		indices: indices,
		output:  dists,
		params:  p,
	}
}

// Inputs returns [query, target]; target is nil for a self search.
func (op *SearchOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.query, op.target}
}

// Output returns the distance tensor.
func (op *SearchOp) Output() *tensor.RawTensor {
	return op.output
}

// Indices returns the recorded match coordinates.
func (op *SearchOp) Indices() *tensor.RawTensor {
	return op.indices
}

// Backward delegates to the backend's search adjoint.
func (op *SearchOp) Backward(outputGrad *tensor.RawTensor, backend Backend) ([]*tensor.RawTensor, error) {
	gradQuery, gradTarget, err := backend.SearchBackward(op.query, op.target, op.queries, op.indices, outputGrad, op.params)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{gradQuery, gradTarget}, nil
}
