package ops

import "github.com/born-ml/dnls/internal/tensor"

// AddOp represents an element-wise addition operation: output = a + b.
//
// Backward pass:
//   - d(a+b)/da = 1, so grad_a = outputGrad
//   - d(a+b)/db = 1, so grad_b = outputGrad
//
// Used to merge the accumulators of several insertion passes.
type AddOp struct {
	inputs []*tensor.RawTensor // [a, b]
	output *tensor.RawTensor   // a + b
}

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{
		inputs: []*tensor.RawTensor{a, b},
		output: output,
	}
}

// Backward computes input gradients for addition.
// Each input gets its own clone so that in-place accumulation on the tape
// never modifies a gradient shared with the other input.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, _ Backend) ([]*tensor.RawTensor, error) {
	return []*tensor.RawTensor{outputGrad.Copy(), outputGrad.Copy()}, nil
}

// Inputs returns the input tensors [a, b].
func (op *AddOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the output tensor a + b.
func (op *AddOp) Output() *tensor.RawTensor {
	return op.output
}
