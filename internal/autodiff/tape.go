package autodiff

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/autodiff/ops"
	"github.com/born-ml/dnls/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic differentiation.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... perform operations ...
//	gradients, err := tape.Backward(outputGrad, backend)
type GradientTape struct {
	operations []ops.Operation // Recorded operations (in execution order)
	recording  bool            // Whether tape is currently recording
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 16),
		recording:  false,
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record adds an operation to the tape.
// Only records if the tape is currently recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear resets the tape, removing all recorded operations.
// Recording state is preserved.
func (t *GradientTape) Clear() {
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Backward computes gradients for all inputs by walking the tape in reverse,
// seeding the output of the last recorded operation with outputGrad.
//
// Gradients of tensors used by several operations are summed.
// Returns a map from RawTensor to its accumulated gradient.
func (t *GradientTape) Backward(outputGrad *tensor.RawTensor, backend ops.Backend) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	if len(t.operations) == 0 {
		return make(map[*tensor.RawTensor]*tensor.RawTensor), nil
	}
	lastOp := t.operations[len(t.operations)-1]
	return t.BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{lastOp.Output(): outputGrad}, backend)
}

// BackwardFrom is Backward with several seeded tensors, e.g. both outputs of an insertion.
// Neither seeds nor the seed tensors are modified; the returned map starts as a copy of seeds.
func (t *GradientTape) BackwardFrom(seeds map[*tensor.RawTensor]*tensor.RawTensor, backend ops.Backend) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	// Stop recording during backward pass to prevent recording gradient operations
	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	grads := make(map[*tensor.RawTensor]*tensor.RawTensor, len(seeds))
	callerOwned := make(map[*tensor.RawTensor]bool, len(seeds))
	for x, g := range seeds {
		grads[x] = g
		callerOwned[g] = true
	}
	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		inputGrads, err := t.computeInputGrads(op, grads, backend)
		if err != nil {
			return nil, errors.WithMessagef(err, "backward through operation %d (%T)", i, op)
		}
		if inputGrads == nil {
			continue
		}
		if err := t.accumulateGrads(op, inputGrads, grads, callerOwned, backend); err != nil {
			return nil, err
		}
	}
	return grads, nil
}

// computeInputGrads computes gradients for an operation's inputs.
// Returns nil if no gradient flows to this operation.
func (t *GradientTape) computeInputGrads(
	op ops.Operation,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend ops.Backend,
) ([]*tensor.RawTensor, error) {
	if multiOp, isMulti := op.(ops.MultiOutputOperation); isMulti {
		outputGrads, hasAnyGrad := t.collectOutputGrads(multiOp.Outputs(), grads)
		if !hasAnyGrad {
			return nil, nil
		}
		return multiOp.BackwardMulti(outputGrads, backend)
	}
	opOutputGrad, hasGrad := grads[op.Output()]
	if !hasGrad {
		return nil, nil
	}
	return op.Backward(opOutputGrad, backend)
}

// collectOutputGrads collects gradients for all outputs of a multi-output operation.
// Outputs without a gradient stay nil.
func (t *GradientTape) collectOutputGrads(
	outputs []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
) ([]*tensor.RawTensor, bool) {
	outputGrads := make([]*tensor.RawTensor, len(outputs))
	hasAnyGrad := false
	for j, out := range outputs {
		if out == nil {
			continue
		}
		if grad, exists := grads[out]; exists {
			outputGrads[j] = grad
			hasAnyGrad = true
		}
	}
	return outputGrads, hasAnyGrad
}

// accumulateGrads accumulates gradients for each input tensor.
// Gradients in callerOwned are never added into in place.
func (t *GradientTape) accumulateGrads(
	op ops.Operation,
	inputGrads []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	callerOwned map[*tensor.RawTensor]bool,
	backend ops.Backend,
) error {
	for j, input := range op.Inputs() {
		if j >= len(inputGrads) {
			break
		}
		inputGrad := inputGrads[j]
		if input == nil || inputGrad == nil {
			continue
		}
		existing, ok := grads[input]
		if !ok {
			grads[input] = inputGrad
			continue
		}
		sum, err := addGrads(existing, inputGrad, callerOwned[existing], backend)
		if err != nil {
			return errors.WithMessage(err, "accumulating gradient")
		}
		grads[input] = sum
	}
	return nil
}

func addGrads(existing, grad *tensor.RawTensor, keepExisting bool, backend ops.Backend) (*tensor.RawTensor, error) {
	if keepExisting {
		defer existing.ForceNonUnique()()
	}
	return backend.Add(existing, grad)
}
