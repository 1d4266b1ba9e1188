package autodiff

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/autodiff/ops"
	"github.com/born-ml/dnls/internal/tensor"
)

// BackwardCapable is an interface for backends that support backward pass.
// AutodiffBackend implements this interface.
type BackwardCapable interface {
	ops.Backend
	// GetTape returns the gradient tape for backward computation.
	GetTape() *GradientTape
}

// GetTape returns the gradient tape (implements BackwardCapable interface).
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// Backward computes the gradients of sum(output) with the backend's tape.
//
// output must be the output of the last recorded operation; it is seeded with ones.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	out, _ := backend.WeightedPatchSum(volume, weights, indices, p)
//	grads, err := autodiff.Backward(out, backend)
//	gradWeights := grads[weights]
func Backward(output *tensor.RawTensor, backend BackwardCapable) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		return nil, errors.New("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}
	if output.DType() != tensor.Float32 {
		return nil, errors.Errorf("backward: unsupported dtype %s (only float32 supported)", output.DType())
	}
	return tape.Backward(tensor.Full(output.Shape(), 1), backend)
}
