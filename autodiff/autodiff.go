// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode differentiation through the patch operators.
//
// It wraps a kernel backend and records Search, Extract, Insert and
// WeightedPatchSum calls on a gradient tape; Backward chains their exact adjoints.
//
// Example:
//
//	import (
//	    "github.com/born-ml/dnls/autodiff"
//	    "github.com/born-ml/dnls/backend/cpu"
//	)
//
//	func main() {
//	    backend := autodiff.New(cpu.New())
//	    backend.Tape().StartRecording()
//
//	    patches, _ := backend.Extract(vid, indices, p)
//	    out, _ := backend.WeightedPatchSum(vid, weights, indices, p)
//
//	    grads, _ := autodiff.Backward(out, backend)
//	    gradVid := grads[vid]
//	}
package autodiff

import (
	"github.com/born-ml/dnls/internal/autodiff"
	"github.com/born-ml/dnls/internal/tensor"
)

// Kernels is the forward and adjoint kernel set a Backend wraps.
type Kernels = autodiff.Backend

// Backend is the autodiff-enabled backend.
type Backend[B Kernels] = autodiff.AutodiffBackend[B]

// New creates a new autodiff backend wrapping the given backend.
//
// Example:
//
//	base := cpu.New()
//	backend := autodiff.New(base)
func New[B Kernels](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// BackwardCapable interface for backends that support backpropagation.
type BackwardCapable = autodiff.BackwardCapable

// Backward computes the gradients of sum(output) via backpropagation.
func Backward(output *tensor.RawTensor, backend BackwardCapable) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	return autodiff.Backward(output, backend)
}
