// Package weights turns search distances into the per-patch weights used by
// the overlap-add insertion.
package weights

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Func maps a (Q, K) distance tensor to a (Q, K) weight tensor.
// Entries with an infinite distance (sentinel matches) must get weight 0.
type Func func(dists *tensor.RawTensor) (*tensor.RawTensor, error)

func checkDists(dists *tensor.RawTensor) (numQueries, k int, err error) {
	shape := dists.Shape()
	if dists.DType() != tensor.Float32 || len(shape) != 2 {
		return 0, 0, errors.Wrapf(patch.ErrShapeMismatch, "distances must be float32 [Q,K], got %s %v", dists.DType(), shape)
	}
	return shape[0], shape[1], nil
}

// Uniform gives every valid match weight 1.
func Uniform(dists *tensor.RawTensor) (*tensor.RawTensor, error) {
	if _, _, err := checkDists(dists); err != nil {
		return nil, err
	}
	out := tensor.ZerosLike(dists)
	w := out.AsFloat32()
	for i, d := range dists.AsFloat32() {
		if !math.IsInf(float64(d), 1) {
			w[i] = 1
		}
	}
	return out, nil
}

// Softmax returns weights exp(-scale*d) normalized over each query's valid matches.
// Rows without a valid match are all zero.
func Softmax(scale float64) Func {
	return func(dists *tensor.RawTensor) (*tensor.RawTensor, error) {
		numQueries, k, err := checkDists(dists)
		if err != nil {
			return nil, err
		}
		out := tensor.ZerosLike(dists)
		src, dst := dists.AsFloat32(), out.AsFloat32()
		row := make([]float64, k)
		for q := 0; q < numQueries; q++ {
			valid := 0
			for j, d := range src[q*k : (q+1)*k] {
				if math.IsInf(float64(d), 1) {
					row[j] = math.Inf(-1)
					continue
				}
				row[j] = -scale * float64(d)
				valid++
			}
			if valid == 0 {
				continue
			}
			// Shift by the max logit so the largest exponent is exp(0).
			floats.AddConst(-floats.Max(row), row)
			for j, v := range row {
				row[j] = math.Exp(v)
			}
			floats.Scale(1/floats.Sum(row), row)
			for j, v := range row {
				dst[q*k+j] = float32(v)
			}
		}
		return out, nil
	}
}
