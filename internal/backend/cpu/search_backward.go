package cpu

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// SearchBackward propagates the gradient of the search distances back to the volumes.
//
// For every (query, neighbor) pair with a valid index and every squared difference
// (a-b)^2 that entered its distance, 2(a-b)*g is added at the query element and
// -2(a-b)*g at the candidate element, g being gradDists[q, k].
//
// indices and gradDists are the (Q, N, 3) and (Q, N) tensors of a previous Search
// (N = K or the exhaustive candidate count). When target is nil the search was a
// self search: both contributions land in gradQuery and gradTarget is nil.
//
// The summation order follows p.Exact: serialized kernels are bit-reproducible.
func (cpu *CPUBackend) SearchBackward(query, target, queries, indices, gradDists *tensor.RawTensor, p patch.SearchParams) (gradQuery, gradTarget *tensor.RawTensor, err error) {
	plan, err := newSearchPlan(query, target, nil, p)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "backward")
	}
	dims := plan.dims
	if err := inds.ValidateQueries(queries, dims.frames, dims.height, dims.width); err != nil {
		return nil, nil, errors.WithMessage(err, "search backward")
	}
	numQueries, k, err := inds.Validate(indices, dims.frames, dims.height, dims.width)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "search backward")
	}
	if numQueries != queries.Shape()[0] {
		return nil, nil, errors.Wrapf(patch.ErrShapeMismatch, "search backward: %d queries but indices for %d", queries.Shape()[0], numQueries)
	}
	if err := checkFloat32("search backward: distance gradient", gradDists, tensor.Shape{numQueries, k}); err != nil {
		return nil, nil, err
	}

	gradQuery = tensor.Zeros(dims.shape(), tensor.Float32)
	gq := gradQuery.AsFloat32()
	gt := gq
	if target != nil {
		gradTarget = tensor.Zeros(dims.shape(), tensor.Float32)
		gt = gradTarget.AsFloat32()
	}

	queryData, indData, g := queries.AsInt32(), indices.AsInt32(), gradDists.AsFloat32()
	qOffs := make([][]int, numQueries)
	parallel.For(numQueries, func(q int) {
		qOffs[q] = plan.queryOffsets(inds.At(queryData, q))
	}, cpu.cfg)

	plane := dims.planeSize()
	strategy := p.Strategy()
	klog.V(2).Infof("search backward: %d pairs, %d channels, %s accumulation", numQueries*k, plan.channels, strategy)

	parallel.Scatter(strategy, numQueries*k, plan.channels, func(item, ch int, add parallel.AddFunc) {
		grad := g[item]
		c := inds.At(indData, item)
		if grad == 0 || c.IsSentinel() {
			return
		}
		offs := qOffs[item/k]
		for i, e := range plan.fp.Elements {
			qOff := offs[i]
			if qOff < 0 {
				continue
			}
			t, h, w, ok := plan.bounds.Resolve(c.T+e.DT, c.H+e.DH, c.W+e.DW)
			if !ok {
				continue
			}
			qi := qOff + ch*plane
			ti := dims.base(t, h, w) + ch*plane
			d := 2 * (plan.qv[qi] - plan.tv[ti]) * grad
			add(gq, qi, d)
			add(gt, ti, -d)
		}
	}, cpu.cfg)

	return gradQuery, gradTarget, nil
}
