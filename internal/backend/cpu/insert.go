package cpu

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Insert accumulates weighted patches into accum and their weights into weightVol (overlap-add).
//
// Shapes:
//   - patches: [Q, K, pt, C, ps, ps] float32
//   - weights: nil (unit weights), [Q, K] or the patch shape
//   - indices: [Q, K, 3] int32 target coordinates
//   - accum, weightVol: [T, C, H, W] float32; weightVol may be nil
//
// For every valid index and every resolvable footprint element, w*patch is added to
// accum and w to weightVol at the same voxel, by the same work item. Sentinel indices
// contribute nothing. Inputs are fully validated before the first write, so an error
// leaves accum and weightVol untouched.
func (cpu *CPUBackend) Insert(patches, weights, indices, accum, weightVol *tensor.RawTensor, p patch.Params) error {
	if err := p.Validate(); err != nil {
		return errors.WithMessage(err, "insert")
	}
	dims, err := checkVolume("insert accumulator", accum)
	if err != nil {
		return err
	}
	if weightVol != nil {
		if err := checkFloat32("insert weight volume", weightVol, dims.shape()); err != nil {
			return err
		}
	}
	numQueries, k, err := inds.Validate(indices, dims.frames, dims.height, dims.width)
	if err != nil {
		return errors.WithMessage(err, "insert")
	}
	patchShape := p.PatchShape(numQueries, k, dims.channels)
	if err := checkFloat32("insert patches", patches, patchShape); err != nil {
		return err
	}
	mode, err := checkWeights(weights, patchShape)
	if err != nil {
		return errors.WithMessage(err, "insert")
	}

	fp := p.Footprint()
	bounds := dims.bounds(p.Reflect)
	patchLen := fp.PatchLen(dims.channels)
	plane := dims.planeSize()
	src, indData, acc := patches.AsFloat32(), indices.AsInt32(), accum.AsFloat32()
	var wts, wv []float32
	if weights != nil {
		wts = weights.AsFloat32()
	}
	if weightVol != nil {
		wv = weightVol.AsFloat32()
	}

	strategy := p.Strategy()
	klog.V(2).Infof("insert: %d patches, %d channels, %s accumulation", numQueries*k, dims.channels, strategy)

	parallel.Scatter(strategy, numQueries*k, dims.channels, func(item, ch int, add parallel.AddFunc) {
		c := inds.At(indData, item)
		if c.IsSentinel() {
			return
		}
		w := float32(1)
		if mode == weightsPerPatch {
			w = wts[item]
		}
		for _, e := range fp.Elements {
			t, h, ww, ok := bounds.Resolve(c.T+e.DT, c.H+e.DH, c.W+e.DW)
			if !ok {
				continue
			}
			pi := item*patchLen + fp.Index(e, ch, dims.channels)
			if mode == weightsPerElement {
				w = wts[pi]
			}
			vi := dims.base(t, h, ww) + ch*plane
			add(acc, vi, w*src[pi])
			if wv != nil {
				add(wv, vi, w)
			}
		}
	}, cpu.cfg)
	return nil
}

// Fold inserts one patch per generated query coordinate of batch (K = 1), the inverse
// layout of Unfold.
func (cpu *CPUBackend) Fold(patches *tensor.RawTensor, batch inds.Batch, stride int, rect inds.Rect, accum, weightVol *tensor.RawTensor, p patch.Params) error {
	dims, err := checkVolume("fold accumulator", accum)
	if err != nil {
		return err
	}
	if err := rect.Validate(dims.height, dims.width); err != nil {
		return errors.WithMessage(err, "fold")
	}
	queries, err := inds.Queries(batch, stride, rect, dims.frames)
	if err != nil {
		return errors.WithMessage(err, "fold")
	}
	return cpu.Insert(patches, nil, inds.FromQueries(queries), accum, weightVol, p)
}

// InsertBackward is the adjoint of Insert with respect to patches and weights.
//
// gradAccum and gradWeightVol are the gradients flowing into the accumulated volume and
// the weight volume (gradWeightVol may be nil). The patch gradient is the weighted
// extraction of gradAccum. The weight gradient, nil for unit weights, collects
// patch*gradAccum plus gradWeightVol over every footprint element the weight touched,
// summed per patch for [Q, K] weights.
func (cpu *CPUBackend) InsertBackward(gradAccum, gradWeightVol, patches, weights, indices *tensor.RawTensor, p patch.Params) (gradPatches, gradWeights *tensor.RawTensor, err error) {
	if err := p.Validate(); err != nil {
		return nil, nil, errors.WithMessage(err, "insert backward")
	}
	dims, err := checkVolume("insert backward: accumulator gradient", gradAccum)
	if err != nil {
		return nil, nil, err
	}
	if gradWeightVol != nil {
		if err := checkFloat32("insert backward: weight volume gradient", gradWeightVol, dims.shape()); err != nil {
			return nil, nil, err
		}
	}
	numQueries, k, err := inds.Validate(indices, dims.frames, dims.height, dims.width)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "insert backward")
	}
	patchShape := p.PatchShape(numQueries, k, dims.channels)
	mode, err := checkWeights(weights, patchShape)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "insert backward")
	}
	if mode != weightsUnit {
		if err := checkFloat32("insert backward: patches", patches, patchShape); err != nil {
			return nil, nil, err
		}
	}

	n := numQueries * k
	indData := indices.AsInt32()
	gradPatches = tensor.Zeros(patchShape, tensor.Float32)
	gp := gradPatches.AsFloat32()
	cpu.extractInto(gp, gradAccum.AsFloat32(), indData, n, dims, p)
	if mode == weightsUnit {
		return gradPatches, nil, nil
	}

	var gwv []float32
	if gradWeightVol != nil {
		gwv = make([]float32, len(gp))
		cpu.extractInto(gwv, gradWeightVol.AsFloat32(), indData, n, dims, p)
	}
	gradWeights = tensor.Zeros(weights.Shape(), tensor.Float32)
	gw, wts, src := gradWeights.AsFloat32(), weights.AsFloat32(), patches.AsFloat32()
	patchLen := len(gp) / max(n, 1)

	parallel.For(n, func(item int) {
		lo, hi := item*patchLen, (item+1)*patchLen
		for i := lo; i < hi; i++ {
			g := src[i] * gp[i]
			if gwv != nil {
				g += gwv[i]
			}
			if mode == weightsPerPatch {
				gw[item] += g
			} else {
				gw[i] = g
			}
		}
		w := wts[item]
		for i := lo; i < hi; i++ {
			if mode == weightsPerElement {
				w = wts[i]
			}
			gp[i] *= w
		}
	}, cpu.cfg)
	return gradPatches, gradWeights, nil
}

// Normalize divides accum by weightVol voxel by voxel. Voxels that received no weight are zero.
func (cpu *CPUBackend) Normalize(accum, weightVol *tensor.RawTensor) (*tensor.RawTensor, error) {
	dims, err := checkVolume("normalize", accum)
	if err != nil {
		return nil, err
	}
	if err := checkFloat32("normalize weight volume", weightVol, dims.shape()); err != nil {
		return nil, err
	}
	out := tensor.ZerosLike(accum)
	dst, acc, wv := out.AsFloat32(), accum.AsFloat32(), weightVol.AsFloat32()
	parallel.For(len(dst), func(i int) {
		if wv[i] != 0 {
			dst[i] = acc[i] / wv[i]
		}
	}, cpu.cfg)
	return out, nil
}
