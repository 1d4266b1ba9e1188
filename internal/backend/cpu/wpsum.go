package cpu

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// wpsumInputs holds the validated inputs shared by the weighted patch sum and its adjoint.
type wpsumInputs struct {
	dims            volumeDims
	numQueries, k   int
	fp              patch.Footprint
	bounds          patch.Bounds
	wts             []float32
	indData         []int32
	patchLen, plane int
}

func checkWeightedPatchSum(volumeShape tensor.Shape, weights, indices *tensor.RawTensor, p patch.Params) (*wpsumInputs, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	t, c, h, w, err := volumeShape.VolumeDims()
	if err != nil {
		return nil, errors.Wrapf(patch.ErrShapeMismatch, "%v", err)
	}
	dims := volumeDims{frames: t, channels: c, height: h, width: w}
	numQueries, k, err := inds.Validate(indices, t, h, w)
	if err != nil {
		return nil, err
	}
	if err := checkFloat32("weights", weights, tensor.Shape{numQueries, k}); err != nil {
		return nil, err
	}
	fp := p.Footprint()
	return &wpsumInputs{
		dims:       dims,
		numQueries: numQueries,
		k:          k,
		fp:         fp,
		bounds:     dims.bounds(p.Reflect),
		wts:        weights.AsFloat32(),
		indData:    indices.AsInt32(),
		patchLen:   fp.PatchLen(c),
		plane:      dims.planeSize(),
	}, nil
}

// WeightedPatchSum computes, for every query q, the sum over its neighbors of
// weights[q, k] times the patch at indices[q, k], without materializing the
// [Q, K, ...] patch buffer. The result is [Q, pt, C, ps, ps].
//
// Sentinel neighbors are skipped. Sums are accumulated in float64.
func (cpu *CPUBackend) WeightedPatchSum(volume, weights, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, error) {
	if _, err := checkVolume("weighted patch sum", volume); err != nil {
		return nil, err
	}
	in, err := checkWeightedPatchSum(volume.Shape(), weights, indices, p)
	if err != nil {
		return nil, errors.WithMessage(err, "weighted patch sum")
	}
	dims := in.dims
	out := tensor.Zeros(tensor.Shape{in.numQueries, p.PatchDepth, dims.channels, p.PatchSize, p.PatchSize}, tensor.Float32)
	dst, src := out.AsFloat32(), volume.AsFloat32()
	klog.V(2).Infof("weighted patch sum: %d queries x %d neighbors", in.numQueries, in.k)

	parallel.For(in.numQueries, func(q int) {
		sum := make([]float64, in.patchLen)
		for nb := 0; nb < in.k; nb++ {
			item := q*in.k + nb
			c := inds.At(in.indData, item)
			if c.IsSentinel() {
				continue
			}
			w := float64(in.wts[item])
			for _, e := range in.fp.Elements {
				t, h, ww, ok := in.bounds.Resolve(c.T+e.DT, c.H+e.DH, c.W+e.DW)
				if !ok {
					continue
				}
				base := dims.base(t, h, ww)
				for ch := 0; ch < dims.channels; ch++ {
					sum[in.fp.Index(e, ch, dims.channels)] += w * float64(src[base+ch*in.plane])
				}
			}
		}
		row := dst[q*in.patchLen : (q+1)*in.patchLen]
		for i, v := range sum {
			row[i] = float32(v)
		}
	}, cpu.cfg)
	return out, nil
}

// WeightedPatchSumBackward returns the gradients of WeightedPatchSum with respect to
// the volume (w*g scattered at every neighbor's footprint) and to the weights (the
// inner product of each neighbor's patch with its query's output gradient).
func (cpu *CPUBackend) WeightedPatchSumBackward(gradOut, volume, weights, indices *tensor.RawTensor, p patch.Params) (gradVolume, gradWeights *tensor.RawTensor, err error) {
	if _, err := checkVolume("weighted patch sum backward", volume); err != nil {
		return nil, nil, err
	}
	in, err := checkWeightedPatchSum(volume.Shape(), weights, indices, p)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "weighted patch sum backward")
	}
	dims := in.dims
	outShape := tensor.Shape{in.numQueries, p.PatchDepth, dims.channels, p.PatchSize, p.PatchSize}
	if err := checkFloat32("weighted patch sum backward: output gradient", gradOut, outShape); err != nil {
		return nil, nil, err
	}

	g, src := gradOut.AsFloat32(), volume.AsFloat32()
	gradVolume = tensor.Zeros(dims.shape(), tensor.Float32)
	gradWeights = tensor.Zeros(weights.Shape(), tensor.Float32)
	gv, gw := gradVolume.AsFloat32(), gradWeights.AsFloat32()

	parallel.Scatter(p.Strategy(), in.numQueries*in.k, dims.channels, func(item, ch int, add parallel.AddFunc) {
		c := inds.At(in.indData, item)
		if c.IsSentinel() {
			return
		}
		w := in.wts[item]
		gq := g[(item/in.k)*in.patchLen : (item/in.k+1)*in.patchLen]
		for _, e := range in.fp.Elements {
			t, h, ww, ok := in.bounds.Resolve(c.T+e.DT, c.H+e.DH, c.W+e.DW)
			if !ok {
				continue
			}
			add(gv, dims.base(t, h, ww)+ch*in.plane, w*gq[in.fp.Index(e, ch, dims.channels)])
		}
	}, cpu.cfg)

	parallel.For(in.numQueries*in.k, func(item int) {
		c := inds.At(in.indData, item)
		if c.IsSentinel() {
			return
		}
		gq := g[(item/in.k)*in.patchLen : (item/in.k+1)*in.patchLen]
		var dot float64
		for _, e := range in.fp.Elements {
			t, h, ww, ok := in.bounds.Resolve(c.T+e.DT, c.H+e.DH, c.W+e.DW)
			if !ok {
				continue
			}
			base := dims.base(t, h, ww)
			for ch := 0; ch < dims.channels; ch++ {
				dot += float64(src[base+ch*in.plane]) * float64(gq[in.fp.Index(e, ch, dims.channels)])
			}
		}
		gw[item] = float32(dot)
	}, cpu.cfg)
	return gradVolume, gradWeights, nil
}
