package cpu

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Extract copies the patch footprint at every index into a dense buffer.
//
// Shapes:
//   - volume: [T, C, H, W] float32
//   - indices: [Q, K, 3] int32, from Search or inds.FromQueries
//   - result: [Q, K, pt, C, ps, ps] float32
//
// A sentinel index yields an all-zero patch. Footprint elements outside the volume
// are reflected, or left at zero when p.Reflect is false, exactly as Search resolves them.
//
// This is the im2col step of a convolution, generalised to arbitrary patch locations.
func (cpu *CPUBackend) Extract(volume, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.WithMessage(err, "extract")
	}
	dims, err := checkVolume("extract", volume)
	if err != nil {
		return nil, err
	}
	numQueries, k, err := inds.Validate(indices, dims.frames, dims.height, dims.width)
	if err != nil {
		return nil, errors.WithMessage(err, "extract")
	}

	patches := tensor.Zeros(p.PatchShape(numQueries, k, dims.channels), tensor.Float32)
	klog.V(2).Infof("extract: %d patches of %v", numQueries*k, patches.Shape()[2:])
	cpu.extractInto(patches.AsFloat32(), volume.AsFloat32(), indices.AsInt32(), numQueries*k, dims, p)
	return patches, nil
}

// extractInto fills n consecutive patches of dst from src.
func (cpu *CPUBackend) extractInto(dst, src []float32, indData []int32, n int, dims volumeDims, p patch.Params) {
	fp := p.Footprint()
	bounds := dims.bounds(p.Reflect)
	patchLen := fp.PatchLen(dims.channels)
	plane := dims.planeSize()

	parallel.For(n, func(item int) {
		c := inds.At(indData, item)
		if c.IsSentinel() {
			return
		}
		out := dst[item*patchLen : (item+1)*patchLen]
		for _, e := range fp.Elements {
			t, h, w, ok := bounds.Resolve(c.T+e.DT, c.H+e.DH, c.W+e.DW)
			if !ok {
				continue
			}
			base := dims.base(t, h, w)
			for ch := 0; ch < dims.channels; ch++ {
				out[fp.Index(e, ch, dims.channels)] = src[base+ch*plane]
			}
		}
	}, cpu.cfg)
}

// Unfold extracts one patch per generated query coordinate of batch (K = 1).
// The result is [batch.Size, 1, pt, C, ps, ps].
func (cpu *CPUBackend) Unfold(volume *tensor.RawTensor, batch inds.Batch, stride int, rect inds.Rect, p patch.Params) (*tensor.RawTensor, error) {
	dims, err := checkVolume("unfold", volume)
	if err != nil {
		return nil, err
	}
	if err := rect.Validate(dims.height, dims.width); err != nil {
		return nil, errors.WithMessage(err, "unfold")
	}
	queries, err := inds.Queries(batch, stride, rect, dims.frames)
	if err != nil {
		return nil, errors.WithMessage(err, "unfold")
	}
	return cpu.Extract(volume, inds.FromQueries(queries), p)
}

// ExtractBackward is the adjoint of Extract: the patch gradients are scattered back
// with unit weight into a zeroed volume of the given shape. No weight volume is kept.
func (cpu *CPUBackend) ExtractBackward(gradPatches, indices *tensor.RawTensor, volumeShape tensor.Shape, p patch.Params) (*tensor.RawTensor, error) {
	if _, _, _, _, err := volumeShape.VolumeDims(); err != nil {
		return nil, errors.Wrapf(patch.ErrShapeMismatch, "extract backward: %v", err)
	}
	if err := volumeShape.Validate(); err != nil {
		return nil, errors.Wrapf(patch.ErrShapeMismatch, "extract backward: %v", err)
	}
	gradVolume := tensor.Zeros(volumeShape, tensor.Float32)
	if err := cpu.Insert(gradPatches, nil, indices, gradVolume, nil, p); err != nil {
		return nil, errors.WithMessage(err, "extract backward")
	}
	return gradVolume, nil
}
