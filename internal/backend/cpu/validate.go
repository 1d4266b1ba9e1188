package cpu

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// volumeDims holds the unpacked (T, C, H, W) of a video volume.
type volumeDims struct {
	frames, channels, height, width int
}

func (d volumeDims) bounds(reflect bool) patch.Bounds {
	return patch.NewBounds(d.frames, d.height, d.width, reflect)
}

// planeSize is the stride between channels of one frame.
func (d volumeDims) planeSize() int {
	return d.height * d.width
}

// base returns the offset of (t, 0, h, w); add c*planeSize() for channel c.
func (d volumeDims) base(t, h, w int) int {
	return (t*d.channels*d.height+h)*d.width + w
}

func (d volumeDims) shape() tensor.Shape {
	return tensor.Shape{d.frames, d.channels, d.height, d.width}
}

// checkVolume validates a (T, C, H, W) float32 volume.
func checkVolume(name string, v *tensor.RawTensor) (volumeDims, error) {
	if v == nil {
		return volumeDims{}, errors.Wrapf(patch.ErrShapeMismatch, "%s volume is nil", name)
	}
	if v.DType() != tensor.Float32 {
		return volumeDims{}, errors.Wrapf(patch.ErrShapeMismatch, "%s volume must be float32, got %s", name, v.DType())
	}
	t, c, h, w, err := v.Shape().VolumeDims()
	if err != nil {
		return volumeDims{}, errors.Wrapf(patch.ErrShapeMismatch, "%s: %v", name, err)
	}
	return volumeDims{frames: t, channels: c, height: h, width: w}, nil
}

// checkFloat32 validates that t is a float32 tensor of the wanted shape.
func checkFloat32(name string, t *tensor.RawTensor, want tensor.Shape) error {
	if t == nil {
		return errors.Wrapf(patch.ErrShapeMismatch, "%s is nil", name)
	}
	if t.DType() != tensor.Float32 || !t.Shape().Equal(want) {
		return errors.Wrapf(patch.ErrShapeMismatch, "%s must be float32 %v, got %s %v", name, want, t.DType(), t.Shape())
	}
	return nil
}

// weightMode describes how a weights tensor applies to patches.
type weightMode int

const (
	weightsUnit      weightMode = iota // nil weights: every element counts 1.
	weightsPerPatch                    // (Q, K): one scalar per patch.
	weightsPerElement                  // Same shape as the patch buffer.
)

// checkWeights classifies a weights tensor for a (Q, K, pt, C, ps, ps) patch buffer.
func checkWeights(weights *tensor.RawTensor, patchShape tensor.Shape) (weightMode, error) {
	if weights == nil {
		return weightsUnit, nil
	}
	if weights.DType() != tensor.Float32 {
		return 0, errors.Wrapf(patch.ErrShapeMismatch, "weights must be float32, got %s", weights.DType())
	}
	switch shape := weights.Shape(); {
	case shape.Equal(patchShape[:2]):
		return weightsPerPatch, nil
	case shape.Equal(patchShape):
		return weightsPerElement, nil
	default:
		return 0, errors.Wrapf(patch.ErrShapeMismatch, "weights must be %v or %v, got %v", patchShape[:2], patchShape, shape)
	}
}
