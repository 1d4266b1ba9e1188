package patch

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/tensor"
)

// Flow holds precomputed optical flow for re-centering the search window.
//
// Forward[t] moves a pixel of frame t to frame t+1 and Backward[t] moves it to
// frame t-1. Both are (T, 2, H, W) float32 with channel 0 = dy and channel 1 = dx.
// Either may be nil, meaning no displacement in that direction.
type Flow struct {
	Forward  *tensor.RawTensor
	Backward *tensor.RawTensor
}

// Validate checks both fields against a (T, H, W) volume.
func (f *Flow) Validate(frames, height, width int) error {
	if f == nil {
		return nil
	}
	want := tensor.Shape{frames, 2, height, width}
	fields := []struct {
		name  string
		field *tensor.RawTensor
	}{{"forward", f.Forward}, {"backward", f.Backward}}
	for _, nf := range fields {
		name, field := nf.name, nf.field
		if field == nil {
			continue
		}
		if field.DType() != tensor.Float32 || !field.Shape().Equal(want) {
			return errors.Wrapf(ErrShapeMismatch, "%s flow must be float32 %v, got %s %v",
				name, want, field.DType(), field.Shape())
		}
	}
	return nil
}
