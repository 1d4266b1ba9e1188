// Package inds maps linear query indices to (t, h, w) coordinates and validates
// the index tensors exchanged between search and the patch operators.
//
// The query order defined here is the contract between every consumer: flat
// result row q always refers to QueryCoord(q, ...), no matter how the query range
// is split into batches.
package inds

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Coord is a voxel coordinate (frame, row, column).
type Coord struct {
	T, H, W int
}

// Sentinel marks "no match". Downstream operators skip it.
var Sentinel = Coord{T: -1, H: -1, W: -1}

// IsSentinel reports whether c is the full sentinel triple.
func (c Coord) IsSentinel() bool {
	return c == Sentinel
}

// Rect is the half-open query rectangle [Top, Bottom) x [Left, Right).
type Rect struct {
	Top, Left, Bottom, Right int
}

// FullRect covers a whole frame.
func FullRect(height, width int) Rect {
	return Rect{Top: 0, Left: 0, Bottom: height, Right: width}
}

// Validate checks that the rectangle is non-empty and inside a height x width frame.
func (r Rect) Validate(height, width int) error {
	if r.Top < 0 || r.Left < 0 || r.Bottom > height || r.Right > width {
		return errors.Wrapf(patch.ErrOutOfRange, "query rect %+v exceeds frame %dx%d", r, height, width)
	}
	if r.Bottom <= r.Top || r.Right <= r.Left {
		return errors.Wrapf(patch.ErrInvalidParams, "empty query rect %+v", r)
	}
	return nil
}

// GridSize returns the number of query rows and columns of the rect at the given stride.
func GridSize(stride int, rect Rect) (nh, nw int) {
	nh = (rect.Bottom-rect.Top-1)/stride + 1
	nw = (rect.Right-rect.Left-1)/stride + 1
	return nh, nw
}

// NumQueries returns the total number of queries over all frames.
func NumQueries(stride int, rect Rect, frames int) int {
	nh, nw := GridSize(stride, rect)
	return frames * nh * nw
}

// QueryCoord maps linear query index q to its coordinate.
func QueryCoord(q, stride int, rect Rect) Coord {
	nh, nw := GridSize(stride, rect)
	perFrame := nh * nw
	r := q % perFrame
	return Coord{
		T: q / perFrame,
		H: rect.Top + (r/nw)*stride,
		W: rect.Left + (r%nw)*stride,
	}
}

// Batch is a contiguous range of linear query indices.
type Batch struct {
	Start, Size int
}

// End returns the exclusive end of the batch.
func (b Batch) End() int {
	return b.Start + b.Size
}

// Queries generates the (Size, 3) int32 query tensor of a batch.
// It is a pure function of its arguments.
func Queries(batch Batch, stride int, rect Rect, frames int) (*tensor.RawTensor, error) {
	if stride <= 0 {
		return nil, errors.Wrapf(patch.ErrInvalidParams, "query stride must be > 0, got %d", stride)
	}
	if rect.Bottom <= rect.Top || rect.Right <= rect.Left {
		return nil, errors.Wrapf(patch.ErrInvalidParams, "empty query rect %+v", rect)
	}
	total := NumQueries(stride, rect, frames)
	if batch.Start < 0 || batch.Size <= 0 || batch.End() > total {
		return nil, errors.Wrapf(patch.ErrOutOfRange, "query batch [%d, %d) outside [0, %d)", batch.Start, batch.End(), total)
	}

	out := tensor.Zeros(tensor.Shape{batch.Size, 3}, tensor.Int32)
	data := out.AsInt32()
	for i := 0; i < batch.Size; i++ {
		c := QueryCoord(batch.Start+i, stride, rect)
		data[3*i] = int32(c.T)
		data[3*i+1] = int32(c.H)
		data[3*i+2] = int32(c.W)
	}
	return out, nil
}

// At reads coordinate i from an int32 tensor whose last axis holds (t, h, w).
func At(data []int32, i int) Coord {
	return Coord{T: int(data[3*i]), H: int(data[3*i+1]), W: int(data[3*i+2])}
}

// Set writes coordinate c at position i of an int32 (..., 3) buffer.
func Set(data []int32, i int, c Coord) {
	data[3*i] = int32(c.T)
	data[3*i+1] = int32(c.H)
	data[3*i+2] = int32(c.W)
}

// ValidateQueries checks a caller-supplied (Q, 3) query tensor against a volume.
// Queries must be in range; sentinels are not accepted as queries.
func ValidateQueries(queries *tensor.RawTensor, frames, height, width int) error {
	shape := queries.Shape()
	if len(shape) != 2 || shape[1] != 3 || queries.DType() != tensor.Int32 {
		return errors.Wrapf(patch.ErrShapeMismatch, "queries must be int32 [Q,3], got %s %v", queries.DType(), shape)
	}
	bounds := patch.NewBounds(frames, height, width, false)
	data := queries.AsInt32()
	for q := 0; q < shape[0]; q++ {
		c := At(data, q)
		if !bounds.Contains(c.T, c.H, c.W) {
			return errors.Wrapf(patch.ErrOutOfRange, "query %d at %+v outside volume %dx%dx%d", q, c, frames, height, width)
		}
	}
	return nil
}

// Validate checks a (Q, K, 3) index tensor against a volume: every triple is
// either fully inside the volume or the full sentinel.
// It returns the number of queries and neighbors.
func Validate(indices *tensor.RawTensor, frames, height, width int) (numQueries, k int, err error) {
	shape := indices.Shape()
	if len(shape) != 3 || shape[2] != 3 || indices.DType() != tensor.Int32 {
		return 0, 0, errors.Wrapf(patch.ErrShapeMismatch, "indices must be int32 [Q,K,3], got %s %v", indices.DType(), shape)
	}
	bounds := patch.NewBounds(frames, height, width, false)
	data := indices.AsInt32()
	n := shape[0] * shape[1]
	for i := 0; i < n; i++ {
		c := At(data, i)
		if c.IsSentinel() {
			continue
		}
		if c.T < 0 || c.H < 0 || c.W < 0 {
			return 0, 0, errors.Wrapf(patch.ErrInvalidIndex, "index %d (query %d, neighbor %d) is %+v",
				i, i/shape[1], i%shape[1], c)
		}
		if !bounds.Contains(c.T, c.H, c.W) {
			return 0, 0, errors.Wrapf(patch.ErrOutOfRange, "index %d (query %d, neighbor %d) at %+v outside volume %dx%dx%d",
				i, i/shape[1], i%shape[1], c, frames, height, width)
		}
	}
	return shape[0], shape[1], nil
}

// FromQueries converts a (Q, 3) query tensor into a (Q, 1, 3) index tensor, K = 1.
func FromQueries(queries *tensor.RawTensor) *tensor.RawTensor {
	shape := queries.Shape()
	out := tensor.Zeros(tensor.Shape{shape[0], 1, 3}, tensor.Int32)
	copy(out.AsInt32(), queries.AsInt32())
	return out
}
