package tiling

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
	"github.com/born-ml/dnls/internal/weights"
)

// Kernels is the subset of a backend the pipeline drives. *cpu.CPUBackend implements it.
type Kernels interface {
	Search(query, target, queries *tensor.RawTensor, flow *patch.Flow, p patch.SearchParams) (*tensor.RawTensor, *tensor.RawTensor, error)
	Extract(volume, indices *tensor.RawTensor, p patch.Params) (*tensor.RawTensor, error)
	Insert(patches, weights, indices, accum, weightVol *tensor.RawTensor, p patch.Params) error
	Normalize(accum, weightVol *tensor.RawTensor) (*tensor.RawTensor, error)
}

// Pipeline runs Search -> Extract -> Weights -> Insert over query batches.
type Pipeline struct {
	Kernels Kernels
	Search  patch.SearchParams

	// QueryStride is the spacing of the query lattice inside Rect.
	QueryStride int

	// Rect restricts the queries to a sub-rectangle of every frame; nil means the whole frame.
	Rect *inds.Rect

	// BatchSize bounds the number of queries processed at once; <= 0 means a single batch.
	BatchSize int

	// Weights maps the distances of a batch to patch weights; nil means weights.Uniform.
	Weights weights.Func
}

// rect returns the effective query rectangle for an height x width frame.
func (pl *Pipeline) rect(height, width int) inds.Rect {
	if pl.Rect == nil {
		return inds.FullRect(height, width)
	}
	return *pl.Rect
}

// Run allocates a fresh accumulator for volume and fills it, see RunInto.
func (pl *Pipeline) Run(ctx context.Context, volume *tensor.RawTensor, flow *patch.Flow) (*Accumulator, error) {
	acc, err := NewAccumulator(volume.Shape())
	if err != nil {
		return nil, err
	}
	if err := pl.RunInto(ctx, volume, flow, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// RunInto processes every batch of the plan in order, adding into acc.
//
// The context is checked between batches. A run that stops early, whether
// cancelled or failed, returns the error and leaves acc holding the batches that
// completed before it; the error names the failing batch's query range. Call
// acc.Reset before reusing it.
func (pl *Pipeline) RunInto(ctx context.Context, volume *tensor.RawTensor, flow *patch.Flow, acc *Accumulator) error {
	if pl.Kernels == nil {
		return errors.Wrap(patch.ErrInvalidParams, "pipeline: no kernels")
	}
	if err := pl.Search.Validate(); err != nil {
		return errors.WithMessage(err, "pipeline")
	}
	if pl.QueryStride <= 0 {
		return errors.Wrapf(patch.ErrInvalidParams, "pipeline: query stride must be > 0, got %d", pl.QueryStride)
	}
	frames, channels, height, width, err := volume.Shape().VolumeDims()
	if err != nil {
		return errors.Wrapf(patch.ErrShapeMismatch, "pipeline: %v", err)
	}
	if err := volume.Shape().Validate(); err != nil {
		return errors.Wrapf(patch.ErrShapeMismatch, "pipeline: %v", err)
	}
	if !acc.Shape().Equal(volume.Shape()) {
		return errors.Wrapf(patch.ErrShapeMismatch, "pipeline: accumulator %v for volume %v", acc.Shape(), volume.Shape())
	}
	rect := pl.rect(height, width)
	if err := rect.Validate(height, width); err != nil {
		return errors.WithMessage(err, "pipeline")
	}
	weigh := pl.Weights
	if weigh == nil {
		weigh = weights.Uniform
	}

	total := inds.NumQueries(pl.QueryStride, rect, frames)
	batches := Plan(total, pl.BatchSize)
	if klog.V(1).Enabled() {
		klog.Infof("pipeline: %s queries in %d batches of up to %s, %d channels, accumulators %s",
			humanize.Comma(int64(total)), len(batches), humanize.Comma(int64(batches[0].Size)), channels,
			humanize.Bytes(uint64(2*acc.Volume.ByteSize())))
	}

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pl.runBatch(volume, flow, batch, rect, frames, weigh, acc); err != nil {
			return errors.WithMessagef(err, "pipeline batch %d [%d, %d)", i, batch.Start, batch.End())
		}
		klog.V(2).Infof("pipeline: batch %d/%d done", i+1, len(batches))
	}
	return nil
}

func (pl *Pipeline) runBatch(volume *tensor.RawTensor, flow *patch.Flow, batch inds.Batch, rect inds.Rect, frames int, weigh weights.Func, acc *Accumulator) error {
	queries, err := inds.Queries(batch, pl.QueryStride, rect, frames)
	if err != nil {
		return err
	}
	dists, indices, err := pl.Kernels.Search(volume, nil, queries, flow, pl.Search)
	if err != nil {
		return err
	}
	w, err := weigh(dists)
	if err != nil {
		return err
	}
	patches, err := pl.Kernels.Extract(volume, indices, pl.Search.Params)
	if err != nil {
		return err
	}
	return pl.Kernels.Insert(patches, w, indices, acc.Volume, acc.Weights, pl.Search.Params)
}
