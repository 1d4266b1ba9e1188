// Package patch defines the parameters, footprint geometry and boundary policy
// shared by the non-local search, extraction, insertion and weighted-sum operators.
package patch

import (
	"github.com/pkg/errors"

	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/tensor"
)

// Params configures the patch geometry of an operator. It is immutable per call.
type Params struct {
	PatchSize  int  // Spatial size ps of the square patch.
	PatchDepth int  // Temporal depth pt, frames t..t+pt-1.
	Dilation   int  // Spacing between patch elements.
	Reflect    bool // Mirror out-of-range elements back into the volume instead of dropping them.
	AdjustH    int  // Row offset added to every element.
	AdjustW    int  // Column offset added to every element.

	// Exact selects serialized, bit-reproducible accumulation for scatter-add kernels.
	// When false, scatters use atomic adds whose order depends on scheduling.
	Exact bool
}

// DefaultParams returns a 7x7 single-frame patch with reflective bounds and exact accumulation.
func DefaultParams() Params {
	return Params{
		PatchSize:  7,
		PatchDepth: 1,
		Dilation:   1,
		Reflect:    true,
		Exact:      true,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.PatchSize <= 0 {
		return errors.Wrapf(ErrInvalidParams, "patch size must be > 0, got %d", p.PatchSize)
	}
	if p.PatchDepth <= 0 {
		return errors.Wrapf(ErrInvalidParams, "patch depth must be > 0, got %d", p.PatchDepth)
	}
	if p.Dilation <= 0 {
		return errors.Wrapf(ErrInvalidParams, "dilation must be > 0, got %d", p.Dilation)
	}
	return nil
}

// AnchorTopLeft returns a copy whose adjustment places the patch's first element
// on its coordinate instead of centering the patch there.
func (p Params) AnchorTopLeft() Params {
	adj := (p.PatchSize / 2) * p.Dilation
	p.AdjustH, p.AdjustW = adj, adj
	return p
}

// Strategy returns the accumulation strategy selected by Exact.
func (p Params) Strategy() parallel.Strategy {
	if p.Exact {
		return parallel.Serialized
	}
	return parallel.Atomic
}

// Footprint returns the element layout for these parameters.
func (p Params) Footprint() Footprint {
	return NewFootprint(p.PatchSize, p.PatchDepth, p.Dilation, p.AdjustH, p.AdjustW)
}

// PatchShape returns the (Q, K, pt, C, ps, ps) patch buffer shape.
func (p Params) PatchShape(queries, neighbors, channels int) tensor.Shape {
	return tensor.Shape{queries, neighbors, p.PatchDepth, channels, p.PatchSize, p.PatchSize}
}

// SearchParams configures the non-local search.
type SearchParams struct {
	Params

	K          int // Neighbors kept per query when UseK is set.
	WindowSize int // ws: candidates per spatial axis around the search centre.
	WindowTime int // wt: frames searched on each side of the query frame.
	Stride     int // Lattice spacing between candidates.
	Channels   int // Channels compared by the distance; 0 means all.

	// UseK returns the K best matches; otherwise the full candidate distance array.
	UseK bool

	// UseSearchAbs searches every frame and the whole frame lattice, ignoring the window and flow.
	UseSearchAbs bool
}

// DefaultSearchParams returns a 10-neighbour search over a 21x21 single-frame window.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Params:     DefaultParams(),
		K:          10,
		WindowSize: 21,
		WindowTime: 0,
		Stride:     1,
		UseK:       true,
	}
}

// Validate checks the search parameters.
func (p SearchParams) Validate() error {
	if err := p.Params.Validate(); err != nil {
		return err
	}
	if p.Stride <= 0 {
		return errors.Wrapf(ErrInvalidParams, "search stride must be > 0, got %d", p.Stride)
	}
	if p.Channels < 0 {
		return errors.Wrapf(ErrInvalidParams, "channels must be >= 0, got %d", p.Channels)
	}
	if !p.UseSearchAbs {
		if p.WindowSize <= 0 {
			return errors.Wrapf(ErrInvalidParams, "window size must be > 0, got %d", p.WindowSize)
		}
		if p.WindowTime < 0 {
			return errors.Wrapf(ErrInvalidParams, "temporal window must be >= 0, got %d", p.WindowTime)
		}
	}
	if p.UseK && p.K <= 0 {
		return errors.Wrapf(ErrInvalidParams, "k must be > 0 when selecting neighbors, got %d", p.K)
	}
	return nil
}

// CompareChannels returns how many leading channels enter the distance.
func (p SearchParams) CompareChannels(volumeChannels int) int {
	if p.Channels == 0 || p.Channels > volumeChannels {
		return volumeChannels
	}
	return p.Channels
}
