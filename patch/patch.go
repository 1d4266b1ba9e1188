// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package patch exposes the operator parameters, the query coordinate
// generator and the error values of the non-local patch operators.
//
// Errors returned by every operator wrap one of ErrShapeMismatch, ErrOutOfRange,
// ErrInvalidIndex or ErrInvalidParams and can be tested with errors.Is.
package patch

import (
	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/tensor"
)

// Params configures patch geometry and accumulation.
type Params = patch.Params

// SearchParams configures the non-local search.
type SearchParams = patch.SearchParams

// Flow is an optional forward/backward optical flow pair.
type Flow = patch.Flow

// Coord is a (t, h, w) voxel coordinate.
type Coord = inds.Coord

// Rect is a half-open query rectangle.
type Rect = inds.Rect

// Batch is a contiguous range of linear query indices.
type Batch = inds.Batch

// Sentinel is the (-1, -1, -1) "no match" coordinate.
var Sentinel = inds.Sentinel

// Errors.
var (
	ErrShapeMismatch = patch.ErrShapeMismatch
	ErrOutOfRange    = patch.ErrOutOfRange
	ErrInvalidIndex  = patch.ErrInvalidIndex
	ErrInvalidParams = patch.ErrInvalidParams
)

// DefaultParams returns 7x7 single-frame patches with reflective bounds and exact accumulation.
func DefaultParams() Params {
	return patch.DefaultParams()
}

// DefaultSearchParams returns a 10-neighbor search over a 21x21 window.
func DefaultSearchParams() SearchParams {
	return patch.DefaultSearchParams()
}

// FullRect covers a whole height x width frame.
func FullRect(height, width int) Rect {
	return inds.FullRect(height, width)
}

// NumQueries returns the number of queries of a strided rect over all frames.
func NumQueries(stride int, rect Rect, frames int) int {
	return inds.NumQueries(stride, rect, frames)
}

// QueryCoord maps a linear query index to its coordinate.
func QueryCoord(q, stride int, rect Rect) Coord {
	return inds.QueryCoord(q, stride, rect)
}

// Queries generates the [batch.Size, 3] int32 query tensor of a batch.
func Queries(batch Batch, stride int, rect Rect, frames int) (*tensor.RawTensor, error) {
	return inds.Queries(batch, stride, rect, frames)
}

// FromQueries turns a [Q, 3] query tensor into a [Q, 1, 3] index tensor.
func FromQueries(queries *tensor.RawTensor) *tensor.RawTensor {
	return inds.FromQueries(queries)
}
