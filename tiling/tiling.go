// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tiling runs the search, extract, weigh and insert cycle over query
// batches with bounded memory.
//
// Example:
//
//	pl := &tiling.Pipeline{
//	    Kernels:     cpu.New(),
//	    Search:      patch.DefaultSearchParams(),
//	    QueryStride: 4,
//	    BatchSize:   1024,
//	}
//	acc, err := pl.Run(ctx, vid, nil)
//	denoised, err := acc.Reconstruct(pl.Kernels)
package tiling

import (
	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/tiling"
	"github.com/born-ml/dnls/internal/weights"
	"github.com/born-ml/dnls/tensor"
)

// Pipeline drives the batched reconstruction.
type Pipeline = tiling.Pipeline

// Kernels is the backend subset a Pipeline needs.
type Kernels = tiling.Kernels

// Accumulator is the overlap-add volume and weight volume pair.
type Accumulator = tiling.Accumulator

// WeightFunc maps search distances to patch weights.
type WeightFunc = weights.Func

// Batch is a contiguous range of linear query indices.
type Batch = inds.Batch

// Plan partitions [0, total) into batches of at most batchSize queries.
func Plan(total, batchSize int) []Batch {
	return tiling.Plan(total, batchSize)
}

// NewAccumulator allocates a zeroed accumulator pair.
func NewAccumulator(shape tensor.Shape) (*Accumulator, error) {
	return tiling.NewAccumulator(shape)
}

// Uniform weighs every valid match 1.
var Uniform WeightFunc = weights.Uniform

// Softmax weighs matches by exp(-scale*dist), normalized per query.
func Softmax(scale float64) WeightFunc {
	return weights.Softmax(scale)
}
