// Package tiling splits a query range into batches and drives the
// search, extract, weigh and insert cycle over them into one persistent
// accumulator pair.
//
// Every batch adds into the same accumulated volume and weight volume, so the
// result of a tiled run equals a single pass over all queries. In serialized
// mode the two are bit-identical: each voxel receives its contributions in
// ascending query order either way.
package tiling

import (
	"github.com/born-ml/dnls/internal/inds"
)

// Plan partitions [0, total) into consecutive batches of batchSize queries.
// The last batch may be smaller. A batchSize <= 0 (or >= total) yields one batch.
func Plan(total, batchSize int) []inds.Batch {
	if total <= 0 {
		return nil
	}
	if batchSize <= 0 || batchSize > total {
		batchSize = total
	}
	batches := make([]inds.Batch, 0, (total+batchSize-1)/batchSize)
	for start := 0; start < total; start += batchSize {
		batches = append(batches, inds.Batch{Start: start, Size: min(batchSize, total-start)})
	}
	return batches
}
