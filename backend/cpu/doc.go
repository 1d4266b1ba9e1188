// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend for the non-local patch operators.
//
// # Overview
//
// The backend implements:
//   - Search: windowed top-K or exhaustive patch search, optionally flow guided
//   - Extract / Unfold: patch extraction at arbitrary or lattice coordinates
//   - Insert / Fold: weighted overlap-add into an accumulator pair
//   - WeightedPatchSum: fused extraction and weighted sum over neighbors
//   - The exact adjoint of each operator
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/dnls/backend/cpu"
//	    "github.com/born-ml/dnls/patch"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    p := patch.DefaultSearchParams()
//	    dists, indices, err := backend.Search(vid, nil, queries, nil, p)
//	    patches, err := backend.Extract(vid, indices, p.Params)
//	}
//
// # Accumulation
//
// Scatter-add kernels (insertion and the adjoints) honor Params.Exact:
//   - Exact: work is partitioned by channel and every voxel receives its
//     contributions in ascending (query, neighbor, element) order, bit-reproducibly
//   - Inexact: work is partitioned by patch and voxels are updated with atomic adds
//
// The number of workers defaults to runtime.NumCPU() and can be pinned with
// the DNLS_NUM_WORKERS environment variable.
package cpu
