// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the raw tensors consumed and produced by the
// non-local patch operators.
//
// # Layout
//
// Every operator works on contiguous row-major buffers:
//   - Volume: [T, C, H, W] float32 (frames, channels, height, width)
//   - Query coordinates: [Q, 3] int32 (t, h, w)
//   - Match indices: [Q, K, 3] int32, (-1, -1, -1) meaning no match
//   - Patches: [Q, K, pt, C, ps, ps] float32
//
// # Basic Usage
//
//	import "github.com/born-ml/dnls/tensor"
//
//	func main() {
//	    vid := tensor.Zeros(tensor.Shape{3, 3, 64, 64}, tensor.Float32)
//	    data := vid.AsFloat32() // View, no copy
//	    data[0] = 1
//	}
package tensor
