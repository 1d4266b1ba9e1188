package parallel

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Strategy selects how scatter-add kernels order their floating point accumulation.
type Strategy int

const (
	// Serialized partitions the output so that every voxel is owned by one worker, which visits
	// its contributions in a fixed order. Results are bit-reproducible.
	Serialized Strategy = iota

	// Atomic lets every work item add into shared voxels with compare-and-swap.
	// The summation order depends on scheduling, so results may differ in the last bits.
	Atomic
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Serialized:
		return "serialized"
	case Atomic:
		return "atomic"
	default:
		return "unknown"
	}
}

// AddFunc adds v into dst[i].
type AddFunc func(dst []float32, i int, v float32)

// plainAdd is used when the caller owns dst[i] exclusively.
func plainAdd(dst []float32, i int, v float32) {
	dst[i] += v
}

// AtomicAdd adds v into dst[i] with a compare-and-swap loop.
func AtomicAdd(dst []float32, i int, v float32) {
	AtomicAddFloat32(&dst[i], v)
}

// AtomicAddFloat32 atomically performs *addr += delta.
func AtomicAddFloat32(addr *float32, delta float32) {
	//nolint:gosec // float32 and uint32 share size and alignment
	bits := (*uint32)(unsafe.Pointer(addr))
	for {
		oldBits := atomic.LoadUint32(bits)
		newBits := math.Float32bits(math.Float32frombits(oldBits) + delta)
		if atomic.CompareAndSwapUint32(bits, oldBits, newBits) {
			return
		}
	}
}

// Scatter runs body for every (item, part) pair, where parts partition the output
// (channels, for the volume kernels) so that no two parts write the same element.
//
// With Serialized, workers are spread over parts and each visits items in ascending order.
// With Atomic, workers are spread over items and writes go through AtomicAdd.
func Scatter(strategy Strategy, items, parts int, body func(item, part int, add AddFunc), cfg Config) {
	switch strategy {
	case Atomic:
		For(items, func(item int) {
			for part := 0; part < parts; part++ {
				body(item, part, AtomicAdd)
			}
		}, cfg)
	default:
		partCfg := cfg
		partCfg.MinChunkSize = 1
		For(parts, func(part int) {
			for item := 0; item < items; item++ {
				body(item, part, plainAdd)
			}
		}, partCfg)
	}
}
