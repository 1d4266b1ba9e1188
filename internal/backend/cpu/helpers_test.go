package cpu

import (
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// testBackend fans out even on small inputs so the parallel paths get exercised.
func testBackend() *CPUBackend {
	return NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 2})
}

func randVolume(rng *rand.Rand, frames, channels, height, width int) *tensor.RawTensor {
	return tensor.Rand(tensor.Shape{frames, channels, height, width}, rng)
}

// allQueries returns every query of the strided full-frame lattice.
func allQueries(t *testing.T, stride, frames, height, width int) *tensor.RawTensor {
	t.Helper()
	rect := inds.FullRect(height, width)
	total := inds.NumQueries(stride, rect, frames)
	return must.M1(inds.Queries(inds.Batch{Start: 0, Size: total}, stride, rect, frames))
}

// randIndices draws (numQueries, k) valid coordinates, every fifth one a sentinel.
func randIndices(rng *rand.Rand, numQueries, k, frames, height, width int) *tensor.RawTensor {
	out := tensor.Zeros(tensor.Shape{numQueries, k, 3}, tensor.Int32)
	data := out.AsInt32()
	for i := 0; i < numQueries*k; i++ {
		c := inds.Coord{T: rng.Intn(frames), H: rng.Intn(height), W: rng.Intn(width)}
		if i%5 == 4 {
			c = inds.Sentinel
		}
		inds.Set(data, i, c)
	}
	return out
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// dot is the float64 inner product of two float32 tensors.
func dot(a, b *tensor.RawTensor) float64 {
	return floats.Dot(toFloat64(a.AsFloat32()), toFloat64(b.AsFloat32()))
}

func smallParams(ps, pt, dilation int, reflect bool) patch.Params {
	p := patch.DefaultParams()
	p.PatchSize, p.PatchDepth, p.Dilation, p.Reflect = ps, pt, dilation, reflect
	return p
}
