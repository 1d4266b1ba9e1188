package cpu

import (
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// weightedDistSum evaluates Σ g·dist in float64 for an exhaustive search, whose
// candidate set does not depend on the volume values.
func weightedDistSum(t *testing.T, backend *CPUBackend, query, target, queries, g *tensor.RawTensor, p patch.SearchParams) float64 {
	t.Helper()
	dists, _ := must.M2(backend.Search(query, target, queries, nil, p))
	d, w := dists.AsFloat32(), g.AsFloat32()
	var sum float64
	for i := range d {
		if w[i] != 0 {
			sum += float64(w[i]) * float64(d[i])
		}
	}
	return sum
}

// checkNumericalGradient compares grad with central differences of Σ g·dist wrt vol.
func checkNumericalGradient(t *testing.T, name string, vol, grad *tensor.RawTensor, eval func() float64) {
	t.Helper()
	const eps = 1e-2
	data, want := vol.AsFloat32(), grad.AsFloat32()
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plus := eval()
		data[i] = orig - eps
		minus := eval()
		data[i] = orig
		assert.InDelta(t, (plus-minus)/(2*eps), want[i], 5e-3, "%s voxel %d", name, i)
	}
}

func TestSearchBackward_NumericalGradient(t *testing.T) {
	for _, reflect := range []bool{true, false} {
		for _, self := range []bool{true, false} {
			rng := rand.New(rand.NewSource(11))
			query := randVolume(rng, 2, 2, 5, 6)
			var target *tensor.RawTensor
			if !self {
				target = randVolume(rng, 2, 2, 5, 6)
			}
			queries := allQueries(t, 2, 2, 5, 6)
			p := searchParams(3, 1, 3, 1, reflect)
			p.UseK = false

			backend := testBackend()
			dists, indices := must.M2(backend.Search(query, target, queries, nil, p))
			g := tensor.Rand(dists.Shape(), rng)
			// Exhaustive results hold +Inf for missing candidates; give them no gradient.
			gd := g.AsFloat32()
			for i, d := range dists.AsFloat32() {
				if d > 1e30 {
					gd[i] = 0
				}
			}

			gradQuery, gradTarget, err := backend.SearchBackward(query, target, queries, indices, g, p)
			require.NoError(t, err)
			eval := func() float64 { return weightedDistSum(t, backend, query, target, queries, g, p) }
			checkNumericalGradient(t, "query", query, gradQuery, eval)
			if self {
				assert.Nil(t, gradTarget)
				continue
			}
			checkNumericalGradient(t, "target", target, gradTarget, eval)
		}
	}
}

func TestSearchBackward_StrategiesAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	vid := randVolume(rng, 2, 3, 10, 10)
	queries := allQueries(t, 1, 2, 10, 10)
	p := searchParams(5, 6, 7, 1, true)
	backend := testBackend()

	dists, indices := must.M2(backend.Search(vid, nil, queries, nil, p))
	g := tensor.Rand(dists.Shape(), rng)

	exact1, _ := must.M2(backend.SearchBackward(vid, nil, queries, indices, g, p))
	exact2, _ := must.M2(backend.SearchBackward(vid, nil, queries, indices, g, p))
	assert.Equal(t, exact1.AsFloat32(), exact2.AsFloat32(), "exact mode must be bit-reproducible")

	p.Exact = false
	fast, _ := must.M2(backend.SearchBackward(vid, nil, queries, indices, g, p))
	a, b := toFloat64(exact1.AsFloat32()), toFloat64(fast.AsFloat32())
	assert.True(t, floats.EqualApprox(a, b, 1e-3), "max diff %g", floats.Distance(a, b, 1e300))
}

func TestSearchBackward_Errors(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	vid := randVolume(rng, 1, 1, 6, 6)
	queries := allQueries(t, 3, 1, 6, 6)
	p := searchParams(3, 2, 3, 0, true)
	backend := testBackend()
	dists, indices := must.M2(backend.Search(vid, nil, queries, nil, p))

	_, _, err := backend.SearchBackward(vid, nil, queries, indices, tensor.Zeros(tensor.Shape{4, 3}, tensor.Float32), p)
	assert.True(t, errors.Is(err, patch.ErrShapeMismatch), "%v", err)

	bad := indices.Copy()
	bad.AsInt32()[1] = -1 // (t, -1, w) is neither valid nor the sentinel.
	_, _, err = backend.SearchBackward(vid, nil, queries, bad, dists, p)
	assert.True(t, errors.Is(err, patch.ErrInvalidIndex), "%v", err)

	_, _, err = backend.SearchBackward(vid, nil, queries.Copy(), randIndices(rng, 3, 2, 1, 6, 6), tensor.ZerosLike(dists), p)
	assert.True(t, errors.Is(err, patch.ErrShapeMismatch), "query count mismatch: %v", err)
}
