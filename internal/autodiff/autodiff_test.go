package autodiff_test

import (
	"math/rand"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dnls/internal/autodiff"
	"github.com/born-ml/dnls/internal/backend/cpu"
	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

var _ autodiff.BackwardCapable = (*autodiff.AutodiffBackend[*cpu.CPUBackend])(nil)

func testParams() patch.Params {
	p := patch.DefaultParams()
	p.PatchSize = 3
	return p
}

func testIndices(rng *rand.Rand, numQueries, k, frames, height, width int) *tensor.RawTensor {
	out := tensor.Zeros(tensor.Shape{numQueries, k, 3}, tensor.Int32)
	for i := 0; i < numQueries*k; i++ {
		inds.Set(out.AsInt32(), i, inds.Coord{T: rng.Intn(frames), H: rng.Intn(height), W: rng.Intn(width)})
	}
	return out
}

// TestAutodiffBackend_Name tests the Name method.
func TestAutodiffBackend_Name(t *testing.T) {
	backend := autodiff.New(cpu.New())
	expected := "Autodiff(CPU)"
	if backend.Name() != expected {
		t.Errorf("Name() = %s, want %s", backend.Name(), expected)
	}
}

// TestAutodiffBackend_Device tests the Device method.
func TestAutodiffBackend_Device(t *testing.T) {
	backend := autodiff.New(cpu.New())
	if backend.Device() != tensor.CPU {
		t.Errorf("Device() = %v, want %v", backend.Device(), tensor.CPU)
	}
	if backend.Inner().Name() != "CPU" {
		t.Errorf("Inner().Name() = %s, want CPU", backend.Inner().Name())
	}
}

// TestTape_Recording tests tape recording on/off.
func TestTape_Recording(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()

	if tape.IsRecording() {
		t.Error("Tape should not be recording initially")
	}

	// Operations outside a recording are not taped.
	rng := rand.New(rand.NewSource(1))
	volume := tensor.Rand(tensor.Shape{1, 1, 4, 4}, rng)
	must.M1(backend.Extract(volume, testIndices(rng, 2, 1, 1, 4, 4), testParams()))
	if tape.NumOps() != 0 {
		t.Errorf("Tape recorded %d ops while stopped", tape.NumOps())
	}

	tape.StartRecording()
	if !tape.IsRecording() {
		t.Error("Tape should be recording after StartRecording()")
	}

	tape.StopRecording()
	if tape.IsRecording() {
		t.Error("Tape should not be recording after StopRecording()")
	}
}

// TestTape_Clear tests tape clearing.
func TestTape_Clear(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()
	tape.StartRecording()

	a := must.M1(tensor.FromFloat32([]float32{1, 2}, tensor.Shape{2}))
	b := must.M1(tensor.FromFloat32([]float32{3, 4}, tensor.Shape{2}))
	must.M1(backend.Add(a, b))

	if tape.NumOps() == 0 {
		t.Error("Tape should have recorded operations")
	}
	assert.Equal(t, []float32{1, 2}, a.AsFloat32(), "recorded inputs must not be overwritten")

	tape.Clear()
	if tape.NumOps() != 0 {
		t.Errorf("Tape should be empty after Clear(), got %d ops", tape.NumOps())
	}
	// Clear keeps the recording state so the tape can be reused between passes.
	if !tape.IsRecording() {
		t.Error("Tape should still be recording after Clear()")
	}
}

// TestBackward_NoOps tests that an empty tape is reported.
func TestBackward_NoOps(t *testing.T) {
	backend := autodiff.New(cpu.New())
	_, err := autodiff.Backward(tensor.Zeros(tensor.Shape{1}, tensor.Float32), backend)
	assert.Error(t, err)
}

// TestBackward_ExtractInsertCountsCoverage tests the round trip gradient.
// d sum(Insert(Extract(V))) / dV counts how often each voxel is read, which with
// unit weights is exactly the weight volume.
func TestBackward_ExtractInsertCountsCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	backend := autodiff.New(cpu.New())
	volume := tensor.Rand(tensor.Shape{2, 2, 6, 6}, rng)
	indices := testIndices(rng, 5, 3, 2, 6, 6)
	p := testParams()

	backend.Tape().StartRecording()
	patches := must.M1(backend.Extract(volume, indices, p))
	accum, weightVol, err := backend.Insert(patches, nil, indices, volume.Shape(), p)
	require.NoError(t, err)
	require.Equal(t, 2, backend.Tape().NumOps())

	grads, err := autodiff.Backward(accum, backend)
	require.NoError(t, err)
	require.Contains(t, grads, volume)
	assert.Equal(t, weightVol.AsFloat32(), grads[volume].AsFloat32())
}

// TestBackward_AccumulatesSharedInputs tests gradient summation over two paths.
func TestBackward_AccumulatesSharedInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	backend := autodiff.New(cpu.New())
	volume := tensor.Rand(tensor.Shape{1, 1, 6, 6}, rng)
	first := testIndices(rng, 4, 2, 1, 6, 6)
	second := testIndices(rng, 3, 2, 1, 6, 6)
	p := testParams()

	backend.Tape().StartRecording()
	a, wa, err := backend.Insert(must.M1(backend.Extract(volume, first, p)), nil, first, volume.Shape(), p)
	require.NoError(t, err)
	b, wb, err := backend.Insert(must.M1(backend.Extract(volume, second, p)), nil, second, volume.Shape(), p)
	require.NoError(t, err)
	sum := must.M1(backend.Add(a, b))

	grads, err := autodiff.Backward(sum, backend)
	require.NoError(t, err)
	want := make([]float32, 36)
	for i := range want {
		want[i] = wa.AsFloat32()[i] + wb.AsFloat32()[i]
	}
	assert.Equal(t, want, grads[volume].AsFloat32())
}

// TestBackward_WeightedPatchSum tests that the taped weighted sum matches its adjoint kernel.
func TestBackward_WeightedPatchSum(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	inner := cpu.New()
	backend := autodiff.New(inner)
	volume := tensor.Rand(tensor.Shape{2, 1, 5, 5}, rng)
	indices := testIndices(rng, 4, 3, 2, 5, 5)
	weights := tensor.Rand(tensor.Shape{4, 3}, rng)
	p := testParams()

	backend.Tape().StartRecording()
	out := must.M1(backend.WeightedPatchSum(volume, weights, indices, p))
	grads, err := autodiff.Backward(out, backend)
	require.NoError(t, err)

	wantVolume, wantWeights := must.M2(inner.WeightedPatchSumBackward(tensor.Full(out.Shape(), 1), volume, weights, indices, p))
	assert.Equal(t, wantVolume.AsFloat32(), grads[volume].AsFloat32())
	assert.Equal(t, wantWeights.AsFloat32(), grads[weights].AsFloat32())
}

// TestBackward_Search tests that distance gradients reach the query and target volumes.
func TestBackward_Search(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	inner := cpu.New()
	backend := autodiff.New(inner)
	query := tensor.Rand(tensor.Shape{2, 1, 6, 6}, rng)
	target := tensor.Rand(tensor.Shape{2, 1, 6, 6}, rng)
	queries := must.M1(inds.Queries(inds.Batch{Start: 0, Size: 8}, 3, inds.FullRect(6, 6), 2))
	p := patch.DefaultSearchParams()
	p.Params = testParams()
	p.K, p.WindowSize, p.WindowTime = 4, 5, 1

	backend.Tape().StartRecording()
	dists, indices, err := backend.Search(query, target, queries, nil, p)
	require.NoError(t, err)
	grads, err := autodiff.Backward(dists, backend)
	require.NoError(t, err)

	wantQuery, wantTarget := must.M2(inner.SearchBackward(query, target, queries, indices, tensor.Full(dists.Shape(), 1), p))
	assert.Equal(t, wantQuery.AsFloat32(), grads[query].AsFloat32())
	assert.Equal(t, wantTarget.AsFloat32(), grads[target].AsFloat32())
}

// TestBackwardFrom_BothInsertOutputs tests seeding the accumulator and weight volume together.
func TestBackwardFrom_BothInsertOutputs(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	inner := cpu.New()
	backend := autodiff.New(inner)
	shape := tensor.Shape{1, 2, 5, 5}
	indices := testIndices(rng, 3, 2, 1, 5, 5)
	p := testParams()
	patches := tensor.Rand(p.PatchShape(3, 2, 2), rng)
	weights := tensor.Rand(tensor.Shape{3, 2}, rng)

	backend.Tape().StartRecording()
	accum, weightVol, err := backend.Insert(patches, weights, indices, shape, p)
	require.NoError(t, err)

	gradAccum, gradWeightVol := tensor.Rand(shape, rng), tensor.Rand(shape, rng)
	grads, err := backend.Tape().BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{
		accum:     gradAccum,
		weightVol: gradWeightVol,
	}, backend)
	require.NoError(t, err)

	wantPatches, wantWeights := must.M2(inner.InsertBackward(gradAccum, gradWeightVol, patches, weights, indices, p))
	assert.Equal(t, wantPatches.AsFloat32(), grads[patches].AsFloat32())
	assert.Equal(t, wantWeights.AsFloat32(), grads[weights].AsFloat32())
	assert.True(t, backend.Tape().IsRecording(), "recording state is restored after backward")
}

// TestBackward_SearchExtractInsertChain backpropagates through a search whose
// distances weight the insertion of the patches it found.
func TestBackward_SearchExtractInsertChain(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	inner := cpu.New()
	backend := autodiff.New(inner)
	volume := tensor.Rand(tensor.Shape{2, 1, 6, 6}, rng)
	queries := must.M1(inds.Queries(inds.Batch{Start: 0, Size: 8}, 3, inds.FullRect(6, 6), 2))
	p := patch.DefaultSearchParams()
	p.Params = testParams()
	p.K, p.WindowSize, p.WindowTime = 4, 5, 1

	backend.Tape().StartRecording()
	dists, indices, err := backend.Search(volume, nil, queries, nil, p)
	require.NoError(t, err)
	patches := must.M1(backend.Extract(volume, indices, p.Params))
	accum, _, err := backend.Insert(patches, dists, indices, volume.Shape(), p.Params)
	require.NoError(t, err)
	require.Equal(t, 3, backend.Tape().NumOps())

	grads, err := autodiff.Backward(accum, backend)
	require.NoError(t, err)

	gradPatches, gradDists := must.M2(inner.InsertBackward(tensor.Full(accum.Shape(), 1), nil, patches, dists, indices, p.Params))
	viaExtract := must.M1(inner.ExtractBackward(gradPatches, indices, volume.Shape(), p.Params))
	viaSearch, _ := must.M2(inner.SearchBackward(volume, nil, queries, indices, gradDists, p))
	want, got := viaExtract.AsFloat32(), grads[volume].AsFloat32()
	for i := range want {
		assert.InDelta(t, want[i]+viaSearch.AsFloat32()[i], got[i], 1e-4, "voxel %d", i)
	}
}

// TestBackwardFrom_KeepsSeeds tests that a seed on a tensor that also receives
// gradient from the tape is left untouched.
func TestBackwardFrom_KeepsSeeds(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	inner := cpu.New()
	backend := autodiff.New(inner)
	volume := tensor.Rand(tensor.Shape{1, 1, 5, 5}, rng)
	indices := testIndices(rng, 3, 2, 1, 5, 5)
	p := testParams()

	backend.Tape().StartRecording()
	patches := must.M1(backend.Extract(volume, indices, p))

	seedPatches := tensor.Rand(patches.Shape(), rng)
	seedVolume := tensor.Rand(volume.Shape(), rng)
	before := append([]float32(nil), seedVolume.AsFloat32()...)
	seeds := map[*tensor.RawTensor]*tensor.RawTensor{patches: seedPatches, volume: seedVolume}

	// The plain CPU backend adds in place into unshared tensors.
	grads, err := backend.Tape().BackwardFrom(seeds, inner)
	require.NoError(t, err)

	assert.Equal(t, before, seedVolume.AsFloat32(), "seed tensor must not be overwritten")
	assert.Len(t, seeds, 2, "seeds map must not be extended")
	assert.Same(t, seedVolume, seeds[volume])

	viaExtract := must.M1(inner.ExtractBackward(seedPatches, indices, volume.Shape(), p))
	for i, g := range grads[volume].AsFloat32() {
		assert.InDelta(t, before[i]+viaExtract.AsFloat32()[i], g, 1e-6, "voxel %d", i)
	}
}
