package patch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/tensor"
)

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.NoError(t, DefaultSearchParams().Validate())

	bad := []func(p *SearchParams){
		func(p *SearchParams) { p.PatchSize = 0 },
		func(p *SearchParams) { p.PatchDepth = 0 },
		func(p *SearchParams) { p.Dilation = -1 },
		func(p *SearchParams) { p.Stride = 0 },
		func(p *SearchParams) { p.Channels = -1 },
		func(p *SearchParams) { p.WindowSize = 0 },
		func(p *SearchParams) { p.WindowTime = -1 },
		func(p *SearchParams) { p.K = 0 },
	}
	for i, mutate := range bad {
		p := DefaultSearchParams()
		mutate(&p)
		err := p.Validate()
		assert.True(t, errors.Is(err, ErrInvalidParams), "case %d: %v", i, err)
	}

	// The window is ignored by an absolute search, K by an exhaustive one.
	p := DefaultSearchParams()
	p.UseSearchAbs, p.WindowSize = true, 0
	p.UseK, p.K = false, 0
	assert.NoError(t, p.Validate())
}

func TestParams_Strategy(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, parallel.Serialized, p.Strategy())
	p.Exact = false
	assert.Equal(t, parallel.Atomic, p.Strategy())
}

func TestSearchParams_CompareChannels(t *testing.T) {
	p := DefaultSearchParams()
	assert.Equal(t, 3, p.CompareChannels(3))
	p.Channels = 1
	assert.Equal(t, 1, p.CompareChannels(3))
	p.Channels = 8
	assert.Equal(t, 3, p.CompareChannels(3))
}

func TestParams_PatchShape(t *testing.T) {
	p := DefaultParams()
	p.PatchDepth = 2
	assert.Equal(t, tensor.Shape{10, 4, 2, 3, 7, 7}, p.PatchShape(10, 4, 3))
}

func TestFlow_Validate(t *testing.T) {
	var none *Flow
	require.NoError(t, none.Validate(3, 8, 8))

	good := &Flow{Forward: tensor.Zeros(tensor.Shape{3, 2, 8, 8}, tensor.Float32)}
	require.NoError(t, good.Validate(3, 8, 8))

	bad := &Flow{Backward: tensor.Zeros(tensor.Shape{3, 1, 8, 8}, tensor.Float32)}
	err := bad.Validate(3, 8, 8)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	assert.Contains(t, err.Error(), "backward")
}
