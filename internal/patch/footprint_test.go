package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFootprint_Centered(t *testing.T) {
	fp := NewFootprint(3, 2, 1, 0, 0)
	require.Equal(t, 18, fp.Len())
	assert.Equal(t, 2*4*3*3, fp.PatchLen(4))

	first, center, last := fp.Elements[0], fp.Elements[4], fp.Elements[17]
	assert.Equal(t, Element{PK: 0, PI: 0, PJ: 0, DT: 0, DH: -1, DW: -1}, first)
	assert.Equal(t, Element{PK: 0, PI: 1, PJ: 1, DT: 0, DH: 0, DW: 0}, center)
	assert.Equal(t, Element{PK: 1, PI: 2, PJ: 2, DT: 1, DH: 1, DW: 1}, last)
}

func TestNewFootprint_DilationAndAdjust(t *testing.T) {
	fp := NewFootprint(3, 1, 2, 1, 0)
	offsets := make([][2]int, 0, fp.Len())
	for _, e := range fp.Elements {
		offsets = append(offsets, [2]int{e.DH, e.DW})
	}
	assert.Equal(t, [][2]int{
		{-1, -2}, {-1, 0}, {-1, 2},
		{1, -2}, {1, 0}, {1, 2},
		{3, -2}, {3, 0}, {3, 2},
	}, offsets)
}

func TestFootprint_IndexIsDense(t *testing.T) {
	channels := 3
	fp := NewFootprint(4, 2, 1, 0, 0)
	seen := make([]bool, fp.PatchLen(channels))
	for _, e := range fp.Elements {
		for c := 0; c < channels; c++ {
			i := fp.Index(e, c, channels)
			require.False(t, seen[i], "index %d produced twice", i)
			seen[i] = true
		}
	}
	for i, s := range seen {
		assert.True(t, s, "index %d never produced", i)
	}
}

func TestAnchorTopLeft(t *testing.T) {
	p := DefaultParams()
	p.PatchSize, p.Dilation = 5, 2
	fp := p.AnchorTopLeft().Footprint()
	assert.Equal(t, 0, fp.Elements[0].DH)
	assert.Equal(t, 0, fp.Elements[0].DW)
	assert.Equal(t, 8, fp.Elements[fp.Len()-1].DH)
}
