package patch

// Element is one voxel of a patch footprint, relative to the patch coordinate.
type Element struct {
	PK, PI, PJ int // Position inside the patch (frame, row, column).
	DT, DH, DW int // Displacement from the patch coordinate.
}

// Footprint is the ordered set of voxels a patch covers.
//
// Elements are ordered by (pk, pi, pj), which is also the order the serialized
// kernels accumulate in.
type Footprint struct {
	PatchSize  int
	PatchDepth int
	Elements   []Element
}

// NewFootprint builds the footprint of a patch:
//
//	dt = pk
//	dh = (pi - ps/2)*dilation + adjustH
//	dw = (pj - ps/2)*dilation + adjustW
func NewFootprint(ps, pt, dilation, adjustH, adjustW int) Footprint {
	half := ps / 2
	elems := make([]Element, 0, pt*ps*ps)
	for pk := 0; pk < pt; pk++ {
		for pi := 0; pi < ps; pi++ {
			for pj := 0; pj < ps; pj++ {
				elems = append(elems, Element{
					PK: pk, PI: pi, PJ: pj,
					DT: pk,
					DH: (pi-half)*dilation + adjustH,
					DW: (pj-half)*dilation + adjustW,
				})
			}
		}
	}
	return Footprint{PatchSize: ps, PatchDepth: pt, Elements: elems}
}

// Len returns the number of voxels per channel.
func (f Footprint) Len() int {
	return len(f.Elements)
}

// PatchLen returns the number of values in one patch with the given channel count.
func (f Footprint) PatchLen(channels int) int {
	return f.PatchDepth * channels * f.PatchSize * f.PatchSize
}

// Index returns the offset of (element, channel) inside one (pt, C, ps, ps) patch.
func (f Footprint) Index(e Element, c, channels int) int {
	return ((e.PK*channels+c)*f.PatchSize+e.PI)*f.PatchSize + e.PJ
}
