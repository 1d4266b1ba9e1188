package patch

// Reflect mirrors i back into [0, n) without repeating the edge sample,
// the same convention as reflect padding: -1 -> 1, n -> n-2.
// Offsets further than one period away are folded repeatedly.
func Reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// Bounds resolves footprint coordinates against a (T, H, W) volume.
//
// It is the single boundary policy for search distances, extraction, insertion,
// the weighted sum and all of their adjoints: an identical coordinate always maps
// to the identical voxel (or to nothing) in every operator.
type Bounds struct {
	Frames, Height, Width int
	Reflect               bool
}

// NewBounds creates the boundary resolver for a volume.
func NewBounds(frames, height, width int, reflect bool) Bounds {
	return Bounds{Frames: frames, Height: height, Width: width, Reflect: reflect}
}

// Contains reports whether (t, h, w) lies inside the volume.
func (b Bounds) Contains(t, h, w int) bool {
	return t >= 0 && t < b.Frames && h >= 0 && h < b.Height && w >= 0 && w < b.Width
}

// Resolve maps (t, h, w) to the voxel it reads from or writes to.
// With Reflect disabled, out-of-range coordinates return ok=false.
func (b Bounds) Resolve(t, h, w int) (rt, rh, rw int, ok bool) {
	if b.Contains(t, h, w) {
		return t, h, w, true
	}
	if !b.Reflect {
		return -1, -1, -1, false
	}
	return Reflect(t, b.Frames), Reflect(h, b.Height), Reflect(w, b.Width), true
}

// Offset returns the flat (T, C, H, W) offset of voxel (t, c, h, w).
func (b Bounds) Offset(channels, t, c, h, w int) int {
	return ((t*channels+c)*b.Height+h)*b.Width + w
}
