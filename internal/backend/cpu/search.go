package cpu

import (
	"cmp"
	"math"
	"slices"

	"github.com/emirpasic/gods/v2/trees/binaryheap"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/dnls/internal/inds"
	"github.com/born-ml/dnls/internal/parallel"
	"github.com/born-ml/dnls/internal/patch"
	"github.com/born-ml/dnls/internal/tensor"
)

// Search finds, for every query, the matching patches of target inside its search window.
//
// Shapes:
//   - query, target: [T, C, H, W] float32; a nil target searches query against itself
//   - queries: [Q, 3] int32 (t, h, w), usually from inds.Queries
//   - flow: optional, re-centers the window frame by frame
//
// With p.UseK the result is the K smallest distances ([Q, K]) and their coordinates
// ([Q, K, 3]), ordered by distance and then by linear index t*H*W+h*W+w of the match.
// Otherwise every candidate slot is returned ([Q, N], N = frame slots x rows x cols),
// in slot order. Slots without a valid candidate hold +Inf and the sentinel (-1, -1, -1).
//
// The distance is the sum of squared differences between the query patch and the
// candidate patch over the footprint and the compared channels. Out-of-range elements
// are reflected, or the term is dropped when p.Reflect is false.
func (cpu *CPUBackend) Search(query, target, queries *tensor.RawTensor, flow *patch.Flow, p patch.SearchParams) (dists, indices *tensor.RawTensor, err error) {
	plan, err := newSearchPlan(query, target, flow, p)
	if err != nil {
		return nil, nil, err
	}
	if err := inds.ValidateQueries(queries, plan.dims.frames, plan.dims.height, plan.dims.width); err != nil {
		return nil, nil, errors.WithMessage(err, "search")
	}

	numQueries := queries.Shape()[0]
	width := plan.numCandidates()
	if p.UseK {
		width = p.K
	}
	klog.V(2).Infof("search: %d queries, %d candidates each, keeping %d", numQueries, plan.numCandidates(), width)

	dists = tensor.Zeros(tensor.Shape{numQueries, width}, tensor.Float32)
	indices = tensor.Zeros(tensor.Shape{numQueries, width, 3}, tensor.Int32)
	distData, indData := dists.AsFloat32(), indices.AsInt32()
	for i := range distData {
		distData[i] = float32(math.Inf(1))
		inds.Set(indData, i, inds.Sentinel)
	}

	queryData := queries.AsInt32()
	parallel.For(numQueries, func(q int) {
		rowDists := distData[q*width : (q+1)*width]
		rowInds := indData[3*q*width : 3*(q+1)*width]
		qc := inds.At(queryData, q)
		if p.UseK {
			plan.selectTopK(qc, rowDists, rowInds)
		} else {
			plan.scan(qc, func(slot int, c inds.Coord, d float32) {
				rowDists[slot] = d
				inds.Set(rowInds, slot, c)
			})
		}
	}, cpu.cfg)

	return dists, indices, nil
}

// searchPlan holds everything a search (or its adjoint) needs per call.
type searchPlan struct {
	p        patch.SearchParams
	dims     volumeDims
	bounds   patch.Bounds
	fp       patch.Footprint
	channels int // Compared channels.
	qv, tv   []float32
	flow     *patch.Flow

	frameSlots, rows, cols int
}

func newSearchPlan(query, target *tensor.RawTensor, flow *patch.Flow, p patch.SearchParams) (*searchPlan, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.WithMessage(err, "search")
	}
	dims, err := checkVolume("search query", query)
	if err != nil {
		return nil, err
	}
	if target == nil {
		target = query
	}
	if tdims, err := checkVolume("search target", target); err != nil {
		return nil, err
	} else if tdims != dims {
		return nil, errors.Wrapf(patch.ErrShapeMismatch, "search: target %v differs from query %v", tdims.shape(), dims.shape())
	}
	if err := flow.Validate(dims.frames, dims.height, dims.width); err != nil {
		return nil, errors.WithMessage(err, "search")
	}

	s := &searchPlan{
		p:        p,
		dims:     dims,
		bounds:   dims.bounds(p.Reflect),
		fp:       p.Footprint(),
		channels: p.CompareChannels(dims.channels),
		qv:       query.AsFloat32(),
		tv:       target.AsFloat32(),
		flow:     flow,
	}
	if p.UseSearchAbs {
		s.frameSlots = dims.frames
		s.rows = (dims.height-1)/p.Stride + 1
		s.cols = (dims.width-1)/p.Stride + 1
	} else {
		s.frameSlots = 2*p.WindowTime + 1
		s.rows, s.cols = p.WindowSize, p.WindowSize
	}
	return s, nil
}

// numCandidates is the number of candidate slots per query.
func (s *searchPlan) numCandidates() int {
	return s.frameSlots * s.rows * s.cols
}

// frameRange returns the first and last searched frame for a query in frame tq.
func (s *searchPlan) frameRange(tq int) (lo, hi int) {
	if s.p.UseSearchAbs {
		return 0, s.dims.frames - 1
	}
	return max(0, tq-s.p.WindowTime), min(s.dims.frames-1, tq+s.p.WindowTime)
}

func (s *searchPlan) frameSlot(tq, t int) int {
	if s.p.UseSearchAbs {
		return t
	}
	return t - tq + s.p.WindowTime
}

// centers returns the window centre for every frame in [lo, hi], following the
// flow one frame at a time away from the query frame.
func (s *searchPlan) centers(q inds.Coord, lo, hi int) [][2]int {
	out := make([][2]int, hi-lo+1)
	out[q.T-lo] = [2]int{q.H, q.W}
	if s.flow == nil || s.p.UseSearchAbs {
		for i := range out {
			out[i] = [2]int{q.H, q.W}
		}
		return out
	}

	follow := func(field *tensor.RawTensor, from, to, step int) {
		fh, fw := float64(q.H), float64(q.W)
		for t := from + step; step*(to-t) >= 0; t += step {
			if field != nil {
				h, w := s.clampRound(fh, fw)
				data := field.AsFloat32()
				plane := s.dims.planeSize()
				off := (t-step)*2*plane + h*s.dims.width + w
				fh += float64(data[off])
				fw += float64(data[off+plane])
			}
			h, w := s.clampRound(fh, fw)
			out[t-lo] = [2]int{h, w}
		}
	}
	follow(s.flow.Forward, q.T, hi, 1)
	follow(s.flow.Backward, q.T, lo, -1)
	return out
}

func (s *searchPlan) clampRound(fh, fw float64) (h, w int) {
	h = min(max(int(math.Round(fh)), 0), s.dims.height-1)
	w = min(max(int(math.Round(fw)), 0), s.dims.width-1)
	return h, w
}

// queryOffsets resolves the query footprint once; -1 marks an excluded element.
func (s *searchPlan) queryOffsets(q inds.Coord) []int {
	offs := make([]int, s.fp.Len())
	for i, e := range s.fp.Elements {
		t, h, w, ok := s.bounds.Resolve(q.T+e.DT, q.H+e.DH, q.W+e.DW)
		if !ok {
			offs[i] = -1
			continue
		}
		offs[i] = s.dims.base(t, h, w)
	}
	return offs
}

// distance computes the patch distance between a resolved query footprint and candidate c.
func (s *searchPlan) distance(qOffs []int, c inds.Coord) float32 {
	plane := s.dims.planeSize()
	var d float32
	for i, e := range s.fp.Elements {
		qOff := qOffs[i]
		if qOff < 0 {
			continue
		}
		t, h, w, ok := s.bounds.Resolve(c.T+e.DT, c.H+e.DH, c.W+e.DW)
		if !ok {
			continue
		}
		tOff := s.dims.base(t, h, w)
		for ch := 0; ch < s.channels; ch++ {
			diff := s.qv[qOff+ch*plane] - s.tv[tOff+ch*plane]
			d += diff * diff
		}
	}
	return d
}

// scan visits every valid candidate of query q in slot order.
func (s *searchPlan) scan(q inds.Coord, visit func(slot int, c inds.Coord, d float32)) {
	qOffs := s.queryOffsets(q)
	lo, hi := s.frameRange(q.T)
	centers := s.centers(q, lo, hi)
	half := s.p.WindowSize / 2
	for t := lo; t <= hi; t++ {
		slotBase := s.frameSlot(q.T, t) * s.rows * s.cols
		centre := centers[t-lo]
		for i := 0; i < s.rows; i++ {
			for j := 0; j < s.cols; j++ {
				var c inds.Coord
				if s.p.UseSearchAbs {
					c = inds.Coord{T: t, H: i * s.p.Stride, W: j * s.p.Stride}
				} else {
					c = inds.Coord{T: t, H: centre[0] + (i-half)*s.p.Stride, W: centre[1] + (j-half)*s.p.Stride}
					if !s.bounds.Contains(c.T, c.H, c.W) {
						continue
					}
				}
				visit(slotBase+i*s.cols+j, c, s.distance(qOffs, c))
			}
		}
	}
}

// candidate is a scored match; order is its linear voxel index, the tie-breaker.
type candidate struct {
	dist  float32
	order int
	coord inds.Coord
}

// better reports whether a ranks ahead of b.
func better(a, b candidate) bool {
	return a.dist < b.dist || (a.dist == b.dist && a.order < b.order)
}

// worstFirst keeps the worst kept candidate at the root of the heap.
func worstFirst(a, b candidate) int {
	if c := cmp.Compare(b.dist, a.dist); c != 0 {
		return c
	}
	return cmp.Compare(b.order, a.order)
}

// selectTopK keeps the K best candidates of q and writes them in ascending order.
func (s *searchPlan) selectTopK(q inds.Coord, rowDists []float32, rowInds []int32) {
	k := s.p.K
	kept := binaryheap.NewWith(worstFirst)
	s.scan(q, func(_ int, c inds.Coord, d float32) {
		cand := candidate{dist: d, order: (c.T*s.dims.height+c.H)*s.dims.width + c.W, coord: c}
		if kept.Size() < k {
			kept.Push(cand)
			return
		}
		if worst, _ := kept.Peek(); better(cand, worst) {
			kept.Pop()
			kept.Push(cand)
		}
	})

	best := kept.Values()
	slices.SortFunc(best, func(a, b candidate) int { return -worstFirst(a, b) })
	for i, cand := range best {
		rowDists[i] = cand.dist
		inds.Set(rowInds, i, cand.coord)
	}
}
