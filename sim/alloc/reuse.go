package alloc

import (
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
)

// Occupant is the kind of user holding a band under frequency reuse.
type Occupant int

const (
	Unused Occupant = iota
	Cellular
	Direct // D2D
)

// Hole is a run of consecutive eligible bands. Start is the first band in scan order.
type Hole struct {
	Start  sim.Band
	Length int
}

// ReuseAllocator keeps per-band occupancy for best-fit allocation with frequency reuse.
//
// A band held by a cellular user is never shared. A band held by D2D users may be
// shared by further D2D users that conflict with none of them, and underlaid by a
// cellular user unless the allocator is dedicated.
type ReuseAllocator struct {
	occupant  []Occupant
	nodes     [][]sim.MacNodeID
	conflicts *ConflictGraph
	dedicated bool
	exclusive bool // no band is ever shared
}

// NewReuseAllocator creates bookkeeping for numBands bands.
func NewReuseAllocator(numBands int, conflicts *ConflictGraph, dedicated bool) *ReuseAllocator {
	r := &ReuseAllocator{conflicts: conflicts, dedicated: dedicated}
	r.Reset(numBands)
	return r
}

// SetExclusive turns sharing off: every held band becomes ineligible.
func (r *ReuseAllocator) SetExclusive(exclusive bool) {
	r.exclusive = exclusive
}

// Reset marks every band unused.
func (r *ReuseAllocator) Reset(numBands int) {
	r.occupant = make([]Occupant, numBands)
	r.nodes = make([][]sim.MacNodeID, numBands)
}

// Occupant returns who holds a band.
func (r *ReuseAllocator) Occupant(band sim.Band) Occupant {
	return r.occupant[band]
}

// NodesOn returns the nodes holding a band.
func (r *ReuseAllocator) NodesOn(band sim.Band) []sim.MacNodeID {
	return r.nodes[band]
}

// FreeBands counts bands nobody holds.
func (r *ReuseAllocator) FreeBands() int {
	n := 0
	for _, o := range r.occupant {
		if o == Unused {
			n++
		}
	}
	return n
}

// Exhausted reports whether no further user of any kind could take a band.
func (r *ReuseAllocator) Exhausted() bool {
	for _, o := range r.occupant {
		if o == Unused || (o == Direct && !r.exclusive) {
			return false
		}
	}
	return true
}

// Eligible reports whether id, a user of kind typ, may take band.
func (r *ReuseAllocator) Eligible(band sim.Band, id sim.MacNodeID, typ Occupant) bool {
	switch r.occupant[band] {
	case Unused:
		return true
	case Cellular:
		return false
	default:
		if r.exclusive || slices.Contains(r.nodes[band], id) {
			return false
		}
		if typ == Cellular {
			return !r.dedicated
		}
		for _, other := range r.nodes[band] {
			if r.conflicts.Conflicts(id, other) {
				return false
			}
		}
		return true
	}
}

// Holes lists the runs of eligible bands in scan order. Cellular users scan from the
// highest band down, D2D users from start up. A non-nil usable restricts the bands considered.
func (r *ReuseAllocator) Holes(id sim.MacNodeID, typ Occupant, start sim.Band, usable []sim.Band) []Hole {
	var holes []Hole
	var cur *Hole
	visit := func(b sim.Band) {
		if (usable == nil || slices.Contains(usable, b)) && r.Eligible(b, id, typ) {
			if cur == nil {
				holes = append(holes, Hole{Start: b})
				cur = &holes[len(holes)-1]
			}
			cur.Length++
			return
		}
		cur = nil
	}
	if typ == Cellular {
		for b := len(r.occupant) - 1; b >= 0; b-- {
			visit(sim.Band(b))
		}
	} else {
		for b := int(start); b < len(r.occupant); b++ {
			visit(sim.Band(b))
		}
	}
	return holes
}

// BestFit picks the smallest hole of at least want bands, else the largest hole.
// Ties go to the hole found first in scan order.
func (r *ReuseAllocator) BestFit(id sim.MacNodeID, typ Occupant, want int, start sim.Band, usable []sim.Band) (Hole, bool) {
	holes := r.Holes(id, typ, start, usable)
	if len(holes) == 0 || want <= 0 {
		return Hole{}, false
	}
	best, largest := -1, 0
	for i, h := range holes {
		if h.Length >= want && (best < 0 || h.Length < holes[best].Length) {
			best = i
		}
		if h.Length > holes[largest].Length {
			largest = i
		}
	}
	if best < 0 {
		best = largest
	}
	return holes[best], true
}

// Allocate takes up to want bands for id from the best-fitting hole and returns them
// in ascending order. Nothing is taken when no band is eligible.
func (r *ReuseAllocator) Allocate(id sim.MacNodeID, typ Occupant, want int, start sim.Band, usable []sim.Band) []sim.Band {
	bands, _ := r.Fit(id, typ, want, start, usable, func(sim.Band) int { return 1 })
	if len(bands) == 0 {
		return nil
	}
	slices.Sort(bands)
	r.Mark(id, typ, bands)
	return bands
}

// Fit is best fit measured by what each band can carry: the leading bands, in scan
// order, of the shortest hole whose bands carry want, else every band of the hole that
// carries the most. Ties go to the hole found first. It returns the bands in scan order
// and their combined capacity. Nothing is marked.
func (r *ReuseAllocator) Fit(id sim.MacNodeID, typ Occupant, want int, start sim.Band, usable []sim.Band, capacity func(sim.Band) int) ([]sim.Band, int) {
	if want <= 0 {
		return nil, 0
	}
	var fit, most []sim.Band
	fitLen, fitTotal, mostTotal := -1, 0, 0
	for _, h := range r.Holes(id, typ, start, usable) {
		var bands []sim.Band
		total := 0
		for _, b := range h.Bands(typ) {
			if total >= want {
				break
			}
			bands = append(bands, b)
			total += capacity(b)
		}
		if total >= want && (fitLen < 0 || h.Length < fitLen) {
			fit, fitLen, fitTotal = bands, h.Length, total
		}
		if total > mostTotal {
			most, mostTotal = bands, total
		}
	}
	if fitLen >= 0 {
		return fit, fitTotal
	}
	return most, mostTotal
}

// Bands lists the bands of a hole in scan order for a user of kind typ.
func (h Hole) Bands(typ Occupant) []sim.Band {
	out := make([]sim.Band, h.Length)
	for i := range out {
		if typ == Cellular {
			out[i] = h.Start - sim.Band(i)
		} else {
			out[i] = h.Start + sim.Band(i)
		}
	}
	return out
}

// Mark records id as a holder of bands.
func (r *ReuseAllocator) Mark(id sim.MacNodeID, typ Occupant, bands []sim.Band) {
	for _, b := range bands {
		if r.occupant[b] == Unused || typ == Cellular {
			r.occupant[b] = typ
		}
		if !slices.Contains(r.nodes[b], id) {
			r.nodes[b] = append(r.nodes[b], id)
		}
	}
}

func sortIDs(ids []sim.MacNodeID) {
	slices.Sort(ids)
}
