// Package alloc tracks the per-TTI resource block grid: which blocks of which band,
// antenna remote and MIMO plane each node holds.
package alloc

import (
	"github.com/lte-sim/lte-sim/sim"
	"github.com/sirupsen/logrus"
)

// Slot addresses the blocks of one band on one remote.
type Slot struct {
	Remote sim.Remote
	Band   sim.Band
}

type nodeUsage struct {
	blocks map[Slot]int
	bytes  map[Slot]int
	total  int
}

// Allocator is the resource block grid of one direction for one TTI.
// It is reset at the start of every scheduling pass.
//
// MU-MIMO: the first user of a pairing allocates on the main plane; its partner
// allocates on the MU-MIMO plane, restricted to the blocks the first user holds.
type Allocator struct {
	numRemotes int
	bandBlocks []int
	free       [sim.NumPlanes][][]int // [plane][remote][band]
	usage      map[sim.MacNodeID]*nodeUsage
	primaryOf  map[sim.MacNodeID]sim.MacNodeID // secondary → primary
	paired     map[sim.MacNodeID]bool
	allocBytes int
}

// New creates an empty allocator serving numRemotes antenna remotes.
// InitAndReset must be called before use.
func New(numRemotes int) *Allocator {
	if numRemotes <= 0 {
		panic("alloc.New: numRemotes must be positive")
	}
	return &Allocator{numRemotes: numRemotes}
}

// InitAndReset clears all allocations and peerings and lays out totalBlocks over numBands bands.
func (a *Allocator) InitAndReset(totalBlocks, numBands int) {
	a.bandBlocks = sim.BlocksPerBand(totalBlocks, numBands)
	for plane := range a.free {
		grid := make([][]int, a.numRemotes)
		for r := range grid {
			grid[r] = append([]int(nil), a.bandBlocks...)
		}
		a.free[plane] = grid
	}
	a.usage = make(map[sim.MacNodeID]*nodeUsage)
	a.primaryOf = make(map[sim.MacNodeID]sim.MacNodeID)
	a.paired = make(map[sim.MacNodeID]bool)
	a.allocBytes = 0
}

// Bands returns the number of bands of the current layout.
func (a *Allocator) Bands() int {
	return len(a.bandBlocks)
}

// BandBlocks returns the capacity of a band in blocks.
func (a *Allocator) BandBlocks(band sim.Band) int {
	return a.bandBlocks[band]
}

// PlaneOf returns the plane a node allocates on this TTI.
func (a *Allocator) PlaneOf(id sim.MacNodeID) sim.Plane {
	if _, ok := a.primaryOf[id]; ok {
		return sim.MuMimoPlane
	}
	return sim.MainPlane
}

func (a *Allocator) validSlot(remote sim.Remote, band sim.Band) bool {
	return remote >= 0 && int(remote) < a.numRemotes && band >= 0 && int(band) < len(a.bandBlocks)
}

// AvailableBlocks returns the blocks id could still take on a band and remote.
func (a *Allocator) AvailableBlocks(id sim.MacNodeID, remote sim.Remote, band sim.Band) int {
	if !a.validSlot(remote, band) {
		return 0
	}
	plane := a.PlaneOf(id)
	avail := a.free[plane][remote][band]
	if plane == sim.MuMimoPlane {
		s := Slot{remote, band}
		limit := a.NodeBlocks(a.primaryOf[id], s) - a.NodeBlocks(id, s)
		avail = max(0, min(avail, limit))
	}
	return avail
}

// AddBlocks records blocks and bytes for id. It refuses, returning false, any request
// exceeding AvailableBlocks; callers treat that as an invariant violation.
func (a *Allocator) AddBlocks(remote sim.Remote, band sim.Band, id sim.MacNodeID, blocks, bytes int) bool {
	if blocks < 0 || bytes < 0 {
		return false
	}
	if blocks > a.AvailableBlocks(id, remote, band) {
		logrus.Debugf("alloc: %v asked %d blocks on remote %d band %d, %d available",
			id, blocks, remote, band, a.AvailableBlocks(id, remote, band))
		return false
	}
	plane := a.PlaneOf(id)
	a.free[plane][remote][band] -= blocks
	u := a.usage[id]
	if u == nil {
		u = &nodeUsage{blocks: make(map[Slot]int), bytes: make(map[Slot]int)}
		a.usage[id] = u
	}
	s := Slot{remote, band}
	u.blocks[s] += blocks
	u.bytes[s] += bytes
	u.total += blocks
	a.allocBytes += bytes
	return true
}

// ComputeTotalRbs returns the free blocks of the main plane across all remotes and bands.
func (a *Allocator) ComputeTotalRbs() int {
	n := 0
	for _, remote := range a.free[sim.MainPlane] {
		for _, b := range remote {
			n += b
		}
	}
	return n
}

// ConfigureMuMimoPeering makes secondary share the blocks of primary on the MU-MIMO plane.
// It reports false, changing nothing, when either node is already paired this TTI,
// including by this very pairing.
func (a *Allocator) ConfigureMuMimoPeering(primary, secondary sim.MacNodeID) bool {
	if primary == secondary {
		return false
	}
	if a.paired[primary] || a.paired[secondary] {
		// already paired
		return false
	}
	if a.usage[secondary] != nil {
		// secondary already holds main-plane blocks this TTI
		return false
	}
	a.primaryOf[secondary] = primary
	a.paired[primary] = true
	a.paired[secondary] = true
	return true
}

// NodeBlocks returns the blocks id holds in a slot.
func (a *Allocator) NodeBlocks(id sim.MacNodeID, s Slot) int {
	if u := a.usage[id]; u != nil {
		return u.blocks[s]
	}
	return 0
}

// AllocatedBlocks returns the total blocks id holds.
func (a *Allocator) AllocatedBlocks(id sim.MacNodeID) int {
	if u := a.usage[id]; u != nil {
		return u.total
	}
	return 0
}

// AllocatedBytes returns the bytes recorded for id.
func (a *Allocator) AllocatedBytes(id sim.MacNodeID) int {
	n := 0
	if u := a.usage[id]; u != nil {
		for _, b := range u.bytes {
			n += b
		}
	}
	return n
}

// TotalAllocatedBytes returns the bytes recorded for all nodes.
func (a *Allocator) TotalAllocatedBytes() int {
	return a.allocBytes
}

// RbOccupation returns a copy of the blocks id holds per remote and band.
func (a *Allocator) RbOccupation(id sim.MacNodeID) map[sim.Remote]map[sim.Band]int {
	out := make(map[sim.Remote]map[sim.Band]int)
	u := a.usage[id]
	if u == nil {
		return out
	}
	for s, n := range u.blocks {
		if n == 0 {
			continue
		}
		if out[s.Remote] == nil {
			out[s.Remote] = make(map[sim.Band]int)
		}
		out[s.Remote][s.Band] = n
	}
	return out
}
