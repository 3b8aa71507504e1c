package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lte-sim/lte-sim/sim"
)

func TestReuseAllocator_BestFit_PicksSmallestSufficientHole(t *testing.T) {
	// GIVEN 10 bands: 2-4 cellular, 6 held by a conflicting D2D transmitter
	conflicts := NewConflictGraph()
	conflicts.AddConflict(1025, 1030)
	r := NewReuseAllocator(10, conflicts, false)
	r.Mark(1040, Cellular, []sim.Band{2, 3, 4})
	r.Mark(1030, Direct, []sim.Band{6})

	// WHEN a D2D transmitter needs 2 bands
	bands := r.Allocate(1025, Direct, 2, 0, nil)

	// THEN it takes {0,1}, the smallest hole that fits
	assert.Equal(t, []sim.Band{0, 1}, bands)
	assert.Equal(t, Direct, r.Occupant(0))
}

func TestReuseAllocator_Holes_ScanOrderPerUserType(t *testing.T) {
	r := NewReuseAllocator(6, NewConflictGraph(), false)
	r.Mark(1040, Cellular, []sim.Band{2})

	d2d := r.Holes(1025, Direct, 0, nil)
	assert.Equal(t, []Hole{{Start: 0, Length: 2}, {Start: 3, Length: 3}}, d2d)

	cell := r.Holes(1041, Cellular, 0, nil)
	assert.Equal(t, []Hole{{Start: 5, Length: 3}, {Start: 1, Length: 2}}, cell)

	fromThree := r.Holes(1025, Direct, 3, nil)
	assert.Equal(t, []Hole{{Start: 3, Length: 3}}, fromThree)
}

func TestReuseAllocator_BestFit_FallsBackToLargest(t *testing.T) {
	r := NewReuseAllocator(6, NewConflictGraph(), false)
	r.Mark(1040, Cellular, []sim.Band{2})

	// holes of 2 and 3 bands, 5 wanted
	bands := r.Allocate(1025, Direct, 5, 0, nil)
	assert.Equal(t, []sim.Band{3, 4, 5}, bands)
}

func TestReuseAllocator_Fit_WeighsBandCapacity(t *testing.T) {
	// GIVEN holes {0,1} and {3,4,5} where band 0 carries 5 and every other band 1
	r := NewReuseAllocator(6, NewConflictGraph(), false)
	r.Mark(1040, Cellular, []sim.Band{2})
	capacity := func(b sim.Band) int {
		if b == 0 {
			return 5
		}
		return 1
	}

	// WHEN 4 are wanted THEN the short hole carries them on band 0 alone
	bands, total := r.Fit(1025, Direct, 4, 0, nil, capacity)
	assert.Equal(t, []sim.Band{0}, bands)
	assert.Equal(t, 5, total)

	// WHEN 7 are wanted THEN no hole carries them and the richest hole is returned whole
	bands, total = r.Fit(1025, Direct, 7, 0, nil, capacity)
	assert.Equal(t, []sim.Band{0, 1}, bands)
	assert.Equal(t, 6, total)

	// AND nothing was marked
	assert.Equal(t, 5, r.FreeBands())
}

func TestReuseAllocator_Cellular_TakesTopOfHole(t *testing.T) {
	r := NewReuseAllocator(6, NewConflictGraph(), false)
	bands := r.Allocate(1040, Cellular, 2, 0, nil)
	assert.Equal(t, []sim.Band{4, 5}, bands)
	assert.Equal(t, 4, r.FreeBands())
}

func TestReuseAllocator_Eligible_Policy(t *testing.T) {
	conflicts := NewConflictGraph()
	conflicts.AddConflict(1025, 1026)

	tests := []struct {
		name      string
		dedicated bool
		holder    Occupant
		holderID  sim.MacNodeID
		asker     sim.MacNodeID
		askerType Occupant
		want      bool
	}{
		{"cellular band never reused by D2D", false, Cellular, 1040, 1027, Direct, false},
		{"cellular band never reused by cellular", false, Cellular, 1040, 1041, Cellular, false},
		{"D2D band shared by non-conflicting D2D", false, Direct, 1025, 1027, Direct, true},
		{"D2D band refused to conflicting D2D", false, Direct, 1025, 1026, Direct, false},
		{"D2D band underlaid by cellular", false, Direct, 1025, 1040, Cellular, true},
		{"dedicated D2D band refuses cellular", true, Direct, 1025, 1040, Cellular, false},
		{"holder cannot take its band twice", false, Direct, 1025, 1025, Direct, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReuseAllocator(1, conflicts, tt.dedicated)
			r.Mark(tt.holderID, tt.holder, []sim.Band{0})
			assert.Equal(t, tt.want, r.Eligible(0, tt.asker, tt.askerType))
		})
	}
}

func TestReuseAllocator_NoEligibleBand_AllocatesNothing(t *testing.T) {
	r := NewReuseAllocator(2, NewConflictGraph(), false)
	r.Mark(1040, Cellular, []sim.Band{0, 1})
	assert.Nil(t, r.Allocate(1025, Direct, 1, 0, nil))
}

func TestReuseAllocator_Mark_CellularUnderlayClosesBand(t *testing.T) {
	r := NewReuseAllocator(1, NewConflictGraph(), false)
	r.Mark(1025, Direct, []sim.Band{0})
	r.Mark(1040, Cellular, []sim.Band{0})
	assert.Equal(t, Cellular, r.Occupant(0))
	assert.Equal(t, []sim.MacNodeID{1025, 1040}, r.NodesOn(0))
	assert.False(t, r.Eligible(0, 1027, Direct))
}

func TestConflictGraph_NeighborsAndDistance(t *testing.T) {
	g := NewConflictGraph()
	g.ConflictsByDistance(map[sim.MacNodeID]sim.Position{
		1025: {X: 0, Y: 0},
		1026: {X: 30, Y: 0},
		1027: {X: 200, Y: 0},
	}, 50)
	g.AddConflict(1027, 1027)

	assert.True(t, g.Conflicts(1025, 1026))
	assert.True(t, g.Conflicts(1026, 1025), "conflicts are symmetric")
	assert.False(t, g.Conflicts(1025, 1027))
	assert.Equal(t, []sim.MacNodeID{1026}, g.Neighbors(1025))
	assert.Empty(t, g.Neighbors(1099))
}

func TestReuseAllocator_UsableBands_Restrict(t *testing.T) {
	r := NewReuseAllocator(6, NewConflictGraph(), false)
	bands := r.Allocate(1025, Direct, 2, 0, []sim.Band{3, 4, 5})
	assert.Equal(t, []sim.Band{3, 4}, bands)
}

func TestReuseAllocator_Exclusive_NoSharing(t *testing.T) {
	r := NewReuseAllocator(2, NewConflictGraph(), false)
	r.SetExclusive(true)
	r.Mark(1025, Direct, []sim.Band{0})
	assert.False(t, r.Eligible(0, 1027, Direct))
	assert.False(t, r.Eligible(0, 1040, Cellular))
	assert.False(t, r.Exhausted())
	r.Mark(1026, Direct, []sim.Band{1})
	assert.True(t, r.Exhausted())
}

func TestReuseAllocator_Exhausted_SharedD2DBandsRemainUsable(t *testing.T) {
	r := NewReuseAllocator(2, NewConflictGraph(), false)
	r.Mark(1025, Direct, []sim.Band{0})
	r.Mark(1040, Cellular, []sim.Band{1})
	assert.False(t, r.Exhausted())
	r.Mark(1041, Cellular, []sim.Band{0})
	assert.True(t, r.Exhausted())
}
