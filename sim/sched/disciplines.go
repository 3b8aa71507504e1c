package sched

import (
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
)

// MaxCI serves connections in decreasing order of channel quality.
type MaxCI struct{}

func (m *MaxCI) Name() string { return "maxci" }

func (m *MaxCI) PrepareSchedule(p *Pass) {
	for _, cid := range rankDescending(p.Candidates, p.Rand, p.Rate) {
		if out := p.RequestGrant(cid, Unlimited); out.Terminate {
			return
		}
	}
}

func (m *MaxCI) CommitSchedule(p *Pass) {}

// ProportionalFair ranks connections by instantaneous rate over their average served bytes.
type ProportionalFair struct {
	alpha float64
	avg   map[sim.MacCID]float64
}

// NewProportionalFair creates a PF discipline whose throughput average uses smoothing alpha.
func NewProportionalFair(alpha float64) *ProportionalFair {
	return &ProportionalFair{alpha: alpha, avg: make(map[sim.MacCID]float64)}
}

func (pf *ProportionalFair) Name() string { return "pf" }

// Average returns the smoothed bytes per TTI served to a connection.
func (pf *ProportionalFair) Average(cid sim.MacCID) float64 {
	return pf.avg[cid]
}

func (pf *ProportionalFair) PrepareSchedule(p *Pass) {
	score := func(cid sim.MacCID) float64 {
		return p.Rate(cid) / max(pf.avg[cid], 1)
	}
	for _, cid := range rankDescending(p.Candidates, p.Rand, score) {
		if out := p.RequestGrant(cid, Unlimited); out.Terminate {
			return
		}
	}
}

func (pf *ProportionalFair) CommitSchedule(p *Pass) {
	for _, cid := range p.Candidates {
		pf.avg[cid] = (1-pf.alpha)*pf.avg[cid] + pf.alpha*float64(p.Granted[cid])
	}
}

// DeficitRoundRobin visits connections in cid order, resuming after the last one served,
// and lets each spend a deficit that grows by quantum bytes per visit.
type DeficitRoundRobin struct {
	quantum int
	deficit map[sim.MacCID]int
	last    sim.MacCID
	started bool
}

// NewDeficitRoundRobin creates a round-robin discipline with the given quantum in bytes.
func NewDeficitRoundRobin(quantum int) *DeficitRoundRobin {
	return &DeficitRoundRobin{quantum: quantum, deficit: make(map[sim.MacCID]int)}
}

func (d *DeficitRoundRobin) Name() string { return "drr" }

// Deficit returns the unspent credit of a connection.
func (d *DeficitRoundRobin) Deficit(cid sim.MacCID) int {
	return d.deficit[cid]
}

func (d *DeficitRoundRobin) PrepareSchedule(p *Pass) {
	order := slices.Clone(p.Candidates)
	slices.Sort(order)
	start := 0
	if d.started {
		start, _ = slices.BinarySearch(order, d.last+1)
	}
	for i := range order {
		cid := order[(start+i)%len(order)]
		d.deficit[cid] += d.quantum
		out := p.RequestGrant(cid, d.deficit[cid])
		d.deficit[cid] -= out.Bytes
		if !out.Active {
			d.deficit[cid] = 0
		}
		if out.Bytes > 0 {
			d.last, d.started = cid, true
		}
		if out.Terminate {
			return
		}
	}
}

func (d *DeficitRoundRobin) CommitSchedule(p *Pass) {
	for cid := range d.deficit {
		if !slices.Contains(p.Candidates, cid) {
			delete(d.deficit, cid)
		}
	}
}

// BestFit places each connection on the smallest run of adjacent eligible bands that
// fits its backlog, sharing D2D bands between non-conflicting transmitters.
type BestFit struct{}

func (b *BestFit) Name() string { return "bestfit" }

func (b *BestFit) PrepareSchedule(p *Pass) {
	for _, cid := range rankDescending(p.Candidates, p.Rand, p.Rate) {
		if out := p.RequestContiguous(cid, Unlimited); out.Terminate {
			return
		}
	}
}

func (b *BestFit) CommitSchedule(p *Pass) {}
