// Package sched implements the grant disciplines of the base station and the
// logical-channel-group scheduler of the terminal.
package sched

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/lte-sim/lte-sim/sim"
)

// Unlimited is the byte budget passed when a discipline does not cap a grant.
const Unlimited = math.MaxInt32

// GrantOutcome is the result of one grant request.
type GrantOutcome struct {
	Units     int  // SDUs for downlink connections, bytes for uplink and D2D
	Bytes     int  // bytes reserved, headers included
	Terminate bool // no resources remain for anybody
	Active    bool // the connection still has backlog
	Eligible  bool // the connection's usable bands still have capacity
}

// Pass is the capability surface a discipline sees during one scheduling pass.
// Disciplines never touch the allocator or the queues directly.
type Pass struct {
	TTI        int64
	Direction  sim.Direction
	Candidates []sim.MacCID
	Rand       *rand.Rand

	// Granted accumulates bytes granted per connection during this pass.
	Granted map[sim.MacCID]int

	backlog    func(sim.MacCID) int
	rate       func(sim.MacCID) float64
	grant      func(sim.MacCID, int) GrantOutcome
	contiguous func(sim.MacCID, int) GrantOutcome
}

// Backlog returns the queued bytes of a connection.
func (p *Pass) Backlog(cid sim.MacCID) int { return p.backlog(cid) }

// Rate returns the bytes one resource block would carry for a connection, summed over codewords.
func (p *Pass) Rate(cid sim.MacCID) float64 { return p.rate(cid) }

// RequestGrant books resources for up to budget bytes of a connection's backlog.
func (p *Pass) RequestGrant(cid sim.MacCID, budget int) GrantOutcome {
	out := p.grant(cid, budget)
	p.Granted[cid] += out.Bytes
	return out
}

// RequestContiguous books a run of adjacent bands for a connection by best fit.
func (p *Pass) RequestContiguous(cid sim.MacCID, budget int) GrantOutcome {
	out := p.contiguous(cid, budget)
	p.Granted[cid] += out.Bytes
	return out
}

// GrantStrategy is a scheduling discipline.
type GrantStrategy interface {
	Name() string
	// PrepareSchedule decides who is served, calling RequestGrant or RequestContiguous.
	PrepareSchedule(p *Pass)
	// CommitSchedule updates per-connection state after the pass.
	CommitSchedule(p *Pass)
}

// IsValidDiscipline returns true if name is a recognized discipline.
func IsValidDiscipline(name string) bool {
	return sim.ValidDisciplines[name]
}

// NewStrategy creates a discipline by name.
// Panics on unrecognized names; Scenario.Validate rejects them first.
func NewStrategy(name string, cfg sim.SchedulerConfig) GrantStrategy {
	if !IsValidDiscipline(name) {
		panic(fmt.Sprintf("unknown discipline %q", name))
	}
	switch name {
	case "maxci":
		return &MaxCI{}
	case "pf":
		return NewProportionalFair(cfg.PFAlpha)
	case "drr":
		return NewDeficitRoundRobin(cfg.DRRQuantum)
	case "bestfit":
		return &BestFit{}
	default:
		panic(fmt.Sprintf("unhandled discipline %q", name))
	}
}

// rankDescending orders connections by score, highest first. Connections with equal
// scores end up in a random order drawn from rng.
func rankDescending(cids []sim.MacCID, rng *rand.Rand, score func(sim.MacCID) float64) []sim.MacCID {
	type scored struct {
		cid   sim.MacCID
		score float64
	}
	order := make([]scored, len(cids))
	for i, cid := range cids {
		order[i] = scored{cid, score(cid)}
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })
	out := make([]sim.MacCID, len(order))
	for i, s := range order {
		out[i] = s.cid
	}
	return out
}
