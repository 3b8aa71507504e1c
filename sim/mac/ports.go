// Package mac implements the per-TTI MAC orchestrators of the base station (Enb) and the
// terminal (Ue): HARQ draining, grant scheduling, buffer status reporting, random access
// and PDU construction.
//
// Nodes never call each other. Everything crossing a node boundary is a sim.Message handed
// to a Transport, which delivers it one TTI later.
package mac

import (
	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/harq"
)

// Transport is the lower layer. It delivers messages one TTI after Send.
type Transport interface {
	Send(msg sim.Message)
}

// UpperLayer is the RLC-side collaborator of a node.
type UpperLayer interface {
	// RequestSdu hands over the next SDU of cid if it is at most maxBytes long.
	// Only used in on-demand buffering.
	RequestSdu(cid sim.MacCID, maxBytes int) (sim.Sdu, bool)
	// Deliver passes a received SDU up at node.
	Deliver(node sim.MacNodeID, sdu sim.Sdu, now int64)
}

// RacEvent is a step of the random-access procedure.
type RacEvent int

const (
	RacRequested RacEvent = iota // terminal sent a request
	RacAdmitted                  // base station accepted a request
	RacRejected                  // base station refused a request
	RacFailed                    // terminal saw a failure or a response timeout
	RacAbandoned                 // terminal gave up after its last tryout
)

var racEventNames = [...]string{"requested", "admitted", "rejected", "failed", "abandoned"}

func (e RacEvent) String() string {
	if int(e) < len(racEventNames) {
		return racEventNames[e]
	}
	return "unknown"
}

// Observer receives decision notifications. Implementations must not mutate the arguments.
type Observer interface {
	GrantIssued(tti int64, g *sim.Grant)
	HarqOutcome(tti int64, owner, peer sim.MacNodeID, dir sim.Direction, unit harq.UnitID, outcome harq.FeedbackOutcome)
	RacStep(tti int64, ue sim.MacNodeID, ev RacEvent)
	Scheduled(tti int64, dir sim.Direction, usedBlocks, totalBlocks int)
}

// NoopObserver ignores every notification.
type NoopObserver struct{}

func (NoopObserver) GrantIssued(int64, *sim.Grant) {}
func (NoopObserver) HarqOutcome(int64, sim.MacNodeID, sim.MacNodeID, sim.Direction, harq.UnitID, harq.FeedbackOutcome) {
}
func (NoopObserver) RacStep(int64, sim.MacNodeID, RacEvent)   {}
func (NoopObserver) Scheduled(int64, sim.Direction, int, int) {}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (o Observers) GrantIssued(tti int64, g *sim.Grant) {
	for _, x := range o {
		x.GrantIssued(tti, g)
	}
}

func (o Observers) HarqOutcome(tti int64, owner, peer sim.MacNodeID, dir sim.Direction, unit harq.UnitID, outcome harq.FeedbackOutcome) {
	for _, x := range o {
		x.HarqOutcome(tti, owner, peer, dir, unit, outcome)
	}
}

func (o Observers) RacStep(tti int64, ue sim.MacNodeID, ev RacEvent) {
	for _, x := range o {
		x.RacStep(tti, ue, ev)
	}
}

func (o Observers) Scheduled(tti int64, dir sim.Direction, usedBlocks, totalBlocks int) {
	for _, x := range o {
		x.Scheduled(tti, dir, usedBlocks, totalBlocks)
	}
}
