package cell

import (
	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/harq"
	"github.com/lte-sim/lte-sim/sim/mac"
	"github.com/lte-sim/lte-sim/sim/trace"
)

// TraceObserver records MAC decisions into a SimulationTrace.
type TraceObserver struct {
	mac.NoopObserver
	trace *trace.SimulationTrace
}

// NewTraceObserver returns an observer appending to st, or nil when tracing is off.
func NewTraceObserver(st *trace.SimulationTrace) *TraceObserver {
	if st == nil || st.Config.Level == trace.TraceLevelNone || st.Config.Level == "" {
		return nil
	}
	return &TraceObserver{trace: st}
}

func (o *TraceObserver) GrantIssued(tti int64, g *sim.Grant) {
	o.trace.RecordGrant(trace.GrantRecord{
		Clock:          tti,
		Ue:             g.Ue.String(),
		Direction:      g.Dir.String(),
		Acid:           g.Acid,
		Retransmission: g.Retransmission,
		Codewords:      g.Codewords,
		Bytes:          g.TotalBytes(),
		Blocks:         g.Blocks,
	})
}

func (o *TraceObserver) HarqOutcome(tti int64, owner, peer sim.MacNodeID, dir sim.Direction, unit harq.UnitID, outcome harq.FeedbackOutcome) {
	o.trace.RecordHarq(trace.HarqRecord{
		Clock:     tti,
		Owner:     owner.String(),
		Peer:      peer.String(),
		Direction: dir.String(),
		Acid:      unit.Acid,
		Codeword:  int(unit.Cw),
		Outcome:   outcome.String(),
	})
}

func (o *TraceObserver) RacStep(tti int64, ue sim.MacNodeID, ev mac.RacEvent) {
	o.trace.RecordRac(trace.RacRecord{Clock: tti, Ue: ue.String(), Event: ev.String()})
}
