package cell

import (
	"github.com/lte-sim/lte-sim/sim"
)

// rlcStub stands in for the RLC layer of every node. In on-demand buffering it holds
// the SDUs the MAC has been told about; it also counts what reaches each connection.
type rlcStub struct {
	pending   map[sim.MacCID][]sim.Sdu
	delivered map[sim.MacCID]int64
}

func newRlcStub() *rlcStub {
	return &rlcStub{
		pending:   make(map[sim.MacCID][]sim.Sdu),
		delivered: make(map[sim.MacCID]int64),
	}
}

func (r *rlcStub) hold(sdu sim.Sdu) {
	r.pending[sdu.Cid] = append(r.pending[sdu.Cid], sdu)
}

// RequestSdu implements mac.UpperLayer.
func (r *rlcStub) RequestSdu(cid sim.MacCID, maxBytes int) (sim.Sdu, bool) {
	q := r.pending[cid]
	if len(q) == 0 || q[0].Size > maxBytes {
		return sim.Sdu{}, false
	}
	r.pending[cid] = q[1:]
	return q[0], true
}

// Deliver implements mac.UpperLayer.
func (r *rlcStub) Deliver(_ sim.MacNodeID, sdu sim.Sdu, _ int64) {
	r.delivered[sdu.Cid] += int64(sdu.Size)
}
