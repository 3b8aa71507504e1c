// Package harq implements the hybrid-ARQ buffers: per-peer transmit and receive
// processes, and the D2D mirror a base station keeps for links it cannot observe.
package harq

import (
	"fmt"

	"github.com/lte-sim/lte-sim/sim"
)

// UnitID addresses one codeword of one HARQ process.
type UnitID struct {
	Acid int
	Cw   sim.Codeword
}

func (u UnitID) String() string {
	return fmt.Sprintf("%d/%d", u.Acid, u.Cw)
}

// UnitInfo is a unit awaiting retransmission together with the size of its PDU.
type UnitInfo struct {
	UnitID
	PduLength int
}

func checkAcid(component string, acid, processes int) {
	if acid < 0 || acid >= processes {
		sim.Invariantf(component, "HARQ process %d outside [0, %d)", acid, processes)
	}
}

func checkCw(component string, cw sim.Codeword) {
	if cw < 0 || int(cw) >= sim.MaxCodewords {
		sim.Invariantf(component, "codeword %d outside [0, %d)", cw, sim.MaxCodewords)
	}
}
