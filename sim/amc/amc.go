// Package amc provides link adaptation: the mapping from link quality to bytes per
// resource block, per-terminal transmission parameters and MU-MIMO pairing.
package amc

import (
	"github.com/lte-sim/lte-sim/sim"
)

// UserTxParams are the transmission parameters of one terminal in one direction for the current TTI.
type UserTxParams struct {
	Cqi     []int // per codeword
	Rank    int
	Pmi     int
	Bands   []sim.Band
	Remotes []sim.Remote
	TxMode  sim.TxMode
}

// Codewords returns how many codewords the parameters carry.
func (p UserTxParams) Codewords() int {
	return len(p.Cqi)
}

// FeedbackSample is a link-quality report fed back into link adaptation.
type FeedbackSample struct {
	Cqi  []int
	Rank int
	Pmi  int
}

// LinkAdaptation is the contract schedulers use to size grants.
// Implementations must satisfy RequiredRbs(BytesOnRbs(k)) == k for any k where the
// per-block capacity is positive.
type LinkAdaptation interface {
	ComputeTxParams(id sim.MacNodeID, dir sim.Direction) UserTxParams
	BytesOnRbs(id sim.MacNodeID, band sim.Band, cw sim.Codeword, blocks int, dir sim.Direction) int
	RequiredRbs(id sim.MacNodeID, band sim.Band, cw sim.Codeword, bytes int, dir sim.Direction) int
	PushFeedback(id sim.MacNodeID, dir sim.Direction, fb FeedbackSample)
	MuMimoPeer(id sim.MacNodeID, dir sim.Direction) sim.MacNodeID
}
