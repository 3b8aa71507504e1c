package amc

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/lte-sim/lte-sim/sim"
)

// bytesPerRb is the payload of one resource block at each CQI: spectral efficiency
// of the CQI times 120 data resource elements, in bytes.
var bytesPerRb = [sim.MaxCqi + 1]int{0, 2, 3, 5, 9, 13, 17, 22, 28, 36, 40, 49, 58, 67, 76, 83}

// BytesPerRb returns the table capacity of one block at cqi. Out-of-range values yield 0.
func BytesPerRb(cqi int) int {
	if cqi < sim.MinCqi || cqi > sim.MaxCqi {
		return 0
	}
	return bytesPerRb[cqi]
}

// Unreachable is returned by RequiredRbs when the link cannot carry any byte.
const Unreachable = math.MaxInt32

// Profile is the configured link state of a terminal in one direction.
type Profile struct {
	Cqi     []int
	Rank    int
	Pmi     int
	TxMode  sim.TxMode
	Bands   []sim.Band // nil for all bands
	Remotes []sim.Remote
}

type linkKey struct {
	id  sim.MacNodeID
	dir sim.Direction
}

// TableAMC is a table-driven LinkAdaptation. Capacity is uniform across bands.
type TableAMC struct {
	numBands int
	profiles map[linkKey]*Profile
	peers    map[linkKey]sim.MacNodeID
}

// NewTableAMC creates link adaptation for a carrier of numBands bands.
func NewTableAMC(numBands int) *TableAMC {
	return &TableAMC{
		numBands: numBands,
		profiles: make(map[linkKey]*Profile),
		peers:    make(map[linkKey]sim.MacNodeID),
	}
}

// SetProfile installs the link profile of a terminal direction.
func (a *TableAMC) SetProfile(id sim.MacNodeID, dir sim.Direction, p Profile) error {
	if len(p.Cqi) == 0 || len(p.Cqi) > sim.MaxCodewords {
		return fmt.Errorf("%v %s: need 1 or %d cqi values, got %d", id, dir, sim.MaxCodewords, len(p.Cqi))
	}
	for _, c := range p.Cqi {
		if c < sim.MinCqi || c > sim.MaxCqi {
			return fmt.Errorf("%v %s: cqi %d outside [%d, %d]", id, dir, c, sim.MinCqi, sim.MaxCqi)
		}
	}
	if p.Rank == 0 {
		p.Rank = 1
	}
	if p.Rank < 1 || p.Rank > sim.MaxRank {
		return fmt.Errorf("%v %s: rank %d outside [1, %d]", id, dir, p.Rank, sim.MaxRank)
	}
	for _, b := range p.Bands {
		if b < 0 || int(b) >= a.numBands {
			return fmt.Errorf("%v %s: band %d outside [0, %d)", id, dir, b, a.numBands)
		}
	}
	if len(p.Remotes) == 0 {
		p.Remotes = []sim.Remote{sim.MacroRemote}
	}
	p.Cqi = append([]int(nil), p.Cqi...)
	a.profiles[linkKey{id, dir}] = &p
	return nil
}

// SetMuMimoPeer declares two terminals as MU-MIMO partners in a direction.
func (a *TableAMC) SetMuMimoPeer(x, y sim.MacNodeID, dir sim.Direction) {
	a.peers[linkKey{x, dir}] = y
	a.peers[linkKey{y, dir}] = x
}

func (a *TableAMC) profile(id sim.MacNodeID, dir sim.Direction) *Profile {
	if p, ok := a.profiles[linkKey{id, dir}]; ok {
		return p
	}
	return nil
}

// ComputeTxParams returns the current parameters. A terminal without a profile gets
// CQI 0 on every band, which makes it unschedulable.
func (a *TableAMC) ComputeTxParams(id sim.MacNodeID, dir sim.Direction) UserTxParams {
	p := a.profile(id, dir)
	if p == nil {
		return UserTxParams{Cqi: []int{0}, Rank: 1, Bands: a.allBands(), Remotes: []sim.Remote{sim.MacroRemote}}
	}
	codewords := 1
	if p.Rank >= 2 && p.TxMode.SpatialMultiplexing() {
		codewords = sim.MaxCodewords
	}
	cqi := make([]int, codewords)
	for cw := range cqi {
		cqi[cw] = p.Cqi[min(cw, len(p.Cqi)-1)]
	}
	bands := p.Bands
	if len(bands) == 0 {
		bands = a.allBands()
	}
	return UserTxParams{
		Cqi:     cqi,
		Rank:    p.Rank,
		Pmi:     p.Pmi,
		Bands:   append([]sim.Band(nil), bands...),
		Remotes: append([]sim.Remote(nil), p.Remotes...),
		TxMode:  p.TxMode,
	}
}

func (a *TableAMC) allBands() []sim.Band {
	bands := make([]sim.Band, a.numBands)
	for i := range bands {
		bands[i] = sim.Band(i)
	}
	return bands
}

func (a *TableAMC) blockCapacity(id sim.MacNodeID, cw sim.Codeword, dir sim.Direction) int {
	p := a.profile(id, dir)
	if p == nil {
		return 0
	}
	return BytesPerRb(p.Cqi[min(int(cw), len(p.Cqi)-1)])
}

// BytesOnRbs returns the bytes blocks resource blocks carry on a band.
func (a *TableAMC) BytesOnRbs(id sim.MacNodeID, band sim.Band, cw sim.Codeword, blocks int, dir sim.Direction) int {
	if blocks <= 0 {
		return 0
	}
	return blocks * a.blockCapacity(id, cw, dir)
}

// RequiredRbs returns the fewest blocks carrying bytes, or Unreachable on a dead link.
func (a *TableAMC) RequiredRbs(id sim.MacNodeID, band sim.Band, cw sim.Codeword, bytes int, dir sim.Direction) int {
	if bytes <= 0 {
		return 0
	}
	bpr := a.blockCapacity(id, cw, dir)
	if bpr == 0 {
		return Unreachable
	}
	return (bytes + bpr - 1) / bpr
}

// PushFeedback replaces the stored link quality. Samples outside the valid range are ignored.
func (a *TableAMC) PushFeedback(id sim.MacNodeID, dir sim.Direction, fb FeedbackSample) {
	p := a.profile(id, dir)
	if p == nil {
		logrus.Debugf("amc: feedback for unknown link %v %s ignored", id, dir)
		return
	}
	if len(fb.Cqi) == 0 || len(fb.Cqi) > sim.MaxCodewords {
		logrus.Warnf("amc: feedback for %v %s carries %d cqi values, ignored", id, dir, len(fb.Cqi))
		return
	}
	for _, c := range fb.Cqi {
		if c < sim.MinCqi || c > sim.MaxCqi {
			logrus.Warnf("amc: feedback cqi %d for %v %s out of range, ignored", c, id, dir)
			return
		}
	}
	p.Cqi = append(p.Cqi[:0], fb.Cqi...)
	if fb.Rank >= 1 && fb.Rank <= sim.MaxRank {
		p.Rank = fb.Rank
	}
	p.Pmi = fb.Pmi
}

// MuMimoPeer returns the partner of id, or id itself when it has none.
func (a *TableAMC) MuMimoPeer(id sim.MacNodeID, dir sim.Direction) sim.MacNodeID {
	if peer, ok := a.peers[linkKey{id, dir}]; ok {
		return peer
	}
	return id
}
