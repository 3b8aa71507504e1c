package harq

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lte-sim/lte-sim/sim"
)

// RxStatus is the state of a receive unit.
type RxStatus int

const (
	RxEmpty      RxStatus = iota
	RxEvaluating          // received, decoding outcome not yet known
	RxCorrect             // decoded, waiting to be extracted
	RxCorrupted           // decoding failed, retransmission expected
)

func (s RxStatus) String() string {
	switch s {
	case RxEmpty:
		return "EMPTY"
	case RxEvaluating:
		return "EVALUATING"
	case RxCorrect:
		return "CORRECT"
	case RxCorrupted:
		return "CORRUPTED"
	}
	return fmt.Sprintf("RxStatus(%d)", int(s))
}

type rxUnit struct {
	pdu       *sim.MacPdu
	status    RxStatus
	rxTime    int64
	pduLength int
}

// RxBuffer holds the receive HARQ processes of one node for one transmitting peer.
type RxBuffer struct {
	owner, peer  sim.MacNodeID
	dir          sim.Direction
	evalInterval int64
	processes    [][sim.MaxCodewords]rxUnit
}

// NewRxBuffer creates processes empty receive processes. Feedback for a PDU is produced
// evalInterval TTIs after it arrives.
func NewRxBuffer(owner, peer sim.MacNodeID, dir sim.Direction, processes int, evalInterval int64) *RxBuffer {
	if processes <= 0 {
		panic(fmt.Sprintf("harq.NewRxBuffer: processes must be positive, got %d", processes))
	}
	return &RxBuffer{
		owner:        owner,
		peer:         peer,
		dir:          dir,
		evalInterval: evalInterval,
		processes:    make([][sim.MaxCodewords]rxUnit, processes),
	}
}

// Peer returns the transmitting node.
func (b *RxBuffer) Peer() sim.MacNodeID { return b.peer }

func (b *RxBuffer) unit(acid int, cw sim.Codeword) *rxUnit {
	checkAcid("harq.RxBuffer", acid, len(b.processes))
	checkCw("harq.RxBuffer", cw)
	return &b.processes[acid][cw]
}

// Status returns the state of a unit.
func (b *RxBuffer) Status(acid int, cw sim.Codeword) RxStatus {
	return b.unit(acid, cw).status
}

// Enque stores an arriving PDU in the unit named by its process and codeword.
// A PDU arriving on a unit still evaluating or holding a correct PDU replaces it.
func (b *RxBuffer) Enque(pdu *sim.MacPdu, now int64) {
	u := b.unit(pdu.Acid, pdu.Cw)
	if u.status == RxEvaluating || u.status == RxCorrect {
		logrus.Warnf("harq: %v←%v unit %d/%d overwritten while %s", b.owner, b.peer, pdu.Acid, pdu.Cw, u.status)
	}
	*u = rxUnit{pdu: pdu, status: RxEvaluating, rxTime: now, pduLength: pdu.Size}
}

// Evaluate decides every unit whose evaluation window has elapsed and returns the
// feedback to send back to the transmitter, in process order.
func (b *RxBuffer) Evaluate(now int64) []*sim.HarqFeedback {
	var out []*sim.HarqFeedback
	for acid := range b.processes {
		for cw := range b.processes[acid] {
			u := &b.processes[acid][cw]
			if u.status != RxEvaluating || now-u.rxTime < b.evalInterval {
				continue
			}
			ack := !u.pdu.Corrupted
			if ack {
				u.status = RxCorrect
			} else {
				u.status = RxCorrupted
				u.pdu = nil
			}
			out = append(out, &sim.HarqFeedback{
				Src:       b.owner,
				Dst:       b.peer,
				Dir:       b.dir,
				Acid:      acid,
				Cw:        sim.Codeword(cw),
				Ack:       ack,
				PduLength: u.pduLength,
			})
		}
	}
	return out
}

// ExtractCorrectPdus removes and returns every correctly decoded PDU.
func (b *RxBuffer) ExtractCorrectPdus() []*sim.MacPdu {
	var out []*sim.MacPdu
	for acid := range b.processes {
		for cw := range b.processes[acid] {
			u := &b.processes[acid][cw]
			if u.status == RxCorrect {
				out = append(out, u.pdu)
				*u = rxUnit{}
			}
		}
	}
	return out
}

// CorruptedUnits lists units waiting for a retransmission.
func (b *RxBuffer) CorruptedUnits() []UnitInfo {
	var out []UnitInfo
	for acid := range b.processes {
		for cw := range b.processes[acid] {
			u := &b.processes[acid][cw]
			if u.status == RxCorrupted {
				out = append(out, UnitInfo{UnitID: UnitID{acid, sim.Codeword(cw)}, PduLength: u.pduLength})
			}
		}
	}
	return out
}

// PurgeCorruptedPdus clears corrupted units whose evaluation window has elapsed and
// returns how many were cleared.
func (b *RxBuffer) PurgeCorruptedPdus(now int64) int {
	n := 0
	for acid := range b.processes {
		for cw := range b.processes[acid] {
			u := &b.processes[acid][cw]
			if u.status == RxCorrupted && now-u.rxTime >= b.evalInterval {
				*u = rxUnit{}
				n++
			}
		}
	}
	return n
}

// Snapshot captures the state of every unit.
func (b *RxBuffer) Snapshot() []UnitSnapshot {
	out := make([]UnitSnapshot, 0, len(b.processes)*sim.MaxCodewords)
	for acid := range b.processes {
		for cw := range b.processes[acid] {
			u := &b.processes[acid][cw]
			out = append(out, UnitSnapshot{
				UnitID:    UnitID{acid, sim.Codeword(cw)},
				Status:    u.status,
				PduLength: u.pduLength,
			})
		}
	}
	return out
}
