package harq

import (
	"github.com/lte-sim/lte-sim/sim"
)

// UnitSnapshot is the receive state of one unit as reported to the serving cell.
type UnitSnapshot struct {
	UnitID
	Status    RxStatus
	PduLength int
}

// MirrorSnapshot is sent by a D2D receiver to its serving cell each TTI, before its
// corrupted units are purged, so the cell can schedule D2D retransmissions.
type MirrorSnapshot struct {
	Receiver, Sender sim.MacNodeID
	Enb              sim.MacNodeID
	Units            []UnitSnapshot
}

func (m *MirrorSnapshot) Source() sim.MacNodeID      { return m.Receiver }
func (m *MirrorSnapshot) Destination() sim.MacNodeID { return m.Enb }
func (m *MirrorSnapshot) Kind() sim.MessageKind      { return sim.KindMirrorSnapshot }

// MirrorStatus is the cell's view of a D2D unit.
type MirrorStatus int

const (
	MirrorEmpty    MirrorStatus = iota
	MirrorWaiting               // in flight or being decoded
	MirrorBuffered              // corrupted, needs a retransmission grant
)

type mirrorUnit struct {
	status    MirrorStatus
	pduLength int
}

// MirrorBuffer is the serving cell's copy of a D2D link's receive state.
// Retransmission exhaustion is enforced by the transmitting terminal, not here.
type MirrorBuffer struct {
	sender, receiver sim.MacNodeID
	processes        [][sim.MaxCodewords]mirrorUnit
}

// NewMirrorBuffer creates an empty mirror of a sender→receiver D2D link.
func NewMirrorBuffer(sender, receiver sim.MacNodeID, processes int) *MirrorBuffer {
	return &MirrorBuffer{
		sender:    sender,
		receiver:  receiver,
		processes: make([][sim.MaxCodewords]mirrorUnit, processes),
	}
}

// Sender returns the D2D transmitter.
func (m *MirrorBuffer) Sender() sim.MacNodeID { return m.sender }

// Receiver returns the D2D receiver.
func (m *MirrorBuffer) Receiver() sim.MacNodeID { return m.receiver }

func (m *MirrorBuffer) unit(acid int, cw sim.Codeword) *mirrorUnit {
	checkAcid("harq.MirrorBuffer", acid, len(m.processes))
	checkCw("harq.MirrorBuffer", cw)
	return &m.processes[acid][cw]
}

// Status returns the mirrored state of a unit.
func (m *MirrorBuffer) Status(acid int, cw sim.Codeword) MirrorStatus {
	return m.unit(acid, cw).status
}

// ApplySnapshot rebuilds the mirror from the receiver's report.
func (m *MirrorBuffer) ApplySnapshot(units []UnitSnapshot) {
	for _, s := range units {
		u := m.unit(s.Acid, s.Cw)
		switch s.Status {
		case RxEvaluating:
			*u = mirrorUnit{status: MirrorWaiting, pduLength: s.PduLength}
		case RxCorrupted:
			if u.status == MirrorWaiting && u.pduLength == s.PduLength {
				// retransmission already granted, still in flight
				continue
			}
			*u = mirrorUnit{status: MirrorBuffered, pduLength: s.PduLength}
		default:
			*u = mirrorUnit{}
		}
	}
}

// ReceiveFeedback applies mirrored D2D feedback.
func (m *MirrorBuffer) ReceiveFeedback(acid int, cw sim.Codeword, ack bool, pduLength int) {
	u := m.unit(acid, cw)
	if ack {
		*u = mirrorUnit{}
		return
	}
	*u = mirrorUnit{status: MirrorBuffered, pduLength: pduLength}
}

// ReadyUnits lists units needing a retransmission grant.
func (m *MirrorBuffer) ReadyUnits() []UnitInfo {
	var out []UnitInfo
	for acid := range m.processes {
		for cw := range m.processes[acid] {
			u := &m.processes[acid][cw]
			if u.status == MirrorBuffered {
				out = append(out, UnitInfo{UnitID: UnitID{acid, sim.Codeword(cw)}, PduLength: u.pduLength})
			}
		}
	}
	return out
}

// MarkSelected records that a retransmission grant was issued for a unit.
func (m *MirrorBuffer) MarkSelected(id UnitID) {
	u := m.unit(id.Acid, id.Cw)
	u.status = MirrorWaiting
}

// Clear forgets every unit.
func (m *MirrorBuffer) Clear() {
	for acid := range m.processes {
		m.processes[acid] = [sim.MaxCodewords]mirrorUnit{}
	}
}
