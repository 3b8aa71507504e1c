package harq

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lte-sim/lte-sim/sim"
)

// TxStatus is the state of a transmit unit.
type TxStatus int

const (
	TxEmpty    TxStatus = iota
	TxSelected          // chosen for (re)transmission this TTI
	TxWaiting           // sent, feedback pending
	TxBuffered          // negatively acknowledged, waiting for a retransmission opportunity
)

func (s TxStatus) String() string {
	switch s {
	case TxEmpty:
		return "EMPTY"
	case TxSelected:
		return "SELECTED"
	case TxWaiting:
		return "WAITING"
	case TxBuffered:
		return "BUFFERED"
	}
	return fmt.Sprintf("TxStatus(%d)", int(s))
}

// FeedbackOutcome tells the caller what a piece of feedback did to a unit.
type FeedbackOutcome int

const (
	FeedbackIgnored  FeedbackOutcome = iota // stale: the unit was not waiting
	FeedbackAcked                           // delivered, unit freed
	FeedbackBuffered                        // NACK, retransmission pending
	FeedbackDropped                         // NACK after the last allowed transmission, unit freed
)

func (o FeedbackOutcome) String() string {
	switch o {
	case FeedbackIgnored:
		return "ignored"
	case FeedbackAcked:
		return "acked"
	case FeedbackBuffered:
		return "buffered"
	case FeedbackDropped:
		return "dropped"
	}
	return fmt.Sprintf("FeedbackOutcome(%d)", int(o))
}

type txUnit struct {
	pdu     *sim.MacPdu
	status  TxStatus
	txCount int
	lastTx  int64
}

// TxBuffer holds the transmit HARQ processes of one node towards one peer.
type TxBuffer struct {
	owner, peer sim.MacNodeID
	dir         sim.Direction
	maxRetx     int
	processes   [][sim.MaxCodewords]txUnit
}

// NewTxBuffer creates processes empty transmit processes.
func NewTxBuffer(owner, peer sim.MacNodeID, dir sim.Direction, processes, maxRetx int) *TxBuffer {
	if processes <= 0 {
		panic(fmt.Sprintf("harq.NewTxBuffer: processes must be positive, got %d", processes))
	}
	return &TxBuffer{
		owner:     owner,
		peer:      peer,
		dir:       dir,
		maxRetx:   maxRetx,
		processes: make([][sim.MaxCodewords]txUnit, processes),
	}
}

// Peer returns the node this buffer transmits to.
func (b *TxBuffer) Peer() sim.MacNodeID { return b.peer }

// Processes returns the number of HARQ processes.
func (b *TxBuffer) Processes() int { return len(b.processes) }

func (b *TxBuffer) unit(acid int, cw sim.Codeword) *txUnit {
	checkAcid("harq.TxBuffer", acid, len(b.processes))
	checkCw("harq.TxBuffer", cw)
	return &b.processes[acid][cw]
}

// Status returns the state of a unit.
func (b *TxBuffer) Status(acid int, cw sim.Codeword) TxStatus {
	return b.unit(acid, cw).status
}

// PduLength returns the size of the PDU held by a unit, 0 when empty.
func (b *TxBuffer) PduLength(acid int, cw sim.Codeword) int {
	if u := b.unit(acid, cw); u.pdu != nil {
		return u.pdu.Size
	}
	return 0
}

// TxCount returns how many times the unit's PDU has been sent.
func (b *TxBuffer) TxCount(acid int, cw sim.Codeword) int {
	return b.unit(acid, cw).txCount
}

// ProcessEmpty reports whether every unit of a process is empty.
func (b *TxBuffer) ProcessEmpty(acid int) bool {
	checkAcid("harq.TxBuffer", acid, len(b.processes))
	for cw := range b.processes[acid] {
		if b.processes[acid][cw].status != TxEmpty {
			return false
		}
	}
	return true
}

// FirstAvailable returns the lowest process whose units are all empty.
func (b *TxBuffer) FirstAvailable() (acid int, ok bool) {
	for acid := range b.processes {
		if b.ProcessEmpty(acid) {
			return acid, true
		}
	}
	return 0, false
}

// EmptyUnits returns the empty codewords of a process.
func (b *TxBuffer) EmptyUnits(acid int) []sim.Codeword {
	checkAcid("harq.TxBuffer", acid, len(b.processes))
	var out []sim.Codeword
	for cw := range b.processes[acid] {
		if b.processes[acid][cw].status == TxEmpty {
			out = append(out, sim.Codeword(cw))
		}
	}
	return out
}

// InsertPdu places a new PDU in an empty unit and selects it for transmission.
func (b *TxBuffer) InsertPdu(acid int, cw sim.Codeword, pdu *sim.MacPdu) {
	u := b.unit(acid, cw)
	if u.status != TxEmpty {
		sim.Invariantf("harq.TxBuffer", "%v→%v: insert into unit %d/%d in state %s", b.owner, b.peer, acid, cw, u.status)
	}
	pdu.Acid = acid
	pdu.Cw = cw
	*u = txUnit{pdu: pdu, status: TxSelected}
}

// MarkSelected selects buffered units for retransmission. Units not in BUFFERED state are
// skipped and reported false.
func (b *TxBuffer) MarkSelected(units ...UnitID) bool {
	all := true
	for _, id := range units {
		u := b.unit(id.Acid, id.Cw)
		if u.status != TxBuffered {
			logrus.Debugf("harq: %v→%v unit %s is %s, not selectable", b.owner, b.peer, id, u.status)
			all = false
			continue
		}
		u.status = TxSelected
	}
	return all
}

// ReadyUnits lists the buffered units in process order.
func (b *TxBuffer) ReadyUnits() []UnitInfo {
	var out []UnitInfo
	for acid := range b.processes {
		for cw := range b.processes[acid] {
			u := &b.processes[acid][cw]
			if u.status == TxBuffered {
				out = append(out, UnitInfo{UnitID: UnitID{acid, sim.Codeword(cw)}, PduLength: u.pdu.Size})
			}
		}
	}
	return out
}

// SendSelectedDown transmits every selected unit through send and moves it to WAITING.
// It returns the number of units sent and how many of them were retransmissions.
func (b *TxBuffer) SendSelectedDown(now int64, send func(*sim.MacPdu)) (sent, retx int) {
	for acid := range b.processes {
		for cw := range b.processes[acid] {
			u := &b.processes[acid][cw]
			if u.status != TxSelected {
				continue
			}
			u.txCount++
			u.lastTx = now
			u.status = TxWaiting
			u.pdu.TxNumber = u.txCount
			send(u.pdu.Copy())
			sent++
			if u.txCount > 1 {
				retx++
			}
		}
	}
	return sent, retx
}

// ReceiveFeedback applies an ACK or NACK to a waiting unit.
func (b *TxBuffer) ReceiveFeedback(acid int, cw sim.Codeword, ack bool) FeedbackOutcome {
	u := b.unit(acid, cw)
	if u.status != TxWaiting {
		logrus.Debugf("harq: %v→%v stale feedback for unit %d/%d in state %s", b.owner, b.peer, acid, cw, u.status)
		return FeedbackIgnored
	}
	if ack {
		*u = txUnit{}
		return FeedbackAcked
	}
	if u.txCount > b.maxRetx {
		logrus.Debugf("harq: %v→%v unit %d/%d dropped after %d transmissions", b.owner, b.peer, acid, cw, u.txCount)
		*u = txUnit{}
		return FeedbackDropped
	}
	u.status = TxBuffered
	return FeedbackBuffered
}

// ForceDropUnit discards a unit regardless of its state. It returns whether a PDU was held.
func (b *TxBuffer) ForceDropUnit(acid int, cw sim.Codeword) bool {
	u := b.unit(acid, cw)
	held := u.status != TxEmpty
	*u = txUnit{}
	return held
}

// ForceDropProcess discards every unit of a process.
func (b *TxBuffer) ForceDropProcess(acid int) int {
	n := 0
	for cw := 0; cw < sim.MaxCodewords; cw++ {
		if b.ForceDropUnit(acid, sim.Codeword(cw)) {
			n++
		}
	}
	return n
}

// ForceDropAll discards every unit of every process.
func (b *TxBuffer) ForceDropAll() int {
	n := 0
	for acid := range b.processes {
		n += b.ForceDropProcess(acid)
	}
	return n
}
