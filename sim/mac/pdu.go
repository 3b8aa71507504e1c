package mac

import (
	"github.com/sirupsen/logrus"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/sched"
)

// pduBuilder assembles one MAC PDU, charging headers the way the schedulers size grants:
// the MAC header once per PDU and the RLC header once per connection.
type pduBuilder struct {
	headers sim.HeaderSizes
	pdu     *sim.MacPdu
	conns   map[sim.MacCID]bool
}

func newPduBuilder(headers sim.HeaderSizes, src, dst sim.MacNodeID, dir sim.Direction, now int64) *pduBuilder {
	return &pduBuilder{
		headers: headers,
		pdu:     &sim.MacPdu{Src: src, Dst: dst, Dir: dir, Created: now, Size: headers.Mac},
		conns:   make(map[sim.MacCID]bool),
	}
}

func (b *pduBuilder) add(sdu sim.Sdu, mode sim.RlcMode) {
	if !b.conns[sdu.Cid] {
		b.conns[sdu.Cid] = true
		b.pdu.Size += b.headers.Rlc(mode)
	}
	b.pdu.Sdus = append(b.pdu.Sdus, sdu)
	b.pdu.Size += sdu.Size
}

func (b *pduBuilder) empty() bool { return len(b.pdu.Sdus) == 0 }

// nextSdu pops the head SDU of a connection. In on-demand buffering an empty real queue
// is refilled from the upper layer first.
func nextSdu(c *connection, mode sim.BufferingMode, upper UpperLayer) (sim.Sdu, bool) {
	if c.rq.Len() == 0 && mode == sim.BufferingOnDemand && upper != nil {
		if sdu, ok := upper.RequestSdu(c.spec.Cid, sched.Unlimited); ok {
			c.rq.PushFront(sdu)
		}
	}
	return c.rq.PopFront()
}

// takeSegment pops bytes from the head SDU of a connection. The head is split when it is
// longer and the remainder goes back to the front of the real queue.
func takeSegment(c *connection, bytes int, mode sim.BufferingMode, upper UpperLayer) (sim.Sdu, bool) {
	sdu, ok := nextSdu(c, mode, upper)
	if !ok {
		return sim.Sdu{}, false
	}
	if sdu.Size <= bytes {
		return sdu, true
	}
	rest := sdu
	rest.Size -= bytes
	c.rq.PushFront(rest)
	sdu.Size = bytes
	sdu.Segment = true
	logrus.Tracef("mac: %v segmented, %d bytes sent, %d left", sdu.Cid, bytes, rest.Size)
	return sdu, true
}

// deliverSdus passes the SDUs of a correct PDU up and records delivery statistics.
// Segments count towards bytes only; the last piece of an SDU completes it.
func deliverSdus(pdu *sim.MacPdu, node sim.MacNodeID, upper UpperLayer, m *sim.Metrics, now int64) {
	for _, sdu := range pdu.Sdus {
		m.DeliveredBytes[pdu.Dir] += int64(sdu.Size)
		if !sdu.Segment {
			m.DeliveredSdus[pdu.Dir]++
			m.SduDelays[pdu.Dir] = append(m.SduDelays[pdu.Dir], float64(now-sdu.Created))
		}
		if upper != nil {
			upper.Deliver(node, sdu, now)
		}
	}
}
