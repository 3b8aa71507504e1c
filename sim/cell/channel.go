package cell

import (
	"fmt"

	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"

	"github.com/lte-sim/lte-sim/sim"
)

// Channel is the lower layer of every node in the cell. Messages arrive one TTI after
// they are sent; data PDUs are corrupted with the block error rate of their direction.
type Channel struct {
	cfg   sim.ChannelConfig
	clock func() int64
	post  func(Event)
	draws map[sim.MacNodeID]func() float64
	rng   *sim.PartitionedRNG

	sent, corrupted [sim.NumDirections]int
}

// NewChannel creates a channel. clock reads the current TTI and post schedules deliveries.
func NewChannel(cfg sim.ChannelConfig, rng *sim.PartitionedRNG, clock func() int64, post func(Event)) *Channel {
	return &Channel{
		cfg:   cfg,
		clock: clock,
		post:  post,
		draws: make(map[sim.MacNodeID]func() float64),
		rng:   rng,
	}
}

// Register creates the corruption draw source of a receiving node. Nodes must be
// registered in a fixed order for runs to be reproducible.
func (ch *Channel) Register(id sim.MacNodeID) {
	if _, ok := ch.draws[id]; ok {
		return
	}
	if ch.cfg.Source == "stream" {
		s := rngstream.New(fmt.Sprintf("channel_%d", uint16(id)))
		ch.draws[id] = s.RandU01
		return
	}
	ch.draws[id] = ch.rng.ForSubsystem(fmt.Sprintf("%s_%d", sim.SubsystemChannel, uint16(id))).Float64
}

// Send implements mac.Transport.
func (ch *Channel) Send(msg sim.Message) {
	if pdu, ok := msg.(*sim.MacPdu); ok {
		ch.sent[pdu.Dir]++
		if bler := ch.cfg.Bler(pdu.Dir); bler > 0 {
			draw, ok := ch.draws[pdu.Dst]
			if !ok {
				logrus.Warnf("channel: PDU to unregistered node %v dropped", pdu.Dst)
				return
			}
			if draw() < bler {
				pdu.Corrupted = true
				ch.corrupted[pdu.Dir]++
			}
		}
	}
	ch.post(&deliveryEvent{time: ch.clock() + 1, msg: msg})
}

// Corrupted returns how many data PDUs of a direction were sent and how many of them
// were corrupted.
func (ch *Channel) Corrupted(dir sim.Direction) (sent, corrupted int) {
	return ch.sent[dir], ch.corrupted[dir]
}
