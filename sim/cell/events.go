package cell

import (
	"github.com/lte-sim/lte-sim/sim"
)

// Type priorities at equal timestamps: messages sent in the previous TTI are delivered
// first, then new SDUs arrive, then the nodes run, then their selected HARQ units go down.
const (
	PriorityDelivery = iota
	PriorityTraffic
	PriorityTTI
	PriorityFlush
)

// Event is something the cell executes at a TTI.
type Event interface {
	Timestamp() int64
	Priority() int
	Execute(*Cell)
}

// eventEntry wraps an Event with a sequence ID for deterministic FIFO tie-breaking
// when timestamp and priority are equal.
type eventEntry struct {
	event Event
	seqID int64
}

// EventQueue is a min-heap ordered by (Timestamp, Priority, seqID).
// Implements heap.Interface.
type EventQueue []eventEntry

func (q EventQueue) Len() int { return len(q) }

func (q EventQueue) Less(i, j int) bool {
	if q[i].event.Timestamp() != q[j].event.Timestamp() {
		return q[i].event.Timestamp() < q[j].event.Timestamp()
	}
	if q[i].event.Priority() != q[j].event.Priority() {
		return q[i].event.Priority() < q[j].event.Priority()
	}
	return q[i].seqID < q[j].seqID
}

func (q EventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *EventQueue) Push(x any) {
	*q = append(*q, x.(eventEntry))
}

func (q *EventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// deliveryEvent hands a message to its destination node.
type deliveryEvent struct {
	time int64
	msg  sim.Message
}

func (e *deliveryEvent) Timestamp() int64 { return e.time }
func (e *deliveryEvent) Priority() int    { return PriorityDelivery }
func (e *deliveryEvent) Execute(c *Cell)  { c.deliver(e.msg) }

// arrivalEvent produces the next SDU of a traffic source.
type arrivalEvent struct {
	time   int64
	source *trafficSource
}

func (e *arrivalEvent) Timestamp() int64 { return e.time }
func (e *arrivalEvent) Priority() int    { return PriorityTraffic }
func (e *arrivalEvent) Execute(c *Cell)  { c.handleArrival(e) }

// ttiEvent runs every node's per-TTI loop.
type ttiEvent struct {
	time int64
}

func (e *ttiEvent) Timestamp() int64 { return e.time }
func (e *ttiEvent) Priority() int    { return PriorityTTI }
func (e *ttiEvent) Execute(c *Cell)  { c.handleTTI(e.time) }

// flushEvent sends every node's selected HARQ units.
type flushEvent struct {
	time int64
}

func (e *flushEvent) Timestamp() int64 { return e.time }
func (e *flushEvent) Priority() int    { return PriorityFlush }
func (e *flushEvent) Execute(c *Cell)  { c.handleFlush(e.time) }
