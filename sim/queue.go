// Implements the per-connection queues of the MAC.
// A VirtualQueue mirrors backlog by size only; a RealQueue holds the SDUs themselves.

package sim

import (
	"fmt"
	"strings"
)

// QueueEntry is one element of a VirtualQueue: a size and the TTI it was enqueued.
type QueueEntry struct {
	Size      int
	Timestamp int64
}

// VirtualQueue mirrors a connection's backlog without holding data.
// On the base station it is decremented optimistically as soon as a grant is scheduled.
type VirtualQueue struct {
	entries   []QueueEntry
	occupancy int
}

// PushBack appends an entry.
func (vq *VirtualQueue) PushBack(e QueueEntry) {
	if e.Size < 0 {
		panic(fmt.Sprintf("VirtualQueue.PushBack: negative size %d", e.Size))
	}
	vq.entries = append(vq.entries, e)
	vq.occupancy += e.Size
}

// PushFront inserts an entry at the head, used to put back the residual of a partially served entry.
func (vq *VirtualQueue) PushFront(e QueueEntry) {
	if e.Size < 0 {
		panic(fmt.Sprintf("VirtualQueue.PushFront: negative size %d", e.Size))
	}
	vq.entries = append([]QueueEntry{e}, vq.entries...)
	vq.occupancy += e.Size
}

// PopFront removes and returns the head entry. ok is false on an empty queue.
func (vq *VirtualQueue) PopFront() (e QueueEntry, ok bool) {
	if len(vq.entries) == 0 {
		return QueueEntry{}, false
	}
	e = vq.entries[0]
	vq.entries = vq.entries[1:]
	vq.occupancy -= e.Size
	return e, true
}

// Front returns the head entry without removing it.
func (vq *VirtualQueue) Front() (QueueEntry, bool) {
	if len(vq.entries) == 0 {
		return QueueEntry{}, false
	}
	return vq.entries[0], true
}

// Consume removes up to n bytes from the head, splitting the last touched entry.
// Returns the number of bytes actually removed.
func (vq *VirtualQueue) Consume(n int) int {
	removed := 0
	for removed < n {
		e, ok := vq.PopFront()
		if !ok {
			break
		}
		if take := n - removed; e.Size > take {
			vq.PushFront(QueueEntry{Size: e.Size - take, Timestamp: e.Timestamp})
			removed += take
			break
		}
		removed += e.Size
	}
	return removed
}

// Reset replaces the contents with a single entry of the given size (a fresh backlog report).
// A zero size empties the queue.
func (vq *VirtualQueue) Reset(size int, now int64) {
	vq.entries = vq.entries[:0]
	vq.occupancy = 0
	if size > 0 {
		vq.PushBack(QueueEntry{Size: size, Timestamp: now})
	}
}

// Entries returns the queue contents for iteration. Callers MUST NOT modify the slice.
func (vq *VirtualQueue) Entries() []QueueEntry {
	return vq.entries
}

// Len returns the number of entries.
func (vq *VirtualQueue) Len() int {
	return len(vq.entries)
}

// Occupancy returns the total bytes queued.
func (vq *VirtualQueue) Occupancy() int {
	return vq.occupancy
}

// IsEmpty reports whether no entries are queued.
func (vq *VirtualQueue) IsEmpty() bool {
	return len(vq.entries) == 0
}

func (vq *VirtualQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, e := range vq.entries {
		sb.WriteString(fmt.Sprint(e.Size))
		if i < len(vq.entries)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// RealQueue is a bounded FIFO of SDUs. Capacity is in bytes; zero means unbounded.
// Overflowing SDUs are dropped and counted.
type RealQueue struct {
	capacity     int
	sdus         []Sdu
	occupancy    int
	dropped      int
	droppedBytes int
}

// NewRealQueue creates a queue holding at most capacity bytes (0 for no limit).
func NewRealQueue(capacity int) *RealQueue {
	if capacity < 0 {
		panic(fmt.Sprintf("NewRealQueue: negative capacity %d", capacity))
	}
	return &RealQueue{capacity: capacity}
}

// PushBack appends an SDU. It returns false and records a drop when the SDU does not fit.
func (rq *RealQueue) PushBack(sdu Sdu) bool {
	if rq.capacity > 0 && rq.occupancy+sdu.Size > rq.capacity {
		rq.dropped++
		rq.droppedBytes += sdu.Size
		return false
	}
	rq.sdus = append(rq.sdus, sdu)
	rq.occupancy += sdu.Size
	return true
}

// PushFront reinserts a segmentation remainder at the head. Capacity is not checked:
// the bytes were already admitted.
func (rq *RealQueue) PushFront(sdu Sdu) {
	rq.sdus = append([]Sdu{sdu}, rq.sdus...)
	rq.occupancy += sdu.Size
}

// PopFront removes and returns the head SDU. ok is false on an empty queue.
func (rq *RealQueue) PopFront() (sdu Sdu, ok bool) {
	if len(rq.sdus) == 0 {
		return Sdu{}, false
	}
	sdu = rq.sdus[0]
	rq.sdus = rq.sdus[1:]
	rq.occupancy -= sdu.Size
	return sdu, true
}

// Front returns the head SDU without removing it.
func (rq *RealQueue) Front() (Sdu, bool) {
	if len(rq.sdus) == 0 {
		return Sdu{}, false
	}
	return rq.sdus[0], true
}

// Len returns the number of SDUs.
func (rq *RealQueue) Len() int {
	return len(rq.sdus)
}

// Occupancy returns the queued bytes.
func (rq *RealQueue) Occupancy() int {
	return rq.occupancy
}

// Capacity returns the byte limit, 0 when unbounded.
func (rq *RealQueue) Capacity() int {
	return rq.capacity
}

// Dropped returns the number of SDUs and bytes rejected on overflow.
func (rq *RealQueue) Dropped() (sdus, bytes int) {
	return rq.dropped, rq.droppedBytes
}

// Clear empties the queue and returns the discarded SDUs.
func (rq *RealQueue) Clear() []Sdu {
	out := rq.sdus
	rq.sdus = nil
	rq.occupancy = 0
	return out
}
