package mac

import (
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
)

// ConnSpec describes one logical connection. Cid carries the terminal's node id.
type ConnSpec struct {
	Cid             sim.MacCID
	Dir             sim.Direction
	Rlc             sim.RlcMode
	MinReservedRate int // bytes per TTI, 0 for best effort
	MaxBurst        int // bucket cap in bytes
}

type connection struct {
	spec ConnSpec
	vq   sim.VirtualQueue
	rq   *sim.RealQueue // nil where only buffer status reports are known
}

// connTable keeps a node's connections in cid order. It is the sched.Backlog of the
// node's schedulers.
type connTable struct {
	byCid map[sim.MacCID]*connection
	cids  []sim.MacCID
}

func newConnTable() *connTable {
	return &connTable{byCid: make(map[sim.MacCID]*connection)}
}

func (t *connTable) add(spec ConnSpec, rq *sim.RealQueue) *connection {
	c := &connection{spec: spec, rq: rq}
	if _, ok := t.byCid[spec.Cid]; !ok {
		i, _ := slices.BinarySearch(t.cids, spec.Cid)
		t.cids = slices.Insert(t.cids, i, spec.Cid)
	}
	t.byCid[spec.Cid] = c
	return c
}

func (t *connTable) get(cid sim.MacCID) *connection {
	return t.byCid[cid]
}

// removeNode drops every connection of node and returns how many were removed.
func (t *connTable) removeNode(node sim.MacNodeID) int {
	n := 0
	t.cids = slices.DeleteFunc(t.cids, func(cid sim.MacCID) bool {
		if cid.Node() != node {
			return false
		}
		delete(t.byCid, cid)
		n++
		return true
	})
	return n
}

// backlog sums the virtual queues of the connections matching keep (all when nil).
func (t *connTable) backlog(keep func(*connection) bool) int {
	n := 0
	for _, cid := range t.cids {
		c := t.byCid[cid]
		if keep == nil || keep(c) {
			n += c.vq.Occupancy()
		}
	}
	return n
}

func (t *connTable) Connections() []sim.MacCID { return t.cids }

func (t *connTable) Queue(cid sim.MacCID) *sim.VirtualQueue {
	if c := t.byCid[cid]; c != nil {
		return &c.vq
	}
	return nil
}

func (t *connTable) Direction(cid sim.MacCID) sim.Direction {
	if c := t.byCid[cid]; c != nil {
		return c.spec.Dir
	}
	return sim.DL
}

func (t *connTable) RlcMode(cid sim.MacCID) sim.RlcMode {
	if c := t.byCid[cid]; c != nil {
		return c.spec.Rlc
	}
	return sim.RlcUM
}
