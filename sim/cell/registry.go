package cell

import (
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/mac"
)

// Node is anything that takes messages from the channel.
type Node interface {
	Receive(msg sim.Message, now int64)
}

// Registry maps node ids to nodes. Nodes never hold pointers to each other; messages
// are routed through the registry at delivery time.
type Registry struct {
	enb   *mac.Enb
	ues   map[sim.MacNodeID]*mac.Ue
	ueIDs []sim.MacNodeID
}

func NewRegistry() *Registry {
	return &Registry{ues: make(map[sim.MacNodeID]*mac.Ue)}
}

func (r *Registry) SetEnb(e *mac.Enb) { r.enb = e }

func (r *Registry) AddUe(u *mac.Ue) {
	if _, ok := r.ues[u.ID()]; !ok {
		i, _ := slices.BinarySearch(r.ueIDs, u.ID())
		r.ueIDs = slices.Insert(r.ueIDs, i, u.ID())
	}
	r.ues[u.ID()] = u
}

// RemoveUe forgets a terminal. Messages still in flight to it are dropped on delivery.
func (r *Registry) RemoveUe(id sim.MacNodeID) {
	delete(r.ues, id)
	r.ueIDs = slices.DeleteFunc(r.ueIDs, func(x sim.MacNodeID) bool { return x == id })
}

// Node returns the node with the given id, nil if none.
func (r *Registry) Node(id sim.MacNodeID) Node {
	if r.enb != nil && r.enb.ID() == id {
		return r.enb
	}
	if u, ok := r.ues[id]; ok {
		return u
	}
	return nil
}

func (r *Registry) Enb() *mac.Enb { return r.enb }

func (r *Registry) Ue(id sim.MacNodeID) *mac.Ue { return r.ues[id] }

// UeIDs returns the terminal ids in ascending order.
func (r *Registry) UeIDs() []sim.MacNodeID { return r.ueIDs }
