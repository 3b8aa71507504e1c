package alloc

import (
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/lte-sim/lte-sim/sim"
)

// ConflictGraph records which D2D transmitters interfere. Two conflicting transmitters
// must not share a band.
type ConflictGraph struct {
	g *simple.UndirectedGraph
}

// NewConflictGraph returns a graph without conflicts.
func NewConflictGraph() *ConflictGraph {
	return &ConflictGraph{g: simple.NewUndirectedGraph()}
}

// AddConflict marks a and b as interfering. Self conflicts are ignored.
func (c *ConflictGraph) AddConflict(a, b sim.MacNodeID) {
	if a == b {
		return
	}
	c.g.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
}

// Conflicts reports whether a and b interfere.
func (c *ConflictGraph) Conflicts(a, b sim.MacNodeID) bool {
	if c == nil {
		return false
	}
	return c.g.HasEdgeBetween(int64(a), int64(b))
}

// Neighbors returns the nodes interfering with id, in ascending order.
func (c *ConflictGraph) Neighbors(id sim.MacNodeID) []sim.MacNodeID {
	if c == nil || c.g.Node(int64(id)) == nil {
		return nil
	}
	nodes := graph.NodesOf(c.g.From(int64(id)))
	out := make([]sim.MacNodeID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, sim.MacNodeID(n.ID()))
	}
	sortIDs(out)
	return out
}

// ConflictsByDistance adds a conflict between every pair of nodes closer than radius.
func (c *ConflictGraph) ConflictsByDistance(positions map[sim.MacNodeID]sim.Position, radius float64) {
	ids := make([]sim.MacNodeID, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sortIDs(ids)
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			pa, pb := positions[a], positions[b]
			if math.Hypot(pa.X-pb.X, pa.Y-pb.Y) < radius {
				c.AddConflict(a, b)
			}
		}
	}
}
