package sched

import (
	"math/rand"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/alloc"
	"github.com/lte-sim/lte-sim/sim/amc"
)

// Backlog is the scheduler's view of the per-connection queues it serves.
// Connection ids carry the terminal's node id in both directions.
type Backlog interface {
	// Connections returns the connections served by this scheduler, in ascending order.
	Connections() []sim.MacCID
	Queue(cid sim.MacCID) *sim.VirtualQueue
	Direction(cid sim.MacCID) sim.Direction
	RlcMode(cid sim.MacCID) sim.RlcMode
}

// Config wires a Scheduler to its collaborators.
type Config struct {
	Direction sim.Direction // DL, or UL for the uplink scheduler that also serves D2D
	Mac       sim.MacConfig
	AMC       amc.LinkAdaptation
	Backlog   Backlog
	Conflicts *alloc.ConflictGraph
	Rand      *rand.Rand
}

// ListKey addresses one connection on one codeword in the schedule list.
type ListKey struct {
	Cid sim.MacCID
	Cw  sim.Codeword
}

// ScheduleList maps connection and codeword to granted units: SDUs for downlink,
// bytes for uplink and D2D.
type ScheduleList map[ListKey]int

// Keys returns the entries ordered by connection then codeword.
func (l ScheduleList) Keys() []ListKey {
	keys := make([]ListKey, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b ListKey) int {
		if a.Cid != b.Cid {
			if a.Cid < b.Cid {
				return -1
			}
			return 1
		}
		return int(a.Cw) - int(b.Cw)
	})
	return keys
}

// NodeDir identifies the grant of a node in a direction.
type NodeDir struct {
	Node sim.MacNodeID
	Dir  sim.Direction
}

// Allocation is everything a node was given in one direction during a TTI.
type Allocation struct {
	NodeDir
	Codewords      int
	Bytes          [sim.MaxCodewords]int
	Blocks         int
	RbMap          map[sim.Remote]map[sim.Band]int
	Retransmission bool
	Acid           int // retransmissions only
	Rac            bool
}

func (a *Allocation) addBlocks(s alloc.Slot, n int) {
	if n == 0 {
		return
	}
	if a.RbMap[s.Remote] == nil {
		a.RbMap[s.Remote] = make(map[sim.Band]int)
	}
	a.RbMap[s.Remote][s.Band] += n
	a.Blocks += n
}

// RetxRequest asks for resources to retransmit one HARQ unit.
type RetxRequest struct {
	Node  sim.MacNodeID
	Dir   sim.Direction
	Acid  int
	Cw    sim.Codeword
	Bytes int
}

type ledgerKey struct {
	node sim.MacNodeID
	dir  sim.Direction
	slot alloc.Slot
}

// slotLedger is what one node holds in one slot for one direction: blocks, and the
// bytes placed on them per codeword.
type slotLedger struct {
	blocks int
	used   [sim.MaxCodewords]int
}

type nodeCw struct {
	node sim.MacNodeID
	dir  sim.Direction
	cw   sim.Codeword
}

// Scheduler runs the retransmission, random-access and new-data passes of one
// direction of a base station, one TTI at a time.
type Scheduler struct {
	cfg      Config
	alloc    *alloc.Allocator
	reuse    *alloc.ReuseAllocator
	strategy GrantStrategy
	tti      int64

	ledger      map[ledgerKey]*slotLedger
	pduStarted  map[nodeCw]bool
	connStarted map[ListKey]bool
	list        ScheduleList
	allocs      map[NodeDir]*Allocation
	excluded    map[sim.MacNodeID]bool
}

// New creates a scheduler. The discipline is taken from the direction's configuration.
func New(cfg Config) *Scheduler {
	name := cfg.Mac.Scheduler.DL
	if cfg.Direction != sim.DL {
		name = cfg.Mac.Scheduler.UL
	}
	s := &Scheduler{
		cfg:      cfg,
		alloc:    alloc.New(cfg.Mac.Grid.Remotes),
		strategy: NewStrategy(name, cfg.Mac.Scheduler),
	}
	if name == "bestfit" {
		s.reuse = alloc.NewReuseAllocator(cfg.Mac.Grid.Bands, cfg.Conflicts, cfg.Mac.Scheduler.DedicatedD2D)
		s.reuse.SetExclusive(!cfg.Mac.Scheduler.FrequencyReuse)
	}
	s.StartTTI(0)
	return s
}

// Strategy returns the discipline in use.
func (s *Scheduler) Strategy() GrantStrategy { return s.strategy }

// Allocator exposes the resource grid of the current TTI.
func (s *Scheduler) Allocator() *alloc.Allocator { return s.alloc }

// StartTTI resets the grid and all per-TTI bookkeeping.
func (s *Scheduler) StartTTI(tti int64) {
	s.tti = tti
	s.alloc.InitAndReset(s.cfg.Mac.Grid.ResourceBlocks, s.cfg.Mac.Grid.Bands)
	if s.reuse != nil {
		s.reuse.Reset(s.cfg.Mac.Grid.Bands)
	}
	s.ledger = make(map[ledgerKey]*slotLedger)
	s.pduStarted = make(map[nodeCw]bool)
	s.connStarted = make(map[ListKey]bool)
	s.list = make(ScheduleList)
	s.allocs = make(map[NodeDir]*Allocation)
	s.excluded = make(map[sim.MacNodeID]bool)
}

// Exclude keeps a node out of the new-data pass of this TTI.
func (s *Scheduler) Exclude(node sim.MacNodeID) {
	s.excluded[node] = true
}

// Exhausted reports whether no resource is left for anybody.
func (s *Scheduler) Exhausted() bool {
	if s.reuse != nil {
		return s.reuse.Exhausted()
	}
	return s.alloc.ComputeTotalRbs() == 0
}

// List returns the schedule list of the current TTI.
func (s *Scheduler) List() ScheduleList { return s.list }

// Allocations returns the per-node grants of the current TTI, ordered by node then direction.
func (s *Scheduler) Allocations() []*Allocation {
	out := make([]*Allocation, 0, len(s.allocs))
	for _, a := range s.allocs {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b *Allocation) int {
		if a.Node != b.Node {
			return int(a.Node) - int(b.Node)
		}
		return int(a.Dir) - int(b.Dir)
	})
	return out
}

// Allocation returns the grant of a node in a direction, nil if none.
func (s *Scheduler) Allocation(node sim.MacNodeID, dir sim.Direction) *Allocation {
	return s.allocs[NodeDir{node, dir}]
}

// UsedBlocks returns the main-plane blocks granted this TTI.
func (s *Scheduler) UsedBlocks() int {
	return s.cfg.Mac.Grid.ResourceBlocks*s.cfg.Mac.Grid.Remotes - s.alloc.ComputeTotalRbs()
}

func (s *Scheduler) allocationFor(node sim.MacNodeID, dir sim.Direction) *Allocation {
	k := NodeDir{node, dir}
	a := s.allocs[k]
	if a == nil {
		a = &Allocation{NodeDir: k, RbMap: make(map[sim.Remote]map[sim.Band]int)}
		s.allocs[k] = a
	}
	return a
}

// ScheduleRetransmissions books resources for HARQ retransmissions, in request order.
// A retransmission is granted whole or not at all. Nodes that get a retransmission are
// excluded from the new-data pass.
func (s *Scheduler) ScheduleRetransmissions(reqs []RetxRequest) []RetxRequest {
	var granted []RetxRequest
	for _, r := range reqs {
		if s.Exhausted() {
			break
		}
		if a := s.allocs[NodeDir{r.Node, r.Dir}]; a != nil && (!a.Retransmission || a.Acid != r.Acid) {
			// one grant per node and direction per TTI
			continue
		}
		params := s.cfg.AMC.ComputeTxParams(r.Node, r.Dir)
		mcsCw := sim.Codeword(min(int(r.Cw), params.Codewords()-1))
		var ok bool
		if s.reuse != nil {
			plan := s.planContiguous(r.Node, r.Dir, params, mcsCw, r.Bytes)
			if ok = plan.total >= r.Bytes; ok {
				s.commitContiguous(r.Node, r.Dir, mcsCw, plan, r.Bytes)
			}
		} else {
			b := s.newBooking(r.Node, r.Dir, params, 0, mcsCw)
			if ok = b.reserve(r.Bytes); ok {
				b.commit(r.Bytes)
			}
		}
		if !ok {
			logrus.Debugf("sched: %s retransmission of %v process %d/%d (%d bytes) does not fit",
				s.cfg.Direction, r.Node, r.Acid, r.Cw, r.Bytes)
			continue
		}
		a := s.allocationFor(r.Node, r.Dir)
		a.Retransmission = true
		a.Acid = r.Acid
		a.Codewords = max(a.Codewords, int(r.Cw)+1)
		a.Bytes[r.Cw] += r.Bytes
		s.excluded[r.Node] = true
		granted = append(granted, r)
	}
	return granted
}

// ScheduleRac gives each terminal that completed random access one resource block on
// the uplink, unless it already holds an uplink grant. Returns the terminals served.
func (s *Scheduler) ScheduleRac(ues []sim.MacNodeID) []sim.MacNodeID {
	var served []sim.MacNodeID
	for _, ue := range ues {
		if s.Exhausted() {
			break
		}
		if s.allocs[NodeDir{ue, sim.UL}] != nil {
			served = append(served, ue)
			continue
		}
		params := s.cfg.AMC.ComputeTxParams(ue, sim.UL)
		if !s.grantOneBlock(ue, params) {
			continue
		}
		served = append(served, ue)
	}
	return served
}

func (s *Scheduler) grantOneBlock(ue sim.MacNodeID, params amc.UserTxParams) bool {
	for _, slot := range s.slots(params) {
		if s.alloc.AvailableBlocks(ue, slot.Remote, slot.Band) == 0 {
			continue
		}
		if s.reuse != nil && !s.reuse.Eligible(slot.Band, ue, alloc.Cellular) {
			continue
		}
		bytes := s.cfg.AMC.BytesOnRbs(ue, slot.Band, 0, 1, sim.UL)
		if !s.alloc.AddBlocks(slot.Remote, slot.Band, ue, 1, bytes) {
			sim.Invariantf("sched", "RAC block for %v on band %d refused", ue, slot.Band)
		}
		if s.reuse != nil {
			s.reuse.Mark(ue, alloc.Cellular, []sim.Band{slot.Band})
		}
		l := s.ledgerFor(ue, sim.UL, slot)
		l.blocks++
		a := s.allocationFor(ue, sim.UL)
		a.Rac = true
		a.Codewords = max(a.Codewords, 1)
		a.Bytes[0] += bytes
		a.addBlocks(slot, 1)
		return true
	}
	return false
}

// ScheduleNewData runs the discipline over every connection with backlog.
func (s *Scheduler) ScheduleNewData() {
	if s.Exhausted() {
		return
	}
	var cands []sim.MacCID
	for _, cid := range s.cfg.Backlog.Connections() {
		if s.excluded[cid.Node()] {
			continue
		}
		if q := s.cfg.Backlog.Queue(cid); q == nil || q.IsEmpty() {
			continue
		}
		cands = append(cands, cid)
	}
	if len(cands) == 0 {
		return
	}
	p := &Pass{
		TTI:        s.tti,
		Direction:  s.cfg.Direction,
		Candidates: cands,
		Rand:       s.cfg.Rand,
		Granted:    make(map[sim.MacCID]int),
		backlog: func(cid sim.MacCID) int {
			return s.cfg.Backlog.Queue(cid).Occupancy()
		},
		rate:       s.rate,
		grant:      s.ScheduleGrant,
		contiguous: s.ScheduleContiguous,
	}
	s.strategy.PrepareSchedule(p)
	s.strategy.CommitSchedule(p)
}

func (s *Scheduler) rate(cid sim.MacCID) float64 {
	dir := s.cfg.Backlog.Direction(cid)
	params := s.cfg.AMC.ComputeTxParams(cid.Node(), dir)
	if len(params.Bands) == 0 {
		return 0
	}
	r := 0
	for cw := 0; cw < params.Codewords(); cw++ {
		r += s.cfg.AMC.BytesOnRbs(cid.Node(), params.Bands[0], sim.Codeword(cw), 1, dir)
	}
	return float64(r)
}

// slots lists the remote/band pairs a terminal may use, remotes outermost.
func (s *Scheduler) slots(params amc.UserTxParams) []alloc.Slot {
	out := make([]alloc.Slot, 0, len(params.Remotes)*len(params.Bands))
	for _, r := range params.Remotes {
		if int(r) >= s.cfg.Mac.Grid.Remotes {
			continue
		}
		for _, b := range params.Bands {
			out = append(out, alloc.Slot{Remote: r, Band: b})
		}
	}
	return out
}

func (s *Scheduler) ledgerFor(node sim.MacNodeID, dir sim.Direction, slot alloc.Slot) *slotLedger {
	k := ledgerKey{node, dir, slot}
	l := s.ledger[k]
	if l == nil {
		l = &slotLedger{}
		s.ledger[k] = l
	}
	return l
}
