package sched

import (
	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/alloc"
	"github.com/lte-sim/lte-sim/sim/amc"
)

// ScheduleGrant books resources for up to budget bytes of a connection's backlog.
//
// Downlink connections are served in whole SDUs and stop at the first SDU that does not
// fit. Uplink and D2D connections are served in bytes and may be served partially; the
// residual stays in the backlog. The first SDU of a node's PDU on a codeword carries the
// MAC header, and the first SDU of each connection on a codeword carries its RLC header.
// Codeword 1 only reuses the blocks booked for codeword 0 and is tried only when codeword
// 0 carried something.
func (s *Scheduler) ScheduleGrant(cid sim.MacCID, budget int) GrantOutcome {
	node := cid.Node()
	dir := s.cfg.Backlog.Direction(cid)
	q := s.cfg.Backlog.Queue(cid)
	if q == nil || q.IsEmpty() {
		return GrantOutcome{Terminate: s.Exhausted(), Eligible: true}
	}
	params := s.cfg.AMC.ComputeTxParams(node, dir)
	s.pairMuMimo(node, dir, params)
	mode := s.cfg.Backlog.RlcMode(cid)

	var out GrantOutcome
	consumed := 0
	for cw := 0; cw < params.Codewords(); cw++ {
		c := sim.Codeword(cw)
		b := s.newBooking(node, dir, params, c, c)
		var units, bytes int
		if dir == sim.DL {
			units, bytes = s.bookSdus(cid, c, mode, q, b, budget-consumed)
		} else {
			units, bytes = s.bookBytes(cid, c, mode, q, b, budget-consumed)
		}
		if units == 0 {
			break
		}
		s.list[ListKey{cid, c}] += units
		a := s.allocationFor(node, dir)
		a.Codewords = max(a.Codewords, cw+1)
		a.Bytes[c] += bytes
		consumed += bytes
		out.Units += units
		out.Bytes += bytes
		if q.IsEmpty() || consumed >= budget {
			break
		}
	}
	out.Active = !q.IsEmpty()
	out.Terminate = s.Exhausted()
	out.Eligible = s.hasCapacity(node, dir, params)
	return out
}

func (s *Scheduler) bookSdus(cid sim.MacCID, cw sim.Codeword, mode sim.RlcMode, q *sim.VirtualQueue, b *booking, budget int) (units, bytes int) {
	for {
		e, ok := q.Front()
		if !ok {
			return units, bytes
		}
		need := e.Size + s.overhead(cid, b.dir, cw, mode)
		if bytes+need > budget || !b.reserve(need) {
			return units, bytes
		}
		b.commit(need)
		q.PopFront()
		s.markStarted(cid, b.dir, cw)
		units++
		bytes += need
	}
}

func (s *Scheduler) bookBytes(cid sim.MacCID, cw sim.Codeword, mode sim.RlcMode, q *sim.VirtualQueue, b *booking, budget int) (units, bytes int) {
	over := s.overhead(cid, b.dir, cw, mode)
	want := min(q.Occupancy()+over, budget)
	if want <= over {
		return 0, 0
	}
	b.reserve(want)
	got := min(want, b.bookedBytes)
	if got <= over {
		return 0, 0
	}
	b.commit(got)
	q.Consume(got - over)
	s.markStarted(cid, b.dir, cw)
	return got, got
}

// overhead returns the header bytes the next SDU of cid on cw must carry.
func (s *Scheduler) overhead(cid sim.MacCID, dir sim.Direction, cw sim.Codeword, mode sim.RlcMode) int {
	n := 0
	if !s.pduStarted[nodeCw{cid.Node(), dir, cw}] {
		n += s.cfg.Mac.Headers.Mac
	}
	if !s.connStarted[ListKey{cid, cw}] {
		n += s.cfg.Mac.Headers.Rlc(mode)
	}
	return n
}

func (s *Scheduler) markStarted(cid sim.MacCID, dir sim.Direction, cw sim.Codeword) {
	s.pduStarted[nodeCw{cid.Node(), dir, cw}] = true
	s.connStarted[ListKey{cid, cw}] = true
}

func (s *Scheduler) pairMuMimo(node sim.MacNodeID, dir sim.Direction, params amc.UserTxParams) {
	if params.TxMode != sim.MultiUser {
		return
	}
	if peer := s.cfg.AMC.MuMimoPeer(node, dir); peer != node {
		s.alloc.ConfigureMuMimoPeering(node, peer)
	}
}

func (s *Scheduler) hasCapacity(node sim.MacNodeID, dir sim.Direction, params amc.UserTxParams) bool {
	b := s.newBooking(node, dir, params, 0, 0)
	for i := range b.slots {
		if b.capacity(i) > 0 {
			return true
		}
	}
	return false
}

// booking reserves whole slots, in order, until their combined free capacity covers a
// request, then fills the earliest reserved slots first.
type booking struct {
	s           *Scheduler
	node        sim.MacNodeID
	dir         sim.Direction
	cw          sim.Codeword // ledger codeword
	mcsCw       sim.Codeword // codeword whose CQI sizes the blocks
	slots       []alloc.Slot
	next        int
	booked      []int
	bookedBytes int
}

func (s *Scheduler) newBooking(node sim.MacNodeID, dir sim.Direction, params amc.UserTxParams, cw, mcsCw sim.Codeword) *booking {
	return &booking{s: s, node: node, dir: dir, cw: cw, mcsCw: mcsCw, slots: s.slots(params)}
}

// capacity returns the bytes slot i can still take on the booking's codeword.
// Codeword 0 may grow into free blocks; other codewords only ride on held blocks.
func (b *booking) capacity(i int) int {
	slot := b.slots[i]
	blocks, used := 0, 0
	if l := b.s.ledger[ledgerKey{b.node, b.dir, slot}]; l != nil {
		blocks, used = l.blocks, l.used[b.cw]
	}
	if b.cw == 0 {
		blocks += b.s.alloc.AvailableBlocks(b.node, slot.Remote, slot.Band)
	}
	return max(0, b.s.cfg.AMC.BytesOnRbs(b.node, slot.Band, b.mcsCw, blocks, b.dir)-used)
}

// reserve books further slots until need bytes are covered. It reports whether they are.
func (b *booking) reserve(need int) bool {
	for b.bookedBytes < need && b.next < len(b.slots) {
		if c := b.capacity(b.next); c > 0 {
			b.booked = append(b.booked, b.next)
			b.bookedBytes += c
		}
		b.next++
	}
	return b.bookedBytes >= need
}

// commit places n reserved bytes, exhausting the earliest booked slot before the next.
func (b *booking) commit(n int) {
	for n > 0 && len(b.booked) > 0 {
		i := b.booked[0]
		c := b.capacity(i)
		take := min(c, n)
		if take > 0 {
			b.s.place(b.node, b.dir, b.slots[i], b.cw, b.mcsCw, take)
		}
		n -= take
		b.bookedBytes -= take
		if take == c {
			b.booked = b.booked[1:]
		}
	}
	if n > 0 {
		sim.Invariantf("sched", "%v %s: %d bytes committed beyond booked capacity", b.node, b.dir, n)
	}
}

// place puts bytes on a slot and takes the extra blocks they need from the allocator.
func (s *Scheduler) place(node sim.MacNodeID, dir sim.Direction, slot alloc.Slot, cw, mcsCw sim.Codeword, bytes int) {
	l := s.ledgerFor(node, dir, slot)
	l.used[cw] += bytes
	newBlocks := 0
	if cw == 0 {
		newBlocks = max(0, s.cfg.AMC.RequiredRbs(node, slot.Band, mcsCw, l.used[0], dir)-l.blocks)
	}
	if !s.alloc.AddBlocks(slot.Remote, slot.Band, node, newBlocks, bytes) {
		sim.Invariantf("sched", "%v %s: %d blocks on remote %d band %d exceed the %d available",
			node, dir, newBlocks, slot.Remote, slot.Band, s.alloc.AvailableBlocks(node, slot.Remote, slot.Band))
	}
	l.blocks += newBlocks
	s.allocationFor(node, dir).addBlocks(slot, newBlocks)
}

// ScheduleContiguous serves a connection from a best-fit run of whole bands.
// Only codeword 0 is used. Nothing is booked unless at least one unit can be served.
func (s *Scheduler) ScheduleContiguous(cid sim.MacCID, budget int) GrantOutcome {
	node := cid.Node()
	dir := s.cfg.Backlog.Direction(cid)
	q := s.cfg.Backlog.Queue(cid)
	if s.reuse == nil || q == nil || q.IsEmpty() {
		return GrantOutcome{Terminate: s.Exhausted(), Eligible: true}
	}
	params := s.cfg.AMC.ComputeTxParams(node, dir)
	mode := s.cfg.Backlog.RlcMode(cid)
	over := s.overhead(cid, dir, 0, mode)

	var out GrantOutcome
	if dir == sim.DL {
		want := 0
		for _, e := range q.Entries() {
			next := want + e.Size
			if want == 0 {
				next += over
			}
			if next > budget {
				break
			}
			want = next
		}
		plan := s.planContiguous(node, dir, params, 0, want)
		served := 0
		for e, ok := q.Front(); ok; e, ok = q.Front() {
			need := e.Size
			if out.Units == 0 {
				need += over
			}
			if served+need > plan.total {
				break
			}
			q.PopFront()
			served += need
			out.Units++
		}
		if served > 0 {
			s.commitContiguous(node, dir, 0, plan, served)
		}
		out.Bytes = served
	} else {
		want := min(q.Occupancy()+over, budget)
		plan := s.planContiguous(node, dir, params, 0, want)
		if got := min(want, plan.total); got > over {
			s.commitContiguous(node, dir, 0, plan, got)
			q.Consume(got - over)
			out.Units, out.Bytes = got, got
		}
	}
	if out.Units > 0 {
		s.markStarted(cid, dir, 0)
		s.list[ListKey{cid, 0}] += out.Units
		a := s.allocationFor(node, dir)
		a.Codewords = max(a.Codewords, 1)
		a.Bytes[0] += out.Bytes
	}
	out.Active = !q.IsEmpty()
	out.Terminate = s.Exhausted()
	out.Eligible = len(s.reuse.Holes(node, occupantOf(dir), 0, params.Bands)) > 0
	return out
}

func occupantOf(dir sim.Direction) alloc.Occupant {
	if dir == sim.D2D {
		return alloc.Direct
	}
	return alloc.Cellular
}

// sharesGrid reports whether users of dir leave the cellular grid untouched:
// D2D users under frequency reuse.
func (s *Scheduler) sharesGrid(dir sim.Direction) bool {
	return occupantOf(dir) == alloc.Direct && s.cfg.Mac.Scheduler.FrequencyReuse
}

// contiguousPlan is a best-fit run of bands and the bytes each of them can carry.
type contiguousPlan struct {
	typ   alloc.Occupant
	bands []sim.Band
	caps  []int
	total int
}

// planContiguous picks the bands that would carry want bytes, without booking anything.
// The plan may carry less than want when no hole is large enough.
func (s *Scheduler) planContiguous(node sim.MacNodeID, dir sim.Direction, params amc.UserTxParams, mcsCw sim.Codeword, want int) contiguousPlan {
	plan := contiguousPlan{typ: occupantOf(dir)}
	if want <= 0 || len(params.Bands) == 0 {
		return plan
	}
	shared := s.sharesGrid(dir)
	capacity := func(band sim.Band) int {
		blocks := s.alloc.BandBlocks(band)
		if !shared {
			blocks = min(blocks, s.alloc.AvailableBlocks(node, sim.MacroRemote, band))
		}
		return s.cfg.AMC.BytesOnRbs(node, band, mcsCw, blocks, dir)
	}
	plan.bands, plan.total = s.reuse.Fit(node, plan.typ, want, 0, params.Bands, capacity)
	plan.caps = make([]int, len(plan.bands))
	for i, band := range plan.bands {
		plan.caps[i] = capacity(band)
	}
	return plan
}

// commitContiguous books bytes on a plan, filling its bands in scan order, and marks the
// bands it used. bytes must not exceed the plan's total.
func (s *Scheduler) commitContiguous(node sim.MacNodeID, dir sim.Direction, mcsCw sim.Codeword, plan contiguousPlan, bytes int) {
	if bytes > plan.total {
		sim.Invariantf("sched", "%v %s: %d contiguous bytes exceed the %d planned", node, dir, bytes, plan.total)
	}
	shared := s.sharesGrid(dir)
	remote := sim.MacroRemote
	a := s.allocationFor(node, dir)
	var used []sim.Band
	left := bytes
	for i, band := range plan.bands {
		if left <= 0 {
			break
		}
		take := min(plan.caps[i], left)
		if take <= 0 {
			continue
		}
		blocks := s.cfg.AMC.RequiredRbs(node, band, mcsCw, take, dir)
		slot := alloc.Slot{Remote: remote, Band: band}
		if !shared && !s.alloc.AddBlocks(remote, band, node, blocks, take) {
			sim.Invariantf("sched", "%v %s: %d blocks on band %d exceed availability", node, dir, blocks, band)
		}
		l := s.ledgerFor(node, dir, slot)
		l.blocks += blocks
		l.used[0] += take
		a.addBlocks(slot, blocks)
		used = append(used, band)
		left -= take
	}
	s.reuse.Mark(node, plan.typ, used)
}
