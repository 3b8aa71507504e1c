package mac

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/alloc"
	"github.com/lte-sim/lte-sim/sim/amc"
	"github.com/lte-sim/lte-sim/sim/harq"
	"github.com/lte-sim/lte-sim/sim/sched"
)

// EnbConfig wires a base station to its collaborators.
type EnbConfig struct {
	ID        sim.MacNodeID
	Mac       sim.MacConfig
	AMC       amc.LinkAdaptation
	Conflicts *alloc.ConflictGraph
	RNG       *sim.PartitionedRNG
	Transport Transport
	Upper     UpperLayer
	Observer  Observer
	Metrics   *sim.Metrics
}

// enbUe is what the base station keeps about one attached terminal.
type enbUe struct {
	id      sim.MacNodeID
	dlTx    *harq.TxBuffer
	ulRx    *harq.RxBuffer
	pointer [sim.NumDirections]int // synchronous process of new uplink and D2D grants
	mirror  *harq.MirrorBuffer     // D2D transmissions of this terminal, nil without a peer

	periodicUntil [sim.NumDirections]int64 // first TTI after the periodic grant of a direction expires
}

// holdsPeriodic reports whether the terminal may still be using a periodic grant.
func (u *enbUe) holdsPeriodic(now int64) bool {
	return now < u.periodicUntil[sim.UL] || now < u.periodicUntil[sim.D2D]
}

// Enb is the base-station MAC.
type Enb struct {
	cfg EnbConfig

	dl, ul  *sched.Scheduler
	dlConns *connTable // real queues, fed by the upper layer
	ulConns *connTable // uplink and D2D backlog known from buffer status reports

	ues   map[sim.MacNodeID]*enbUe
	ueIDs []sim.MacNodeID

	racPending  []sim.MacNodeID // admitted, waiting for their first uplink block
	racAdmitted int
}

// NewEnb creates a base station without terminals.
func NewEnb(cfg EnbConfig) *Enb {
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = sim.NewMetrics()
	}
	if cfg.RNG == nil {
		cfg.RNG = sim.NewPartitionedRNG(sim.NewSimulationKey(0))
	}
	e := &Enb{
		cfg:     cfg,
		dlConns: newConnTable(),
		ulConns: newConnTable(),
		ues:     make(map[sim.MacNodeID]*enbUe),
	}
	rng := cfg.RNG.ForSubsystem(sim.SubsystemScheduler(cfg.ID))
	e.dl = sched.New(sched.Config{
		Direction: sim.DL, Mac: cfg.Mac, AMC: cfg.AMC, Backlog: e.dlConns, Conflicts: cfg.Conflicts, Rand: rng,
	})
	e.ul = sched.New(sched.Config{
		Direction: sim.UL, Mac: cfg.Mac, AMC: cfg.AMC, Backlog: e.ulConns, Conflicts: cfg.Conflicts, Rand: rng,
	})
	return e
}

// ID returns the node id.
func (e *Enb) ID() sim.MacNodeID { return e.cfg.ID }

// Scheduler returns the downlink scheduler for DL and the uplink one otherwise.
func (e *Enb) Scheduler(dir sim.Direction) *sched.Scheduler {
	if dir == sim.DL {
		return e.dl
	}
	return e.ul
}

// AttachUe registers a terminal with its connections. A terminal with a D2D peer gets a
// mirror of its D2D transmissions.
func (e *Enb) AttachUe(id sim.MacNodeID, conns []ConnSpec, d2dPeer sim.MacNodeID) {
	hc := e.cfg.Mac.Harq
	u := &enbUe{
		id:   id,
		dlTx: harq.NewTxBuffer(e.cfg.ID, id, sim.DL, hc.EnbProcesses, hc.MaxRetransmissions),
		ulRx: harq.NewRxBuffer(e.cfg.ID, id, sim.UL, hc.UeProcesses, hc.EvaluationInterval),
	}
	if d2dPeer != sim.NoNode {
		u.mirror = harq.NewMirrorBuffer(id, d2dPeer, hc.UeProcesses)
	}
	for _, c := range conns {
		if c.Dir == sim.DL {
			e.dlConns.add(c, sim.NewRealQueue(e.cfg.Mac.QueueCapacity))
		} else {
			e.ulConns.add(c, nil)
		}
	}
	if _, ok := e.ues[id]; !ok {
		i, _ := slices.BinarySearch(e.ueIDs, id)
		e.ueIDs = slices.Insert(e.ueIDs, i, id)
	}
	e.ues[id] = u
	logrus.Debugf("enb %v: attached %v with %d connections", e.cfg.ID, id, len(conns))
}

// DetachUe forgets a terminal, dropping its queued data and HARQ state.
func (e *Enb) DetachUe(id sim.MacNodeID) {
	u, ok := e.ues[id]
	if !ok {
		return
	}
	dropped := u.dlTx.ForceDropAll()
	n := e.dlConns.removeNode(id) + e.ulConns.removeNode(id)
	delete(e.ues, id)
	e.ueIDs = slices.DeleteFunc(e.ueIDs, func(x sim.MacNodeID) bool { return x == id })
	e.racPending = slices.DeleteFunc(e.racPending, func(x sim.MacNodeID) bool { return x == id })
	logrus.Infof("enb %v: detached %v (%d connections, %d HARQ units dropped)", e.cfg.ID, id, n, dropped)
}

// HandleUpperSdu queues a downlink SDU. It returns false when the real queue overflows.
func (e *Enb) HandleUpperSdu(sdu sim.Sdu, now int64) bool {
	c := e.dlConns.get(sdu.Cid)
	if c == nil {
		logrus.Warnf("enb %v: SDU for unknown connection %v dropped", e.cfg.ID, sdu.Cid)
		return false
	}
	if !c.rq.PushBack(sdu) {
		e.cfg.Metrics.QueueDrops++
		e.cfg.Metrics.QueueDroppedBytes += int64(sdu.Size)
		logrus.Debugf("enb %v: queue of %v full, %d-byte SDU dropped", e.cfg.ID, sdu.Cid, sdu.Size)
		return false
	}
	c.vq.PushBack(sim.QueueEntry{Size: sdu.Size, Timestamp: now})
	return true
}

// HandleNewData records that the upper layer holds size more bytes for cid.
// Used in on-demand buffering, where SDUs are pulled when the PDU is built.
func (e *Enb) HandleNewData(cid sim.MacCID, size int, now int64) {
	c := e.dlConns.get(cid)
	if c == nil {
		logrus.Warnf("enb %v: new data for unknown connection %v ignored", e.cfg.ID, cid)
		return
	}
	c.vq.PushBack(sim.QueueEntry{Size: size, Timestamp: now})
}

// DlBacklog returns the bytes the base station believes are queued for a downlink connection.
func (e *Enb) DlBacklog(cid sim.MacCID) int {
	if q := e.dlConns.Queue(cid); q != nil {
		return q.Occupancy()
	}
	return 0
}

// UlBacklog returns the bytes the base station believes a terminal holds for cid.
func (e *Enb) UlBacklog(cid sim.MacCID) int {
	if q := e.ulConns.Queue(cid); q != nil {
		return q.Occupancy()
	}
	return 0
}

// DlHarq returns the downlink transmit buffer towards a terminal.
func (e *Enb) DlHarq(ue sim.MacNodeID) *harq.TxBuffer {
	if u := e.ues[ue]; u != nil {
		return u.dlTx
	}
	return nil
}

// Mirror returns the mirror of a terminal's D2D transmissions.
func (e *Enb) Mirror(ue sim.MacNodeID) *harq.MirrorBuffer {
	if u := e.ues[ue]; u != nil {
		return u.mirror
	}
	return nil
}

// Receive handles a message delivered by the lower layer.
func (e *Enb) Receive(msg sim.Message, now int64) {
	switch m := msg.(type) {
	case *sim.MacPdu:
		u := e.ues[m.Src]
		if u == nil || m.Dir != sim.UL {
			logrus.Warnf("enb %v: unexpected %s PDU from %v dropped", e.cfg.ID, m.Dir, m.Src)
			return
		}
		u.ulRx.Enque(m, now)
	case *sim.HarqFeedback:
		e.handleFeedback(m, now)
	case *sim.RacRequest:
		e.handleRac(m, now)
	case *harq.MirrorSnapshot:
		if u := e.ues[m.Sender]; u != nil && u.mirror != nil && u.mirror.Receiver() == m.Receiver {
			u.mirror.ApplySnapshot(m.Units)
		}
	case *sim.CqiReport:
		e.cfg.AMC.PushFeedback(m.Ue, m.Dir, amc.FeedbackSample{Cqi: m.Cqi, Rank: m.Rank})
	default:
		logrus.Warnf("enb %v: unexpected %s message from %v", e.cfg.ID, msg.Kind(), msg.Source())
	}
}

func (e *Enb) handleFeedback(fb *sim.HarqFeedback, now int64) {
	if fb.Mirrored {
		if u := e.ues[fb.Peer]; u != nil && u.mirror != nil {
			u.mirror.ReceiveFeedback(fb.Acid, fb.Cw, fb.Ack, fb.PduLength)
		}
		return
	}
	u := e.ues[fb.Src]
	if u == nil {
		return
	}
	outcome := u.dlTx.ReceiveFeedback(fb.Acid, fb.Cw, fb.Ack)
	countFeedback(e.cfg.Metrics, sim.DL, outcome)
	e.cfg.Observer.HarqOutcome(now, e.cfg.ID, fb.Src, sim.DL, harq.UnitID{Acid: fb.Acid, Cw: fb.Cw}, outcome)
}

// handleRac admits a random-access request unless this TTI's admission limit is reached.
func (e *Enb) handleRac(req *sim.RacRequest, now int64) {
	if e.ues[req.Ue] == nil {
		logrus.Warnf("enb %v: RAC from unknown terminal %v", e.cfg.ID, req.Ue)
		return
	}
	limit := e.cfg.Mac.Rac.MaxPerTti
	ok := limit == 0 || e.racAdmitted < limit
	if ok {
		e.racAdmitted++
		if !slices.Contains(e.racPending, req.Ue) {
			e.racPending = append(e.racPending, req.Ue)
		}
		e.cfg.Observer.RacStep(now, req.Ue, RacAdmitted)
	} else {
		logrus.Debugf("enb %v: RAC of %v rejected, %d already admitted this TTI", e.cfg.ID, req.Ue, limit)
		e.cfg.Observer.RacStep(now, req.Ue, RacRejected)
	}
	e.cfg.Transport.Send(&sim.RacResponse{Enb: e.cfg.ID, Ue: req.Ue, Success: ok})
}

// HandleTTI runs one TTI: drain HARQ reception, schedule the uplink, schedule and build
// the downlink, then purge corrupted receptions. Flush must follow within the same TTI.
func (e *Enb) HandleTTI(now int64) {
	e.drainRx(now)
	e.scheduleUplink(now)
	e.scheduleDownlink(now)
	for _, id := range e.ueIDs {
		e.ues[id].ulRx.PurgeCorruptedPdus(now)
	}
	e.racAdmitted = 0
}

// Flush hands every selected downlink HARQ unit to the lower layer.
func (e *Enb) Flush(now int64) {
	for _, id := range e.ueIDs {
		sent, retx := e.ues[id].dlTx.SendSelectedDown(now, func(p *sim.MacPdu) { e.cfg.Transport.Send(p) })
		e.cfg.Metrics.Transmissions[sim.DL] += sent - retx
		e.cfg.Metrics.Retransmissions[sim.DL] += retx
	}
}

func (e *Enb) drainRx(now int64) {
	for _, id := range e.ueIDs {
		u := e.ues[id]
		for _, fb := range u.ulRx.Evaluate(now) {
			e.cfg.Transport.Send(fb)
		}
		for _, pdu := range u.ulRx.ExtractCorrectPdus() {
			deliverSdus(pdu, e.cfg.ID, e.cfg.Upper, e.cfg.Metrics, now)
			for _, b := range pdu.Bsr {
				if c := e.ulConns.get(b.Cid); c != nil {
					c.vq.Reset(b.Bytes, now)
				}
			}
		}
	}
}

func (e *Enb) scheduleUplink(now int64) {
	e.ul.StartTTI(now)
	procs := e.cfg.Mac.Harq.UeProcesses

	var reqs []sched.RetxRequest
	for _, id := range e.ueIDs {
		u := e.ues[id]
		u.pointer[sim.UL] = (u.pointer[sim.UL] + 1) % procs
		u.pointer[sim.D2D] = (u.pointer[sim.D2D] + 1) % procs
		if u.holdsPeriodic(now) {
			e.ul.Exclude(id)
		}
		for _, unit := range u.ulRx.CorruptedUnits() {
			reqs = append(reqs, sched.RetxRequest{Node: id, Dir: sim.UL, Acid: unit.Acid, Cw: unit.Cw, Bytes: unit.PduLength})
		}
		if u.mirror != nil {
			for _, unit := range u.mirror.ReadyUnits() {
				reqs = append(reqs, sched.RetxRequest{Node: id, Dir: sim.D2D, Acid: unit.Acid, Cw: unit.Cw, Bytes: unit.PduLength})
			}
		}
	}
	for _, r := range e.ul.ScheduleRetransmissions(reqs) {
		if r.Dir == sim.D2D {
			e.ues[r.Node].mirror.MarkSelected(harq.UnitID{Acid: r.Acid, Cw: r.Cw})
		}
	}

	e.ul.ScheduleNewData()

	served := e.ul.ScheduleRac(e.racPending)
	e.racPending = slices.DeleteFunc(e.racPending, func(id sim.MacNodeID) bool {
		return slices.Contains(served, id)
	})

	for _, a := range e.ul.Allocations() {
		e.emitGrant(a, now)
	}
	e.recordUtilization(sim.UL, e.ul, now)
}

func (e *Enb) emitGrant(a *sched.Allocation, now int64) {
	u := e.ues[a.Node]
	acid := a.Acid
	if !a.Retransmission {
		acid = u.pointer[a.Dir]
	}
	g := &sim.Grant{
		Enb:            e.cfg.ID,
		Ue:             a.Node,
		Dir:            a.Dir,
		Acid:           acid,
		Retransmission: a.Retransmission,
		Codewords:      max(a.Codewords, 1),
		Bytes:          a.Bytes,
		Blocks:         a.Blocks,
		RbMap:          a.RbMap,
		Issued:         now,
	}
	if p := e.cfg.Mac.Scheduler.GrantPeriod; p > 0 && !a.Retransmission && !a.Rac {
		g.Periodic, g.Period, g.Expiration = true, p, e.cfg.Mac.Scheduler.GrantExpiration
		u.periodicUntil[a.Dir] = now + int64(p*g.Expiration)
	} else {
		// any other grant replaces the one the terminal holds
		u.periodicUntil[a.Dir] = 0
	}
	e.cfg.Transport.Send(g)
	e.cfg.Metrics.GrantsIssued[a.Dir]++
	if a.Retransmission {
		e.cfg.Metrics.RetxGrants[a.Dir]++
	}
	e.cfg.Observer.GrantIssued(now, g)
}

func (e *Enb) scheduleDownlink(now int64) {
	e.dl.StartTTI(now)

	var reqs []sched.RetxRequest
	for _, id := range e.ueIDs {
		for _, unit := range e.ues[id].dlTx.ReadyUnits() {
			reqs = append(reqs, sched.RetxRequest{Node: id, Dir: sim.DL, Acid: unit.Acid, Cw: unit.Cw, Bytes: unit.PduLength})
		}
	}
	for _, r := range e.dl.ScheduleRetransmissions(reqs) {
		e.ues[r.Node].dlTx.MarkSelected(harq.UnitID{Acid: r.Acid, Cw: r.Cw})
	}
	for _, id := range e.ueIDs {
		if _, ok := e.ues[id].dlTx.FirstAvailable(); !ok {
			e.dl.Exclude(id)
		}
	}

	e.dl.ScheduleNewData()
	e.buildDownlink(now)
	e.recordUtilization(sim.DL, e.dl, now)
}

// buildDownlink turns the schedule list into PDUs, one per terminal and codeword, and
// stores them in a free HARQ process.
func (e *Enb) buildDownlink(now int64) {
	list := e.dl.List()
	if len(list) == 0 {
		return
	}
	type nodeCw struct {
		node sim.MacNodeID
		cw   sim.Codeword
	}
	builders := make(map[nodeCw]*pduBuilder)
	var order []nodeCw
	for _, k := range list.Keys() {
		c := e.dlConns.get(k.Cid)
		if c == nil {
			sim.Invariantf("mac.Enb", "schedule list names unknown connection %v", k.Cid)
		}
		key := nodeCw{k.Cid.Node(), k.Cw}
		b := builders[key]
		if b == nil {
			b = newPduBuilder(e.cfg.Mac.Headers, e.cfg.ID, key.node, sim.DL, now)
			builders[key] = b
			order = append(order, key)
		}
		for i := 0; i < list[k]; i++ {
			sdu, ok := nextSdu(c, e.cfg.Mac.Buffering, e.cfg.Upper)
			if !ok {
				sim.Invariantf("mac.Enb", "%v: %d SDUs scheduled but the real queue ran out after %d", k.Cid, list[k], i)
			}
			b.add(sdu, c.spec.Rlc)
		}
	}

	acids := make(map[sim.MacNodeID]int)
	for _, key := range order {
		u := e.ues[key.node]
		acid, ok := acids[key.node]
		if !ok {
			if acid, ok = u.dlTx.FirstAvailable(); !ok {
				e.cfg.Metrics.NoProcessDrops[sim.DL]++
				logrus.Warnf("enb %v: no free HARQ process towards %v, PDU of %d bytes dropped", e.cfg.ID, key.node, builders[key].pdu.Size)
				continue
			}
			acids[key.node] = acid
		}
		u.dlTx.InsertPdu(acid, key.cw, builders[key].pdu)
	}
}

func (e *Enb) recordUtilization(dir sim.Direction, s *sched.Scheduler, now int64) {
	total := e.cfg.Mac.Grid.ResourceBlocks * e.cfg.Mac.Grid.Remotes
	used := s.UsedBlocks()
	if total > 0 {
		e.cfg.Metrics.Utilization[dir] = append(e.cfg.Metrics.Utilization[dir], float64(used)/float64(total))
	}
	e.cfg.Observer.Scheduled(now, dir, used, total)
}

func countFeedback(m *sim.Metrics, dir sim.Direction, outcome harq.FeedbackOutcome) {
	switch outcome {
	case harq.FeedbackAcked:
		m.HarqAcks[dir]++
	case harq.FeedbackBuffered:
		m.HarqNacks[dir]++
	case harq.FeedbackDropped:
		m.HarqNacks[dir]++
		m.HarqFailures[dir]++
	}
}
