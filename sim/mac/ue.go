package mac

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/amc"
	"github.com/lte-sim/lte-sim/sim/harq"
	"github.com/lte-sim/lte-sim/sim/sched"
)

// UeConfig wires a terminal to its collaborators.
type UeConfig struct {
	ID      sim.MacNodeID
	Enb     sim.MacNodeID
	D2DPeer sim.MacNodeID // NoNode when the terminal has no D2D transmissions
	Mac     sim.MacConfig
	Rand    *rand.Rand // backoff draws

	// CqiReportPeriod is the number of TTIs between downlink CQI reports, 0 for none.
	CqiReportPeriod int
	DlReport        amc.FeedbackSample

	Transport Transport
	Upper     UpperLayer
	Observer  Observer
	Metrics   *sim.Metrics
}

// racState is the terminal side of random access. Counters are in TTIs.
type racState struct {
	requested  bool // waiting for a response
	respTimer  int
	grantTimer int // admitted, waiting for the first grant
	backoff    int
	tries      int
	abandoned  bool // gave up; cleared by new backlog
}

// RacStatus is a read-only view of a terminal's random-access state.
type RacStatus struct {
	Requested bool
	Backoff   int
	Tries     int
	Abandoned bool
}

type heldGrant struct {
	g       *sim.Grant
	counter int // TTIs since arrival, for periodic grants
	uses    int // uses left of a periodic grant
}

// Ue is the terminal MAC.
type Ue struct {
	cfg   UeConfig
	conns *connTable
	lcg   [sim.NumDirections]*sched.LcgScheduler // UL and D2D

	ulTx  *harq.TxBuffer
	d2dTx *harq.TxBuffer // nil without a D2D peer
	dlRx  *harq.RxBuffer
	d2dRx map[sim.MacNodeID]*harq.RxBuffer
	peers []sim.MacNodeID // D2D senders, ascending

	grants   [sim.NumDirections]*heldGrant
	rac      racState
	reported int // total backlog announced by the last buffer status report
}

// NewUe creates a terminal without connections.
func NewUe(cfg UeConfig) *Ue {
	if cfg.Observer == nil {
		cfg.Observer = NoopObserver{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = sim.NewMetrics()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(int64(cfg.ID)))
	}
	hc := cfg.Mac.Harq
	u := &Ue{
		cfg:   cfg,
		conns: newConnTable(),
		ulTx:  harq.NewTxBuffer(cfg.ID, cfg.Enb, sim.UL, hc.UeProcesses, hc.MaxRetransmissions),
		dlRx:  harq.NewRxBuffer(cfg.ID, cfg.Enb, sim.DL, hc.EnbProcesses, hc.EvaluationInterval),
		d2dRx: make(map[sim.MacNodeID]*harq.RxBuffer),
	}
	if cfg.D2DPeer != sim.NoNode {
		u.d2dTx = harq.NewTxBuffer(cfg.ID, cfg.D2DPeer, sim.D2D, hc.UeProcesses, hc.MaxRetransmissions)
	}
	u.lcg[sim.UL] = sched.NewLcgScheduler(cfg.Mac.Headers)
	u.lcg[sim.D2D] = sched.NewLcgScheduler(cfg.Mac.Headers)
	return u
}

// ID returns the node id.
func (u *Ue) ID() sim.MacNodeID { return u.cfg.ID }

// AddConnection registers an uplink or D2D connection.
func (u *Ue) AddConnection(spec ConnSpec) error {
	switch {
	case spec.Cid.Node() != u.cfg.ID:
		return fmt.Errorf("connection %v does not belong to %v", spec.Cid, u.cfg.ID)
	case spec.Dir == sim.DL:
		return fmt.Errorf("connection %v: terminals only hold uplink and D2D queues", spec.Cid)
	case spec.Dir == sim.D2D && u.d2dTx == nil:
		return fmt.Errorf("connection %v: D2D connection without a D2D peer", spec.Cid)
	}
	u.conns.add(spec, sim.NewRealQueue(u.cfg.Mac.QueueCapacity))
	u.lcg[spec.Dir].AddConnection(spec.Cid, spec.Rlc, spec.MinReservedRate, spec.MaxBurst)
	return nil
}

// HandleUpperSdu queues an SDU. It returns false when the real queue overflows.
func (u *Ue) HandleUpperSdu(sdu sim.Sdu, now int64) bool {
	c := u.conns.get(sdu.Cid)
	if c == nil {
		logrus.Warnf("ue %v: SDU for unknown connection %v dropped", u.cfg.ID, sdu.Cid)
		return false
	}
	if !c.rq.PushBack(sdu) {
		u.cfg.Metrics.QueueDrops++
		u.cfg.Metrics.QueueDroppedBytes += int64(sdu.Size)
		logrus.Debugf("ue %v: queue of %v full, %d-byte SDU dropped", u.cfg.ID, sdu.Cid, sdu.Size)
		return false
	}
	c.vq.PushBack(sim.QueueEntry{Size: sdu.Size, Timestamp: now})
	u.rac.abandoned = false
	return true
}

// HandleNewData records that the upper layer holds size more bytes for cid.
func (u *Ue) HandleNewData(cid sim.MacCID, size int, now int64) {
	c := u.conns.get(cid)
	if c == nil {
		logrus.Warnf("ue %v: new data for unknown connection %v ignored", u.cfg.ID, cid)
		return
	}
	c.vq.PushBack(sim.QueueEntry{Size: size, Timestamp: now})
	u.rac.abandoned = false
}

// Backlog returns the bytes queued over all connections.
func (u *Ue) Backlog() int { return u.conns.backlog(nil) }

// Grant returns the grant held for a direction, nil if none.
func (u *Ue) Grant(dir sim.Direction) *sim.Grant {
	if h := u.grants[dir]; h != nil {
		return h.g
	}
	return nil
}

// Harq returns the transmit buffer of a direction, nil for DL or without a D2D peer.
func (u *Ue) Harq(dir sim.Direction) *harq.TxBuffer {
	switch dir {
	case sim.UL:
		return u.ulTx
	case sim.D2D:
		return u.d2dTx
	}
	return nil
}

// Rac returns the random-access state.
func (u *Ue) Rac() RacStatus {
	return RacStatus{Requested: u.rac.requested, Backoff: u.rac.backoff, Tries: u.rac.tries, Abandoned: u.rac.abandoned}
}

// InvalidateGrants drops every held grant.
func (u *Ue) InvalidateGrants() {
	u.grants = [sim.NumDirections]*heldGrant{}
}

// ForceDropD2D discards every D2D HARQ unit, as on a switch back to cellular mode.
func (u *Ue) ForceDropD2D() int {
	if u.d2dTx == nil {
		return 0
	}
	n := u.d2dTx.ForceDropAll()
	u.grants[sim.D2D] = nil
	logrus.Infof("ue %v: %d D2D HARQ units dropped", u.cfg.ID, n)
	return n
}

// Receive handles a message delivered by the lower layer.
func (u *Ue) Receive(msg sim.Message, now int64) {
	switch m := msg.(type) {
	case *sim.Grant:
		if m.Dir != sim.UL && m.Dir != sim.D2D {
			logrus.Warnf("ue %v: %s grant ignored", u.cfg.ID, m.Dir)
			return
		}
		u.grants[m.Dir] = &heldGrant{g: m, uses: m.Expiration}
		u.rac.grantTimer = 0
	case *sim.MacPdu:
		switch m.Dir {
		case sim.DL:
			u.dlRx.Enque(m, now)
		case sim.D2D:
			u.d2dReceiver(m.Src).Enque(m, now)
		default:
			logrus.Warnf("ue %v: %s PDU from %v dropped", u.cfg.ID, m.Dir, m.Src)
		}
	case *sim.HarqFeedback:
		u.handleFeedback(m, now)
	case *sim.RacResponse:
		u.handleRacResponse(m.Success, now)
	default:
		logrus.Warnf("ue %v: unexpected %s message from %v", u.cfg.ID, msg.Kind(), msg.Source())
	}
}

func (u *Ue) d2dReceiver(src sim.MacNodeID) *harq.RxBuffer {
	rx := u.d2dRx[src]
	if rx == nil {
		hc := u.cfg.Mac.Harq
		rx = harq.NewRxBuffer(u.cfg.ID, src, sim.D2D, hc.UeProcesses, hc.EvaluationInterval)
		u.d2dRx[src] = rx
		i, _ := slices.BinarySearch(u.peers, src)
		u.peers = slices.Insert(u.peers, i, src)
	}
	return rx
}

func (u *Ue) handleFeedback(fb *sim.HarqFeedback, now int64) {
	tx := u.Harq(fb.Dir)
	if tx == nil || tx.Peer() != fb.Src {
		logrus.Warnf("ue %v: %s feedback from %v has no matching buffer", u.cfg.ID, fb.Dir, fb.Src)
		return
	}
	outcome := tx.ReceiveFeedback(fb.Acid, fb.Cw, fb.Ack)
	countFeedback(u.cfg.Metrics, fb.Dir, outcome)
	if outcome == harq.FeedbackDropped && fb.Dir == sim.UL {
		// the lost PDU may have carried the only buffer status report
		u.reported = 0
	}
	u.cfg.Observer.HarqOutcome(now, u.cfg.ID, fb.Src, fb.Dir, harq.UnitID{Acid: fb.Acid, Cw: fb.Cw}, outcome)
}

// HandleTTI runs one TTI: drain HARQ reception, report channel quality, use held grants,
// run random access and purge corrupted receptions. Flush must follow within the same TTI.
func (u *Ue) HandleTTI(now int64) {
	u.drainRx(now)
	if p := u.cfg.CqiReportPeriod; p > 0 && now%int64(p) == 0 && len(u.cfg.DlReport.Cqi) > 0 {
		u.cfg.Transport.Send(&sim.CqiReport{
			Ue: u.cfg.ID, Enb: u.cfg.Enb, Dir: sim.DL, Cqi: u.cfg.DlReport.Cqi, Rank: u.cfg.DlReport.Rank,
		})
	}
	u.lcg[sim.UL].Tick()
	u.lcg[sim.D2D].Tick()
	u.useGrant(sim.UL, now)
	u.useGrant(sim.D2D, now)
	u.checkRac(now)

	u.dlRx.PurgeCorruptedPdus(now)
	for _, p := range u.peers {
		u.d2dRx[p].PurgeCorruptedPdus(now)
	}
}

// Flush hands every selected uplink and D2D HARQ unit to the lower layer.
func (u *Ue) Flush(now int64) {
	for _, dir := range []sim.Direction{sim.UL, sim.D2D} {
		tx := u.Harq(dir)
		if tx == nil {
			continue
		}
		sent, retx := tx.SendSelectedDown(now, func(p *sim.MacPdu) { u.cfg.Transport.Send(p) })
		u.cfg.Metrics.Transmissions[dir] += sent - retx
		u.cfg.Metrics.Retransmissions[dir] += retx
	}
}

func (u *Ue) drainRx(now int64) {
	for _, fb := range u.dlRx.Evaluate(now) {
		u.cfg.Transport.Send(fb)
	}
	for _, pdu := range u.dlRx.ExtractCorrectPdus() {
		deliverSdus(pdu, u.cfg.ID, u.cfg.Upper, u.cfg.Metrics, now)
	}
	for _, p := range u.peers {
		rx := u.d2dRx[p]
		for _, fb := range rx.Evaluate(now) {
			u.cfg.Transport.Send(fb)
			mirrored := *fb
			mirrored.Dst = u.cfg.Enb
			mirrored.Peer = p
			mirrored.Mirrored = true
			u.cfg.Transport.Send(&mirrored)
		}
		for _, pdu := range rx.ExtractCorrectPdus() {
			deliverSdus(pdu, u.cfg.ID, u.cfg.Upper, u.cfg.Metrics, now)
		}
		u.cfg.Transport.Send(&harq.MirrorSnapshot{Receiver: u.cfg.ID, Sender: p, Enb: u.cfg.Enb, Units: rx.Snapshot()})
	}
}

// useGrant consumes the grant of a direction if one is due this TTI.
func (u *Ue) useGrant(dir sim.Direction, now int64) {
	h := u.grants[dir]
	if h == nil {
		return
	}
	g := h.g
	if g.Periodic {
		due := h.counter%max(g.Period, 1) == 0
		h.counter++
		if !due {
			return
		}
		h.uses--
		if h.uses <= 0 {
			u.grants[dir] = nil
		}
	} else {
		u.grants[dir] = nil
	}
	u.transmit(dir, g, now)
}

// transmit uses a grant: a buffered unit of the granted process is retransmitted when
// the grant can carry it, otherwise the grant carries new data in a free process.
func (u *Ue) transmit(dir sim.Direction, g *sim.Grant, now int64) {
	tx := u.Harq(dir)
	if tx == nil {
		logrus.Warnf("ue %v: %s grant without a transmit buffer", u.cfg.ID, dir)
		return
	}
	acid := g.Acid
	if acid >= 0 && acid < tx.Processes() && u.retransmit(tx, dir, acid, g) {
		return
	}
	if acid < 0 || acid >= tx.Processes() || !tx.ProcessEmpty(acid) {
		var ok bool
		if acid, ok = tx.FirstAvailable(); !ok {
			u.cfg.Metrics.NoProcessDrops[dir]++
			logrus.Warnf("ue %v: no free %s HARQ process, %d-byte grant unused", u.cfg.ID, dir, g.TotalBytes())
			return
		}
	}

	codewords := min(max(g.Codewords, 1), sim.MaxCodewords)
	allocs := u.lcg[dir].Schedule(u.conns.Queue, g.Bytes, codewords)
	builders := make([]*pduBuilder, codewords)
	for cw := range builders {
		builders[cw] = newPduBuilder(u.cfg.Mac.Headers, u.cfg.ID, tx.Peer(), dir, now)
	}
	sent := 0
	for _, a := range allocs {
		c := u.conns.get(a.Cid)
		b := builders[a.Cw]
		data := a.Bytes - u.cfg.Mac.Headers.Rlc(c.spec.Rlc)
		if b.empty() {
			data -= u.cfg.Mac.Headers.Mac
		}
		sent += data
		for data > 0 {
			sdu, ok := takeSegment(c, data, u.cfg.Mac.Buffering, u.cfg.Upper)
			if !ok {
				sim.Invariantf("mac.Ue", "%v: %d granted bytes left but the real queue is empty", a.Cid, data)
			}
			b.add(sdu, c.spec.Rlc)
			data -= sdu.Size
		}
	}
	if dir == sim.UL {
		builders[0].pdu.Bsr = u.bufferStatus()
	} else {
		// the base station drains its view of the backlog by what it granted
		u.reported = max(u.reported-sent, 0)
	}
	for cw, b := range builders {
		if b.empty() && !(dir == sim.UL && cw == 0) {
			continue
		}
		tx.InsertPdu(acid, sim.Codeword(cw), b.pdu)
	}
}

// retransmit selects the buffered units of acid that fit the grant and drops the rest.
// It reports whether anything was selected.
func (u *Ue) retransmit(tx *harq.TxBuffer, dir sim.Direction, acid int, g *sim.Grant) bool {
	var sel []harq.UnitID
	for cw := 0; cw < sim.MaxCodewords; cw++ {
		c := sim.Codeword(cw)
		if tx.Status(acid, c) != harq.TxBuffered {
			continue
		}
		if tx.PduLength(acid, c) <= g.Bytes[c] {
			sel = append(sel, harq.UnitID{Acid: acid, Cw: c})
			continue
		}
		tx.ForceDropUnit(acid, c)
		u.cfg.Metrics.HarqFailures[dir]++
		logrus.Debugf("ue %v: %s unit %d/%d does not fit %d granted bytes, dropped", u.cfg.ID, dir, acid, cw, g.Bytes[c])
	}
	if len(sel) == 0 {
		if g.Retransmission {
			logrus.Debugf("ue %v: retransmission grant for %s process %d finds nothing buffered", u.cfg.ID, dir, acid)
		}
		return false
	}
	tx.MarkSelected(sel...)
	return true
}

// bufferStatus reports the backlog of every connection, zeros included.
func (u *Ue) bufferStatus() []sim.BsrEntry {
	out := make([]sim.BsrEntry, 0, len(u.conns.cids))
	total := 0
	for _, cid := range u.conns.cids {
		n := u.conns.byCid[cid].vq.Occupancy()
		out = append(out, sim.BsrEntry{Cid: cid, Bytes: n})
		total += n
	}
	u.reported = total
	return out
}

// checkRac starts or advances random access when the terminal has backlog the base
// station does not know about and no grant to report it with.
func (u *Ue) checkRac(now int64) {
	if u.rac.abandoned || u.Backlog() == 0 {
		return
	}
	if u.grants[sim.UL] != nil || u.grants[sim.D2D] != nil || u.reported > 0 {
		return
	}
	if u.rac.requested {
		u.rac.respTimer--
		if u.rac.respTimer <= 0 {
			u.rac.requested = false
			logrus.Debugf("ue %v: RAC response window expired", u.cfg.ID)
			u.racFailed(now)
		}
		return
	}
	if u.rac.grantTimer > 0 {
		u.rac.grantTimer--
		return
	}
	if u.rac.backoff > 0 {
		u.rac.backoff--
		return
	}
	u.cfg.Transport.Send(&sim.RacRequest{Ue: u.cfg.ID, Enb: u.cfg.Enb})
	u.rac.requested = true
	u.rac.respTimer = u.cfg.Mac.Rac.ResponseWindow
	u.cfg.Metrics.RacRequests++
	u.cfg.Observer.RacStep(now, u.cfg.ID, RacRequested)
}

func (u *Ue) handleRacResponse(success bool, now int64) {
	if !u.rac.requested {
		logrus.Debugf("ue %v: stale RAC response ignored", u.cfg.ID)
		return
	}
	u.rac.requested = false
	if success {
		u.rac.tries = 0
		u.rac.backoff = 0
		u.rac.grantTimer = u.cfg.Mac.Rac.ResponseWindow
		return
	}
	u.racFailed(now)
}

// racFailed counts a failed attempt and draws a new backoff in [MinBackoff, MaxBackoff].
// After the last tryout the procedure is abandoned until new backlog arrives.
func (u *Ue) racFailed(now int64) {
	rc := u.cfg.Mac.Rac
	u.cfg.Metrics.RacFailures++
	u.rac.tries++
	if u.rac.tries >= rc.MaxTryouts {
		u.rac = racState{abandoned: true}
		u.cfg.Metrics.RacAbandoned++
		logrus.Warnf("ue %v: random access abandoned after %d tryouts", u.cfg.ID, rc.MaxTryouts)
		u.cfg.Observer.RacStep(now, u.cfg.ID, RacAbandoned)
		return
	}
	u.rac.backoff = rc.MinBackoff + u.cfg.Rand.Intn(rc.MaxBackoff-rc.MinBackoff+1)
	u.cfg.Observer.RacStep(now, u.cfg.ID, RacFailed)
}
