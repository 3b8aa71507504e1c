// Package cell drives one base station and its terminals over a simulated channel: it
// owns the event queue, the clock, the traffic sources and the node registry.
package cell

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slices"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/alloc"
	"github.com/lte-sim/lte-sim/sim/amc"
	"github.com/lte-sim/lte-sim/sim/mac"
)

const tracerName = "github.com/lte-sim/lte-sim/sim/cell"

// Options carries the optional collaborators of a cell.
type Options struct {
	Observer  mac.Observer // nil for none
	Tracer    trace.Tracer // nil for the global provider's tracer
	TraceTTIs bool         // one child span per TTI
}

// Cell is a single-cell simulation built from a scenario.
type Cell struct {
	horizon   int64
	buffering sim.BufferingMode
	clock     int64
	queue     EventQueue
	seq       int64
	hasRun    bool

	registry *Registry
	channel  *Channel
	upper    *rlcStub
	amc      *amc.TableAMC
	sources  []*trafficSource
	traffic  *rand.Rand
	metrics  *sim.Metrics

	tracer    trace.Tracer
	traceTTIs bool
	runCtx    context.Context
}

// New validates sc and builds the cell it describes.
func New(sc *sim.Scenario, opts Options) (*Cell, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(sc.Seed))
	c := &Cell{
		horizon:   sc.Horizon,
		buffering: sc.Mac.Buffering,
		registry:  NewRegistry(),
		upper:     newRlcStub(),
		amc:       amc.NewTableAMC(sc.Mac.Grid.Bands),
		traffic:   rng.ForSubsystem(sim.SubsystemTraffic),
		metrics:   sim.NewMetrics(),
		tracer:    opts.Tracer,
		traceTTIs: opts.TraceTTIs,
		runCtx:    context.Background(),
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	obs := opts.Observer
	if obs == nil {
		obs = mac.NoopObserver{}
	}
	c.channel = NewChannel(sc.Channel, rng, func() int64 { return c.clock }, c.schedule)

	ues := slices.Clone(sc.Ues)
	slices.SortFunc(ues, func(a, b sim.UeSpec) int { return int(a.ID) - int(b.ID) })

	if err := c.configureLinks(sc, ues); err != nil {
		return nil, err
	}

	enb := mac.NewEnb(mac.EnbConfig{
		ID:        sc.EnbID,
		Mac:       sc.Mac,
		AMC:       c.amc,
		Conflicts: conflictGraph(sc, ues),
		RNG:       rng,
		Transport: c.channel,
		Upper:     c.upper,
		Observer:  obs,
		Metrics:   c.metrics,
	})
	c.registry.SetEnb(enb)
	c.channel.Register(sc.EnbID)

	for i := range ues {
		u := &ues[i]
		conns := make([]mac.ConnSpec, 0, len(u.Flows))
		for _, f := range u.Flows {
			// both parse cleanly after Validate
			dir, _ := sim.ParseDirection(f.Direction)
			rlc, _ := sim.ParseRlcMode(f.Rlc)
			spec := mac.ConnSpec{
				Cid:             sim.NewMacCID(u.ID, f.LCID),
				Dir:             dir,
				Rlc:             rlc,
				MinReservedRate: int(math.Ceil(f.MinReservedRate)),
				MaxBurst:        f.MaxBurst,
			}
			conns = append(conns, spec)
			c.sources = append(c.sources, &trafficSource{
				cid:     spec.Cid,
				dir:     dir,
				size:    f.SduSize,
				count:   f.Count,
				start:   f.Start,
				sampler: NewArrivalSampler(f.Process, f.Interval),
			})
		}
		enb.AttachUe(u.ID, conns, u.D2DPeer)

		ue := mac.NewUe(mac.UeConfig{
			ID:              u.ID,
			Enb:             sc.EnbID,
			D2DPeer:         u.D2DPeer,
			Mac:             sc.Mac,
			Rand:            rng.ForSubsystem(sim.SubsystemRac(u.ID)),
			CqiReportPeriod: u.CqiReportPeriod,
			DlReport:        amc.FeedbackSample{Cqi: u.DL.Cqi, Rank: u.DL.Rank, Pmi: u.DL.Pmi},
			Transport:       c.channel,
			Upper:           c.upper,
			Observer:        obs,
			Metrics:         c.metrics,
		})
		for _, spec := range conns {
			if spec.Dir == sim.DL {
				continue
			}
			if err := ue.AddConnection(spec); err != nil {
				return nil, fmt.Errorf("terminal %v: %w", u.ID, err)
			}
		}
		c.registry.AddUe(ue)
		c.channel.Register(u.ID)
	}
	logrus.Infof("cell %v: %d terminals, %d traffic sources, horizon %d TTIs", sc.EnbID, len(ues), len(c.sources), sc.Horizon)
	return c, nil
}

// configureLinks installs every terminal's link profiles and MU-MIMO pairs.
func (c *Cell) configureLinks(sc *sim.Scenario, ues []sim.UeSpec) error {
	for i := range ues {
		u := &ues[i]
		for _, dir := range []sim.Direction{sim.DL, sim.UL, sim.D2D} {
			link := u.Link(dir)
			if len(link.Cqi) == 0 {
				continue
			}
			mode, err := sim.ParseTxMode(link.TxMode)
			if err != nil {
				return fmt.Errorf("terminal %v %s link: %w", u.ID, dir, err)
			}
			err = c.amc.SetProfile(u.ID, dir, amc.Profile{
				Cqi: link.Cqi, Rank: link.Rank, Pmi: link.Pmi, TxMode: mode, Bands: link.Bands,
			})
			if err != nil {
				return fmt.Errorf("terminal %v: %w", u.ID, err)
			}
		}
	}
	for _, p := range sc.MuMimoPairs {
		c.amc.SetMuMimoPeer(p[0], p[1], sim.DL)
		c.amc.SetMuMimoPeer(p[0], p[1], sim.UL)
	}
	return nil
}

func conflictGraph(sc *sim.Scenario, ues []sim.UeSpec) *alloc.ConflictGraph {
	g := alloc.NewConflictGraph()
	for _, p := range sc.Conflicts.Pairs {
		g.AddConflict(p[0], p[1])
	}
	if sc.Conflicts.Radius > 0 {
		positions := make(map[sim.MacNodeID]sim.Position, len(ues))
		for _, u := range ues {
			positions[u.ID] = u.Position
		}
		g.ConflictsByDistance(positions, sc.Conflicts.Radius)
	}
	return g
}

func (c *Cell) schedule(e Event) {
	heap.Push(&c.queue, eventEntry{event: e, seqID: c.seq})
	c.seq++
}

// Run simulates the scenario's horizon. An internal invariant violation aborts the run
// and is returned as a *sim.InvariantError; cancelling ctx stops it between events.
func (c *Cell) Run(ctx context.Context) (err error) {
	if c.hasRun {
		panic("Cell.Run() called more than once")
	}
	c.hasRun = true

	ctx, span := c.tracer.Start(ctx, "cell.Run", trace.WithAttributes(
		attribute.Int64("horizon", c.horizon),
		attribute.Int("terminals", len(c.registry.UeIDs())),
	))
	defer span.End()
	c.runCtx = ctx

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		inv, ok := r.(*sim.InvariantError)
		if !ok {
			panic(r)
		}
		logrus.Errorf("cell: run aborted at TTI %d: %v", c.clock, inv)
		span.RecordError(inv)
		span.SetStatus(codes.Error, inv.Error())
		err = inv
	}()

	for _, s := range c.sources {
		if s.start < c.horizon {
			c.schedule(&arrivalEvent{time: s.start, source: s})
		}
	}
	c.schedule(&ttiEvent{time: 0})

	for c.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return fmt.Errorf("cell run stopped at TTI %d: %w", c.clock, err)
		}
		e := heap.Pop(&c.queue).(eventEntry).event
		if e.Timestamp() >= c.horizon {
			break
		}
		c.clock = e.Timestamp()
		e.Execute(c)
	}

	m := c.metrics
	span.SetAttributes(
		attribute.Int("sdus.delivered", m.DeliveredSdus[sim.DL]+m.DeliveredSdus[sim.UL]+m.DeliveredSdus[sim.D2D]),
		attribute.Int("harq.failures", m.HarqFailures[sim.DL]+m.HarqFailures[sim.UL]+m.HarqFailures[sim.D2D]),
	)
	logrus.Debugf("cell: run finished at TTI %d", c.clock)
	return nil
}

func (c *Cell) handleTTI(now int64) {
	if c.traceTTIs {
		_, span := c.tracer.Start(c.runCtx, "cell.TTI", trace.WithAttributes(attribute.Int64("tti", now)))
		defer span.End()
	}
	for _, id := range c.registry.UeIDs() {
		c.registry.Ue(id).HandleTTI(now)
	}
	c.registry.Enb().HandleTTI(now)
	c.schedule(&flushEvent{time: now})
	if now+1 < c.horizon {
		c.schedule(&ttiEvent{time: now + 1})
	}
}

func (c *Cell) handleFlush(now int64) {
	c.registry.Enb().Flush(now)
	for _, id := range c.registry.UeIDs() {
		c.registry.Ue(id).Flush(now)
	}
}

func (c *Cell) handleArrival(e *arrivalEvent) {
	s := e.source
	now := e.time
	if !s.exhausted() {
		sdu := s.next(now)
		c.offer(s, sdu, now)
	}
	if s.exhausted() {
		return
	}
	if t := now + s.sampler.SampleIAT(c.traffic); t < c.horizon {
		c.schedule(&arrivalEvent{time: t, source: s})
	}
}

// offer hands a new SDU to the node that queues it: the base station for downlink,
// the terminal otherwise.
func (c *Cell) offer(s *trafficSource, sdu sim.Sdu, now int64) {
	onDemand := c.buffering == sim.BufferingOnDemand
	if s.dir == sim.DL {
		enb := c.registry.Enb()
		if onDemand {
			c.upper.hold(sdu)
			enb.HandleNewData(sdu.Cid, sdu.Size, now)
			return
		}
		enb.HandleUpperSdu(sdu, now)
		return
	}
	ue := c.registry.Ue(sdu.Cid.Node())
	if ue == nil {
		logrus.Debugf("cell: SDU of detached terminal %v discarded", sdu.Cid.Node())
		return
	}
	if onDemand {
		c.upper.hold(sdu)
		ue.HandleNewData(sdu.Cid, sdu.Size, now)
		return
	}
	ue.HandleUpperSdu(sdu, now)
}

func (c *Cell) deliver(msg sim.Message) {
	n := c.registry.Node(msg.Destination())
	if n == nil {
		logrus.Debugf("cell: %s message to unknown node %v dropped", msg.Kind(), msg.Destination())
		return
	}
	n.Receive(msg, c.clock)
}

// Detach removes a terminal: the base station forgets it, its grants are invalidated
// and its D2D HARQ units dropped.
func (c *Cell) Detach(id sim.MacNodeID) {
	c.registry.Enb().DetachUe(id)
	if u := c.registry.Ue(id); u != nil {
		u.InvalidateGrants()
		u.ForceDropD2D()
	}
	c.registry.RemoveUe(id)
}

// Metrics returns the run-wide statistics.
func (c *Cell) Metrics() *sim.Metrics { return c.metrics }

// Clock returns the TTI of the last executed event.
func (c *Cell) Clock() int64 { return c.clock }

// Horizon returns the number of TTIs the cell simulates.
func (c *Cell) Horizon() int64 { return c.horizon }

func (c *Cell) Enb() *mac.Enb { return c.registry.Enb() }

func (c *Cell) Ue(id sim.MacNodeID) *mac.Ue { return c.registry.Ue(id) }

func (c *Cell) Channel() *Channel { return c.channel }

// Delivered returns the payload bytes handed up for a connection.
func (c *Cell) Delivered(cid sim.MacCID) int64 { return c.upper.delivered[cid] }
