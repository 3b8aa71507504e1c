// Package observability exposes MAC decisions as Prometheus metrics and wires
// OpenTelemetry tracing for simulation runs.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/harq"
	"github.com/lte-sim/lte-sim/sim/mac"
)

// MacCollector bundles Prometheus metrics for MAC scheduling. It implements mac.Observer.
type MacCollector struct {
	gatherer prometheus.Gatherer

	Grants       *prometheus.CounterVec
	GrantedBytes *prometheus.CounterVec
	HarqOutcomes *prometheus.CounterVec
	RacSteps     *prometheus.CounterVec
	Utilization  *prometheus.HistogramVec

	DeliveredBytes *prometheus.GaugeVec
	DeliveredSdus  *prometheus.GaugeVec
	QueueDrops     prometheus.Gauge
}

var _ mac.Observer = (*MacCollector)(nil)

// NewMacCollector registers MAC metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewMacCollector(reg prometheus.Registerer) (*MacCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	grants, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_grants_total",
		Help: "Grants issued by the base station, labeled by direction and kind (new, retx).",
	}, []string{"direction", "kind"}), "mac_grants_total")
	if err != nil {
		return nil, err
	}
	granted, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_granted_bytes_total",
		Help: "Bytes granted to terminals, labeled by direction.",
	}, []string{"direction"}), "mac_granted_bytes_total")
	if err != nil {
		return nil, err
	}
	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_harq_feedback_total",
		Help: "HARQ feedback applied to transmit units, labeled by direction and outcome.",
	}, []string{"direction", "outcome"}), "mac_harq_feedback_total")
	if err != nil {
		return nil, err
	}
	rac, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_rac_steps_total",
		Help: "Random-access procedure steps, labeled by event.",
	}, []string{"event"}), "mac_rac_steps_total")
	if err != nil {
		return nil, err
	}
	util, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mac_block_utilization_ratio",
		Help:    "Fraction of resource blocks granted per TTI, labeled by scheduler direction.",
		Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	}, []string{"direction"}), "mac_block_utilization_ratio")
	if err != nil {
		return nil, err
	}
	bytes, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mac_delivered_bytes",
		Help: "Payload bytes delivered to the upper layer over the run, labeled by direction.",
	}, []string{"direction"}), "mac_delivered_bytes")
	if err != nil {
		return nil, err
	}
	sdus, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mac_delivered_sdus",
		Help: "Complete SDUs delivered to the upper layer over the run, labeled by direction.",
	}, []string{"direction"}), "mac_delivered_sdus")
	if err != nil {
		return nil, err
	}
	drops, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mac_queue_drops",
		Help: "SDUs dropped on real-queue overflow over the run.",
	}), "mac_queue_drops")
	if err != nil {
		return nil, err
	}

	return &MacCollector{
		gatherer:       gatherer,
		Grants:         grants,
		GrantedBytes:   granted,
		HarqOutcomes:   outcomes,
		RacSteps:       rac,
		Utilization:    util,
		DeliveredBytes: bytes,
		DeliveredSdus:  sdus,
		QueueDrops:     drops,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MacCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// GrantIssued implements mac.Observer.
func (c *MacCollector) GrantIssued(_ int64, g *sim.Grant) {
	if c == nil || c.Grants == nil {
		return
	}
	kind := "new"
	if g.Retransmission {
		kind = "retx"
	}
	c.Grants.WithLabelValues(g.Dir.String(), kind).Inc()
	c.GrantedBytes.WithLabelValues(g.Dir.String()).Add(float64(g.TotalBytes()))
}

// HarqOutcome implements mac.Observer.
func (c *MacCollector) HarqOutcome(_ int64, _, _ sim.MacNodeID, dir sim.Direction, _ harq.UnitID, outcome harq.FeedbackOutcome) {
	if c == nil || c.HarqOutcomes == nil {
		return
	}
	c.HarqOutcomes.WithLabelValues(dir.String(), outcome.String()).Inc()
}

// RacStep implements mac.Observer.
func (c *MacCollector) RacStep(_ int64, _ sim.MacNodeID, ev mac.RacEvent) {
	if c == nil || c.RacSteps == nil {
		return
	}
	c.RacSteps.WithLabelValues(ev.String()).Inc()
}

// Scheduled implements mac.Observer.
func (c *MacCollector) Scheduled(_ int64, dir sim.Direction, used, total int) {
	if c == nil || c.Utilization == nil || total <= 0 {
		return
	}
	c.Utilization.WithLabelValues(dir.String()).Observe(float64(used) / float64(total))
}

// ObserveRun publishes the run totals of m.
func (c *MacCollector) ObserveRun(m *sim.Metrics) {
	if c == nil || m == nil {
		return
	}
	for _, dir := range []sim.Direction{sim.DL, sim.UL, sim.D2D} {
		c.DeliveredBytes.WithLabelValues(dir.String()).Set(float64(m.DeliveredBytes[dir]))
		c.DeliveredSdus.WithLabelValues(dir.String()).Set(float64(m.DeliveredSdus[dir]))
	}
	c.QueueDrops.Set(float64(m.QueueDrops))
}

// WriteTextfile dumps every gathered metric to path in the Prometheus text format.
func (c *MacCollector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
