package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/harq"
	"github.com/lte-sim/lte-sim/sim/mac"
)

func TestMacCollector_GrantsCountedByKind(t *testing.T) {
	// GIVEN a collector on a private registry
	reg := prometheus.NewRegistry()
	c, err := NewMacCollector(reg)
	require.NoError(t, err)

	// WHEN one new and one retransmission grant are observed
	c.GrantIssued(0, &sim.Grant{Dir: sim.DL, Bytes: [sim.MaxCodewords]int{100, 50}})
	c.GrantIssued(1, &sim.Grant{Dir: sim.DL, Retransmission: true, Bytes: [sim.MaxCodewords]int{80, 0}})

	// THEN each kind is counted once and granted bytes accumulate
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Grants.WithLabelValues("DL", "new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Grants.WithLabelValues("DL", "retx")))
	assert.Equal(t, 230.0, testutil.ToFloat64(c.GrantedBytes.WithLabelValues("DL")))
}

func TestMacCollector_HarqAndRacLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewMacCollector(reg)
	require.NoError(t, err)

	unit := harq.UnitID{Acid: 2}
	c.HarqOutcome(3, 1, 1025, sim.UL, unit, harq.FeedbackAcked)
	c.HarqOutcome(4, 1, 1025, sim.UL, unit, harq.FeedbackDropped)
	c.HarqOutcome(5, 1, 1025, sim.UL, unit, harq.FeedbackDropped)
	c.RacStep(6, 1025, mac.RacRequested)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.HarqOutcomes.WithLabelValues("UL", "acked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.HarqOutcomes.WithLabelValues("UL", "dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RacSteps.WithLabelValues(mac.RacRequested.String())))
}

func TestMacCollector_UtilizationHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewMacCollector(reg)
	require.NoError(t, err)

	// WHEN two TTIs are scheduled and one report has an empty grid
	c.Scheduled(0, sim.DL, 5, 25)
	c.Scheduled(1, sim.DL, 25, 25)
	c.Scheduled(2, sim.DL, 0, 0)

	// THEN only the well-formed reports are sampled
	assert.Equal(t, uint64(2), histogramSampleCount(t, reg, "mac_block_utilization_ratio", map[string]string{"direction": "DL"}))
}

func TestMacCollector_ObserveRunAndTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewMacCollector(reg)
	require.NoError(t, err)

	m := sim.NewMetrics()
	m.DeliveredSdus[sim.UL] = 4
	m.DeliveredBytes[sim.UL] = 400
	m.QueueDrops = 2
	c.ObserveRun(m)

	assert.Equal(t, 400.0, testutil.ToFloat64(c.DeliveredBytes.WithLabelValues("UL")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.DeliveredSdus.WithLabelValues("UL")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.QueueDrops))

	path := filepath.Join(t.TempDir(), "mac.prom")
	require.NoError(t, c.WriteTextfile(path))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, name := range []string{"mac_delivered_bytes", "mac_delivered_sdus", "mac_queue_drops"} {
		assert.True(t, strings.Contains(string(body), name), "expected %q in textfile output", name)
	}
}

func TestNewMacCollector_ReusesRegisteredCollectors(t *testing.T) {
	// GIVEN two collectors built against the same registry
	reg := prometheus.NewRegistry()
	first, err := NewMacCollector(reg)
	require.NoError(t, err)
	second, err := NewMacCollector(reg)
	require.NoError(t, err)

	// WHEN the second records a grant
	second.GrantIssued(0, &sim.Grant{Dir: sim.UL, Bytes: [sim.MaxCodewords]int{10, 0}})

	// THEN the first sees it through the shared vector
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Grants.WithLabelValues("UL", "new")))
}

func TestNewMacCollector_IncompatibleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mac_queue_drops",
		Help: "SDUs dropped on real-queue overflow over the run.",
	})))

	_, err := NewMacCollector(reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mac_queue_drops already registered with incompatible type")
}

func TestMacCollector_NilSafe(t *testing.T) {
	var c *MacCollector
	assert.NotPanics(t, func() {
		c.GrantIssued(0, &sim.Grant{})
		c.HarqOutcome(0, 1, 1025, sim.DL, harq.UnitID{}, harq.FeedbackAcked)
		c.RacStep(0, 1025, mac.RacFailed)
		c.Scheduled(0, sim.DL, 1, 1)
		c.ObserveRun(sim.NewMetrics())
	})
	assert.Nil(t, c.Gatherer())
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "unused")))
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
