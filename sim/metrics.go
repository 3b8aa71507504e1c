// Tracks run-wide MAC statistics: delivered traffic, HARQ outcomes, drops and RAC activity.

package sim

import (
	"fmt"
	"io"
)

// Metrics aggregates statistics about the run for final reporting.
// Arrays are indexed by Direction.
type Metrics struct {
	DeliveredSdus  [NumDirections]int
	DeliveredBytes [NumDirections]int64

	Transmissions   [NumDirections]int // first transmissions of a HARQ unit
	Retransmissions [NumDirections]int
	HarqAcks        [NumDirections]int
	HarqNacks       [NumDirections]int
	HarqFailures    [NumDirections]int // units dropped after exhausting retransmissions
	NoProcessDrops  [NumDirections]int // PDUs discarded because no HARQ process was free

	GrantsIssued [NumDirections]int
	RetxGrants   [NumDirections]int

	QueueDrops        int
	QueueDroppedBytes int64

	RacRequests  int
	RacFailures  int
	RacAbandoned int

	// Per-TTI fraction of resource blocks granted, per scheduler direction (DL, UL).
	Utilization [NumDirections][]float64
	// SDU delay in TTIs from creation to delivery.
	SduDelays [NumDirections][]float64
}

// NewMetrics returns an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Print writes the aggregated metrics for a run of ttis TTIs.
func (m *Metrics) Print(w io.Writer, ttis int64) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "TTIs simulated       : %d\n", ttis)
	for _, dir := range []Direction{DL, UL, D2D} {
		fmt.Fprintf(w, "--- %s ---\n", dir)
		fmt.Fprintf(w, "Delivered            : %d SDUs, %d bytes\n", m.DeliveredSdus[dir], m.DeliveredBytes[dir])
		if ttis > 0 {
			fmt.Fprintf(w, "Throughput           : %.2f bytes/TTI\n", float64(m.DeliveredBytes[dir])/float64(ttis))
		}
		fmt.Fprintf(w, "Grants               : %d (%d retransmission)\n", m.GrantsIssued[dir], m.RetxGrants[dir])
		fmt.Fprintf(w, "HARQ tx / retx       : %d / %d\n", m.Transmissions[dir], m.Retransmissions[dir])
		fmt.Fprintf(w, "HARQ ack / nack      : %d / %d\n", m.HarqAcks[dir], m.HarqNacks[dir])
		fmt.Fprintf(w, "HARQ failures        : %d\n", m.HarqFailures[dir])
		fmt.Fprintf(w, "No-process drops     : %d\n", m.NoProcessDrops[dir])
		if d := SummarizeSamples(m.SduDelays[dir]); d.Count > 0 {
			fmt.Fprintf(w, "SDU delay (TTIs)     : mean %.2f p50 %.2f p95 %.2f max %.2f\n", d.Mean, d.P50, d.P95, d.Max)
		}
		if u := SummarizeSamples(m.Utilization[dir]); u.Count > 0 {
			fmt.Fprintf(w, "RB utilization       : mean %.3f stddev %.3f\n", u.Mean, u.StdDev)
		}
	}
	fmt.Fprintln(w, "--- common ---")
	fmt.Fprintf(w, "Queue drops          : %d SDUs, %d bytes\n", m.QueueDrops, m.QueueDroppedBytes)
	fmt.Fprintf(w, "RAC requests         : %d (%d failed, %d abandoned)\n", m.RacRequests, m.RacFailures, m.RacAbandoned)
}
