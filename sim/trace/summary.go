package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalGrants     int
	RetxGrants      int
	MeanGrantBytes  float64
	MaxGrantBytes   int
	UniqueGrantees  int
	GrantsPerUe     map[string]int // terminal → grants received
	BytesPerDir     map[string]int // direction → granted bytes
	HarqOutcomes    map[string]int // outcome → count
	RacEvents       map[string]int // event → count
	HarqFailureRate float64        // dropped / (acked + dropped)
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		GrantsPerUe:  make(map[string]int),
		BytesPerDir:  make(map[string]int),
		HarqOutcomes: make(map[string]int),
		RacEvents:    make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalGrants = len(st.Grants)
	if len(st.Grants) > 0 {
		total := 0
		for _, g := range st.Grants {
			summary.GrantsPerUe[g.Ue]++
			summary.BytesPerDir[g.Direction] += g.Bytes
			if g.Retransmission {
				summary.RetxGrants++
			}
			total += g.Bytes
			if g.Bytes > summary.MaxGrantBytes {
				summary.MaxGrantBytes = g.Bytes
			}
		}
		summary.MeanGrantBytes = float64(total) / float64(len(st.Grants))
	}
	summary.UniqueGrantees = len(summary.GrantsPerUe)

	for _, h := range st.Harq {
		summary.HarqOutcomes[h.Outcome]++
	}
	if done := summary.HarqOutcomes["acked"] + summary.HarqOutcomes["dropped"]; done > 0 {
		summary.HarqFailureRate = float64(summary.HarqOutcomes["dropped"]) / float64(done)
	}

	for _, r := range st.Rac {
		summary.RacEvents[r.Event]++
	}
	return summary
}
