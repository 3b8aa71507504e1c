package sim

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeSamples_Empty_ZeroSummary(t *testing.T) {
	s := SummarizeSamples(nil)
	if s.Count != 0 || s.Mean != 0 || s.Max != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
}

func TestSummarizeSamples_KnownValues(t *testing.T) {
	// GIVEN samples 1..10 in reverse order
	samples := []float64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}

	// WHEN summarized
	s := SummarizeSamples(samples)

	// THEN the statistics match and the input is untouched
	assert.Equal(t, 10, s.Count)
	assert.InDelta(t, 5.5, s.Mean, 1e-9)
	assert.Equal(t, 10.0, s.Max)
	assert.Equal(t, 5.0, s.P50)
	assert.Equal(t, 10.0, s.P95)
	assert.InDelta(t, math.Sqrt(82.5/9), s.StdDev, 1e-9)
	assert.Equal(t, 10.0, samples[0], "input must not be sorted in place")
}

func TestSummarizeSamples_Single_ZeroStdDev(t *testing.T) {
	s := SummarizeSamples([]float64{3})
	assert.Equal(t, 3.0, s.Mean)
	assert.Equal(t, 0.0, s.StdDev)
}

func TestSaveSamples_WritesCommaSeparated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delays.txt")
	if err := SaveSamples([]float64{1, 2.5}, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "1, 2.5, ", string(data))
}

func TestMetrics_Print_ReportsDirections(t *testing.T) {
	m := NewMetrics()
	m.DeliveredSdus[DL] = 3
	m.DeliveredBytes[DL] = 300
	m.HarqFailures[UL] = 1
	m.SduDelays[DL] = []float64{2, 4}

	var buf bytes.Buffer
	m.Print(&buf, 100)
	out := buf.String()

	for _, want := range []string{"--- DL ---", "3 SDUs, 300 bytes", "3.00 bytes/TTI", "HARQ failures        : 1", "mean 3.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
