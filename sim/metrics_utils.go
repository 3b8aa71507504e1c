// sim/metrics_utils.go
package sim

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

// SampleSummary condenses a sample set.
type SampleSummary struct {
	Count  int
	Mean   float64
	StdDev float64
	P50    float64
	P95    float64
	Max    float64
}

// SummarizeSamples computes count, mean, standard deviation, median, 95th percentile and max.
// The input is not modified. An empty input yields a zero summary.
func SummarizeSamples(samples []float64) SampleSummary {
	if len(samples) == 0 {
		return SampleSummary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	s := SampleSummary{
		Count: len(sorted),
		Max:   sorted[len(sorted)-1],
		P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		s.StdDev = 0
	}
	return s
}

// SaveSamples writes samples as a comma-separated line to fileName.
func SaveSamples(samples []float64, fileName string) error {
	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", fileName, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logrus.Warnf("closing %s: %v", fileName, closeErr)
		}
	}()

	writer := bufio.NewWriter(file)
	for _, f := range samples {
		if _, err := fmt.Fprint(writer, f, ", "); err != nil {
			return fmt.Errorf("writing %s: %w", fileName, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", fileName, err)
	}
	logrus.Debugf("wrote %d samples to %s", len(samples), fileName)
	return nil
}
