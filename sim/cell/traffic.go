package cell

import (
	"math"
	"math/rand"

	"github.com/lte-sim/lte-sim/sim"
)

// ArrivalSampler generates inter-arrival times of a traffic source.
type ArrivalSampler interface {
	// SampleIAT returns the next inter-arrival time in TTIs.
	// Always returns a positive value (>= 1).
	SampleIAT(rng *rand.Rand) int64
}

// ConstantSampler spaces SDUs evenly.
type ConstantSampler struct {
	interval int64
}

func (s *ConstantSampler) SampleIAT(*rand.Rand) int64 { return s.interval }

// PoissonSampler generates exponentially-distributed inter-arrival times.
type PoissonSampler struct {
	mean float64 // TTIs
}

func (s *PoissonSampler) SampleIAT(rng *rand.Rand) int64 {
	iat := int64(math.Round(rng.ExpFloat64() * s.mean))
	if iat < 1 {
		return 1
	}
	return iat
}

// NewArrivalSampler creates the sampler of an arrival process with the given mean
// interval in TTIs. Panics on unknown process names; scenarios are validated first.
func NewArrivalSampler(process string, interval float64) ArrivalSampler {
	switch process {
	case "", "constant":
		return &ConstantSampler{interval: max(int64(math.Round(interval)), 1)}
	case "poisson":
		return &PoissonSampler{mean: interval}
	default:
		panic("unknown arrival process: " + process)
	}
}

// trafficSource feeds one connection with SDUs of a fixed size.
type trafficSource struct {
	cid       sim.MacCID
	dir       sim.Direction
	size      int
	start     int64
	count     int // 0 for unlimited
	sampler   ArrivalSampler
	generated int
}

// next returns the SDU produced at now and advances the source.
func (s *trafficSource) next(now int64) sim.Sdu {
	s.generated++
	return sim.Sdu{Cid: s.cid, Size: s.size, Seq: uint64(s.generated), Created: now}
}

func (s *trafficSource) exhausted() bool {
	return s.count > 0 && s.generated >= s.count
}
