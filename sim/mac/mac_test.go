package mac

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/harq"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

const (
	enbID = sim.MacNodeID(1)
	ueA   = sim.MacNodeID(1025)
	ueB   = sim.MacNodeID(1026)
)

// recorder is a Transport that keeps everything sent.
type recorder struct {
	msgs []sim.Message
}

func (r *recorder) Send(m sim.Message) { r.msgs = append(r.msgs, m) }

// take returns and forgets the recorded messages.
func (r *recorder) take() []sim.Message {
	out := r.msgs
	r.msgs = nil
	return out
}

func ofType[T sim.Message](msgs []sim.Message) []T {
	var out []T
	for _, m := range msgs {
		if t, ok := m.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// sink is an UpperLayer that records deliveries and never has SDUs on demand.
type sink struct {
	got []sim.Sdu
}

func (s *sink) RequestSdu(sim.MacCID, int) (sim.Sdu, bool) { return sim.Sdu{}, false }

func (s *sink) Deliver(_ sim.MacNodeID, sdu sim.Sdu, _ int64) { s.got = append(s.got, sdu) }

type harqEvent struct {
	owner   sim.MacNodeID
	unit    harq.UnitID
	outcome harq.FeedbackOutcome
}

// observed is an Observer that records HARQ outcomes and RAC steps.
type observed struct {
	NoopObserver
	harq []harqEvent
	rac  []RacEvent
}

func (o *observed) HarqOutcome(_ int64, owner, _ sim.MacNodeID, _ sim.Direction, unit harq.UnitID, outcome harq.FeedbackOutcome) {
	o.harq = append(o.harq, harqEvent{owner, unit, outcome})
}

func (o *observed) RacStep(_ int64, _ sim.MacNodeID, ev RacEvent) { o.rac = append(o.rac, ev) }
