package harq

import (
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lte-sim/lte-sim/sim"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

const (
	enb = sim.MacNodeID(1)
	ue  = sim.MacNodeID(1025)
)

func requireInvariant(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(error)
		var inv *sim.InvariantError
		if !ok || !errors.As(err, &inv) {
			t.Fatalf("expected *sim.InvariantError panic, got %v", r)
		}
	}()
	fn()
}

func sendAll(b *TxBuffer, now int64) []*sim.MacPdu {
	var out []*sim.MacPdu
	b.SendSelectedDown(now, func(p *sim.MacPdu) { out = append(out, p) })
	return out
}

func TestTxBuffer_AckFreesUnit(t *testing.T) {
	// GIVEN a PDU inserted and sent
	b := NewTxBuffer(enb, ue, sim.DL, 8, 3)
	acid, ok := b.FirstAvailable()
	require.True(t, ok)
	b.InsertPdu(acid, 0, &sim.MacPdu{Size: 120})
	assert.Equal(t, TxSelected, b.Status(acid, 0))
	sent := sendAll(b, 10)
	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].TxNumber)
	assert.Equal(t, TxWaiting, b.Status(acid, 0))

	// WHEN an ACK arrives
	out := b.ReceiveFeedback(acid, 0, true)

	// THEN the unit is empty again
	assert.Equal(t, FeedbackAcked, out)
	assert.Equal(t, TxEmpty, b.Status(acid, 0))
	assert.True(t, b.ProcessEmpty(acid))
}

func TestTxBuffer_RetransmitThenDropAfterMaxRetransmissions(t *testing.T) {
	// GIVEN maxRetransmissions = 3
	b := NewTxBuffer(ue, enb, sim.UL, 8, 3)
	b.InsertPdu(0, 0, &sim.MacPdu{Size: 80})

	// WHEN the PDU is NACKed on transmissions 1, 2 and 3
	for tx := 1; tx <= 3; tx++ {
		sent := sendAll(b, int64(tx))
		require.Len(t, sent, 1)
		assert.Equal(t, tx, sent[0].TxNumber)
		assert.Equal(t, FeedbackBuffered, b.ReceiveFeedback(0, 0, false), "tx %d", tx)
		assert.Equal(t, []UnitInfo{{UnitID: UnitID{0, 0}, PduLength: 80}}, b.ReadyUnits())
		assert.True(t, b.MarkSelected(UnitID{0, 0}))
	}

	// AND the fourth transmission is NACKed too
	_, retx := b.SendSelectedDown(4, func(*sim.MacPdu) {})
	assert.Equal(t, 1, retx)
	out := b.ReceiveFeedback(0, 0, false)

	// THEN the unit is dropped and reported as a failure
	assert.Equal(t, FeedbackDropped, out)
	assert.Equal(t, TxEmpty, b.Status(0, 0))
	assert.Empty(t, b.ReadyUnits())
}

func TestTxBuffer_StaleFeedback_Ignored(t *testing.T) {
	b := NewTxBuffer(enb, ue, sim.DL, 2, 3)
	assert.Equal(t, FeedbackIgnored, b.ReceiveFeedback(1, 0, true))

	b.InsertPdu(1, 0, &sim.MacPdu{Size: 10})
	assert.Equal(t, FeedbackIgnored, b.ReceiveFeedback(1, 0, false), "selected but not yet sent")
}

func TestTxBuffer_FirstAvailable_SkipsBusyProcesses(t *testing.T) {
	b := NewTxBuffer(enb, ue, sim.DL, 3, 3)
	b.InsertPdu(0, 0, &sim.MacPdu{Size: 10})
	b.InsertPdu(1, 1, &sim.MacPdu{Size: 10})

	acid, ok := b.FirstAvailable()
	assert.True(t, ok)
	assert.Equal(t, 2, acid)
	assert.Equal(t, []sim.Codeword{0}, b.EmptyUnits(1))

	b.InsertPdu(2, 0, &sim.MacPdu{Size: 10})
	_, ok = b.FirstAvailable()
	assert.False(t, ok)
}

func TestTxBuffer_InsertIntoBusyUnit_Invariant(t *testing.T) {
	b := NewTxBuffer(enb, ue, sim.DL, 2, 3)
	b.InsertPdu(0, 0, &sim.MacPdu{Size: 10})
	requireInvariant(t, func() { b.InsertPdu(0, 0, &sim.MacPdu{Size: 10}) })
}

func TestTxBuffer_AcidOutOfRange_Invariant(t *testing.T) {
	b := NewTxBuffer(enb, ue, sim.DL, 8, 3)
	requireInvariant(t, func() { b.Status(8, 0) })
	requireInvariant(t, func() { b.ReceiveFeedback(-1, 0, true) })
	requireInvariant(t, func() { b.Status(0, 2) })
}

func TestTxBuffer_MarkSelected_OnlyBuffered(t *testing.T) {
	b := NewTxBuffer(enb, ue, sim.DL, 2, 3)
	b.InsertPdu(0, 0, &sim.MacPdu{Size: 10})
	sendAll(b, 1)
	assert.False(t, b.MarkSelected(UnitID{0, 0}), "waiting unit is not selectable")
	assert.Equal(t, TxWaiting, b.Status(0, 0))
}

func TestTxBuffer_ForceDrop(t *testing.T) {
	b := NewTxBuffer(ue, 1026, sim.D2D, 2, 3)
	b.InsertPdu(0, 0, &sim.MacPdu{Size: 10})
	b.InsertPdu(0, 1, &sim.MacPdu{Size: 10})
	b.InsertPdu(1, 0, &sim.MacPdu{Size: 10})

	assert.Equal(t, 2, b.ForceDropProcess(0))
	assert.True(t, b.ProcessEmpty(0))
	assert.Equal(t, 1, b.ForceDropAll())
	assert.False(t, b.ForceDropUnit(1, 0))
}

func TestRxBuffer_FeedbackAfterEvaluationInterval(t *testing.T) {
	// GIVEN an Rx buffer with a 4-TTI evaluation interval and a clean PDU received at t=10
	b := NewRxBuffer(ue, enb, sim.DL, 8, 4)
	b.Enque(&sim.MacPdu{Acid: 3, Cw: 0, Size: 50}, 10)

	// WHEN evaluated before the window elapses
	// THEN no feedback is produced
	assert.Empty(t, b.Evaluate(13))
	assert.Equal(t, RxEvaluating, b.Status(3, 0))

	// WHEN evaluated at t=14
	fb := b.Evaluate(14)

	// THEN an ACK goes back to the sender and the PDU can be extracted once
	require.Len(t, fb, 1)
	assert.True(t, fb[0].Ack)
	assert.Equal(t, ue, fb[0].Src)
	assert.Equal(t, enb, fb[0].Dst)
	assert.Equal(t, 3, fb[0].Acid)
	pdus := b.ExtractCorrectPdus()
	require.Len(t, pdus, 1)
	assert.Empty(t, b.ExtractCorrectPdus())
	assert.Equal(t, RxEmpty, b.Status(3, 0))
}

func TestRxBuffer_CorruptedPdu_NackThenPurge(t *testing.T) {
	b := NewRxBuffer(enb, ue, sim.UL, 8, 1)
	b.Enque(&sim.MacPdu{Acid: 2, Cw: 1, Size: 70, Corrupted: true}, 5)

	assert.Equal(t, 0, b.PurgeCorruptedPdus(5), "nothing corrupted yet")

	fb := b.Evaluate(6)
	require.Len(t, fb, 1)
	assert.False(t, fb[0].Ack)
	assert.Equal(t, 70, fb[0].PduLength)
	assert.Empty(t, b.ExtractCorrectPdus())
	assert.Equal(t, []UnitInfo{{UnitID: UnitID{2, 1}, PduLength: 70}}, b.CorruptedUnits())

	assert.Equal(t, 1, b.PurgeCorruptedPdus(6))
	assert.Equal(t, RxEmpty, b.Status(2, 1))
	assert.Empty(t, b.CorruptedUnits())
}

func TestRxBuffer_PurgeWaitsForWindow(t *testing.T) {
	// an evaluation interval of zero decides in the arrival TTI
	b := NewRxBuffer(enb, ue, sim.UL, 2, 0)
	b.Enque(&sim.MacPdu{Acid: 0, Size: 10, Corrupted: true}, 3)
	require.Len(t, b.Evaluate(3), 1)
	assert.Equal(t, 1, b.PurgeCorruptedPdus(3))
}

func TestRxBuffer_AcidOutOfRange_Invariant(t *testing.T) {
	b := NewRxBuffer(enb, ue, sim.UL, 8, 1)
	requireInvariant(t, func() { b.Enque(&sim.MacPdu{Acid: 8}, 0) })
}

func TestMirrorBuffer_ApplySnapshot_MapsStates(t *testing.T) {
	m := NewMirrorBuffer(1025, 1026, 2)
	m.ApplySnapshot([]UnitSnapshot{
		{UnitID: UnitID{0, 0}, Status: RxEvaluating, PduLength: 30},
		{UnitID: UnitID{0, 1}, Status: RxCorrupted, PduLength: 40},
		{UnitID: UnitID{1, 0}, Status: RxCorrect, PduLength: 50},
	})
	assert.Equal(t, MirrorWaiting, m.Status(0, 0))
	assert.Equal(t, MirrorBuffered, m.Status(0, 1))
	assert.Equal(t, MirrorEmpty, m.Status(1, 0))
	assert.Equal(t, []UnitInfo{{UnitID: UnitID{0, 1}, PduLength: 40}}, m.ReadyUnits())

	m.MarkSelected(UnitID{0, 1})
	assert.Empty(t, m.ReadyUnits())
}

func TestMirrorBuffer_ReceiveFeedback(t *testing.T) {
	m := NewMirrorBuffer(1025, 1026, 2)
	m.ReceiveFeedback(1, 0, false, 60)
	assert.Equal(t, MirrorBuffered, m.Status(1, 0))
	m.ReceiveFeedback(1, 0, true, 60)
	assert.Equal(t, MirrorEmpty, m.Status(1, 0))
}

func TestRxBuffer_Snapshot_FeedsMirror(t *testing.T) {
	// GIVEN a D2D receiver holding a corrupted unit before purge
	rx := NewRxBuffer(1026, 1025, sim.D2D, 2, 0)
	rx.Enque(&sim.MacPdu{Acid: 1, Size: 44, Corrupted: true}, 7)
	rx.Evaluate(7)

	// WHEN its snapshot is applied to the cell's mirror
	m := NewMirrorBuffer(1025, 1026, 2)
	m.ApplySnapshot(rx.Snapshot())

	// THEN the cell sees a unit needing a retransmission
	assert.Equal(t, []UnitInfo{{UnitID: UnitID{1, 0}, PduLength: 44}}, m.ReadyUnits())
}
