package amc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lte-sim/lte-sim/sim"
)

const ue = sim.MacNodeID(1025)

func TestTableAMC_RequiredRbs_InvertsBytesOnRbs(t *testing.T) {
	// GIVEN every valid CQI with positive capacity
	for cqi := 1; cqi <= sim.MaxCqi; cqi++ {
		a := NewTableAMC(4)
		require.NoError(t, a.SetProfile(ue, sim.DL, Profile{Cqi: []int{cqi}}))
		for k := 0; k <= 30; k++ {
			// WHEN bytes on k blocks are converted back to blocks
			bytes := a.BytesOnRbs(ue, 0, 0, k, sim.DL)
			got := a.RequiredRbs(ue, 0, 0, bytes, sim.DL)

			// THEN the round trip is exact
			if got != k {
				t.Fatalf("cqi %d: RequiredRbs(BytesOnRbs(%d)) = %d", cqi, k, got)
			}
		}
	}
}

func TestTableAMC_RequiredRbs_RoundsUp(t *testing.T) {
	a := NewTableAMC(4)
	require.NoError(t, a.SetProfile(ue, sim.UL, Profile{Cqi: []int{9}})) // 36 bytes per block
	assert.Equal(t, 1, a.RequiredRbs(ue, 0, 0, 1, sim.UL))
	assert.Equal(t, 1, a.RequiredRbs(ue, 0, 0, 36, sim.UL))
	assert.Equal(t, 2, a.RequiredRbs(ue, 0, 0, 37, sim.UL))
	assert.Equal(t, 0, a.RequiredRbs(ue, 0, 0, 0, sim.UL))
}

func TestTableAMC_DeadLink_Unreachable(t *testing.T) {
	a := NewTableAMC(4)
	require.NoError(t, a.SetProfile(ue, sim.DL, Profile{Cqi: []int{0}}))
	assert.Equal(t, 0, a.BytesOnRbs(ue, 0, 0, 10, sim.DL))
	assert.Equal(t, Unreachable, a.RequiredRbs(ue, 0, 0, 10, sim.DL))
}

func TestTableAMC_SetProfile_RejectsOutOfRange(t *testing.T) {
	a := NewTableAMC(4)
	tests := []struct {
		name string
		p    Profile
	}{
		{"cqi above 15", Profile{Cqi: []int{16}}},
		{"negative cqi", Profile{Cqi: []int{-1}}},
		{"no cqi", Profile{}},
		{"rank too high", Profile{Cqi: []int{5}, Rank: 9}},
		{"band out of range", Profile{Cqi: []int{5}, Bands: []sim.Band{4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, a.SetProfile(ue, sim.DL, tt.p))
		})
	}
}

func TestTableAMC_ComputeTxParams_Codewords(t *testing.T) {
	a := NewTableAMC(3)
	require.NoError(t, a.SetProfile(ue, sim.DL, Profile{Cqi: []int{12}, Rank: 2, TxMode: sim.OLSpatialMultiplexing}))
	require.NoError(t, a.SetProfile(ue, sim.UL, Profile{Cqi: []int{12, 10}, Rank: 2}))

	dl := a.ComputeTxParams(ue, sim.DL)
	assert.Equal(t, 2, dl.Codewords(), "rank 2 under spatial multiplexing carries two codewords")
	assert.Equal(t, []int{12, 12}, dl.Cqi)
	assert.Equal(t, []sim.Band{0, 1, 2}, dl.Bands)
	assert.Equal(t, []sim.Remote{sim.MacroRemote}, dl.Remotes)

	ul := a.ComputeTxParams(ue, sim.UL)
	assert.Equal(t, 1, ul.Codewords(), "single-antenna mode carries one codeword regardless of rank")
}

func TestTableAMC_ComputeTxParams_UnknownTerminal_Unschedulable(t *testing.T) {
	a := NewTableAMC(2)
	p := a.ComputeTxParams(ue, sim.D2D)
	assert.Equal(t, []int{0}, p.Cqi)
	assert.Equal(t, 0, a.BytesOnRbs(ue, 0, 0, 5, sim.D2D))
}

func TestTableAMC_PushFeedback_UpdatesCapacity(t *testing.T) {
	a := NewTableAMC(2)
	require.NoError(t, a.SetProfile(ue, sim.DL, Profile{Cqi: []int{4}}))

	a.PushFeedback(ue, sim.DL, FeedbackSample{Cqi: []int{9}, Rank: 1})
	assert.Equal(t, 36, a.BytesOnRbs(ue, 0, 0, 1, sim.DL))

	// out-of-range samples leave the profile untouched
	a.PushFeedback(ue, sim.DL, FeedbackSample{Cqi: []int{42}})
	assert.Equal(t, 36, a.BytesOnRbs(ue, 0, 0, 1, sim.DL))
}

func TestTableAMC_MuMimoPeer(t *testing.T) {
	a := NewTableAMC(2)
	a.SetMuMimoPeer(1025, 1026, sim.DL)
	assert.Equal(t, sim.MacNodeID(1026), a.MuMimoPeer(1025, sim.DL))
	assert.Equal(t, sim.MacNodeID(1025), a.MuMimoPeer(1026, sim.DL))
	assert.Equal(t, sim.MacNodeID(1025), a.MuMimoPeer(1025, sim.UL), "no peer in UL")
}
