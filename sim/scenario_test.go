package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const twoUeScenario = `
seed: 7
horizon: 200
mac:
  cell:
    resource_blocks: 50
    bands: 10
  harq:
    max_retransmissions: 2
  scheduler:
    dl: pf
    ul: bestfit
    frequency_reuse: true
channel:
  source: stream
  ul_bler: 0.1
ues:
  - id: 1025
    position: {x: 0, y: 0}
    dl: {cqi: [9]}
    ul: {cqi: [7]}
    d2d: {cqi: [11]}
    d2d_peer: 1026
    flows:
      - {lcid: 1, direction: DL, rlc: AM, sdu_size: 100, interval: 2}
      - {lcid: 2, direction: D2D, sdu_size: 60, interval: 4, process: poisson}
  - id: 1026
    position: {x: 30, y: 0}
    dl: {cqi: [12, 10], rank: 2, tx_mode: ol-spatial}
conflicts:
  radius: 50
`

func TestLoadScenario_OverlaysDefaults(t *testing.T) {
	path := writeTempYAML(t, twoUeScenario)

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	require.NoError(t, sc.Validate())

	// explicit values
	assert.Equal(t, int64(7), sc.Seed)
	assert.Equal(t, 50, sc.Mac.Grid.ResourceBlocks)
	assert.Equal(t, 2, sc.Mac.Harq.MaxRetransmissions)
	assert.Equal(t, "bestfit", sc.Mac.Scheduler.UL)
	assert.Equal(t, "stream", sc.Channel.Source)
	assert.Len(t, sc.Ues, 2)
	assert.Equal(t, MacNodeID(1026), sc.Ues[0].D2DPeer)

	// defaults survive where the file is silent
	assert.Equal(t, 8, sc.Mac.Harq.EnbProcesses)
	assert.Equal(t, int64(4), sc.Mac.Harq.EvaluationInterval)
	assert.Equal(t, 2, sc.Mac.Headers.Mac)
	assert.Equal(t, BufferingQueued, sc.Mac.Buffering)
	assert.Equal(t, 1, sc.Mac.Grid.Remotes)
	assert.Equal(t, EnbMinID, sc.EnbID)
}

func TestParseScenario_UnknownField_Rejected(t *testing.T) {
	_, err := ParseScenario([]byte("horizon: 10\nbogus_field: 1\n"))
	assert.Error(t, err)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestScenario_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Scenario)
	}{
		{"zero horizon", func(s *Scenario) { s.Horizon = 0 }},
		{"enb id in terminal range", func(s *Scenario) { s.EnbID = 2000 }},
		{"unknown dl discipline", func(s *Scenario) { s.Mac.Scheduler.DL = "fifo" }},
		{"unknown buffering", func(s *Scenario) { s.Mac.Buffering = "lazy" }},
		{"backoff window inverted", func(s *Scenario) { s.Mac.Rac.MinBackoff = 9 }},
		{"zero processes", func(s *Scenario) { s.Mac.Harq.UeProcesses = 0 }},
		{"bands above blocks", func(s *Scenario) { s.Mac.Grid.Bands = 100 }},
		{"bler above one", func(s *Scenario) { s.Channel.DlBler = 1.5 }},
		{"unknown channel source", func(s *Scenario) { s.Channel.Source = "dice" }},
		{"cqi out of range", func(s *Scenario) { s.Ues[0].DL.Cqi = []int{16} }},
		{"negative cqi", func(s *Scenario) { s.Ues[0].UL.Cqi = []int{-1} }},
		{"three codewords", func(s *Scenario) { s.Ues[0].DL.Cqi = []int{1, 2, 3} }},
		{"band out of range", func(s *Scenario) { s.Ues[0].DL.Bands = []Band{25} }},
		{"unknown tx mode", func(s *Scenario) { s.Ues[0].DL.TxMode = "beam" }},
		{"duplicate terminal", func(s *Scenario) { s.Ues[1].ID = s.Ues[0].ID }},
		{"terminal id too low", func(s *Scenario) { s.Ues[0].ID = 5 }},
		{"self d2d peer", func(s *Scenario) { s.Ues[0].D2DPeer = s.Ues[0].ID }},
		{"unknown d2d peer", func(s *Scenario) { s.Ues[0].D2DPeer = 1099 }},
		{"d2d flow without peer", func(s *Scenario) {
			s.Ues[1].Flows = []FlowSpec{{LCID: 1, Direction: "D2D", SduSize: 10, Interval: 1}}
		}},
		{"unknown direction", func(s *Scenario) { s.Ues[0].Flows[0].Direction = "sideways" }},
		{"unknown rlc", func(s *Scenario) { s.Ues[0].Flows[0].Rlc = "XX" }},
		{"zero sdu size", func(s *Scenario) { s.Ues[0].Flows[0].SduSize = 0 }},
		{"zero interval", func(s *Scenario) { s.Ues[0].Flows[0].Interval = 0 }},
		{"unknown process", func(s *Scenario) { s.Ues[0].Flows[0].Process = "bursty" }},
		{"duplicate lcid", func(s *Scenario) { s.Ues[0].Flows[1].LCID = s.Ues[0].Flows[0].LCID }},
		{"mumimo pair unknown", func(s *Scenario) { s.MuMimoPairs = [][]MacNodeID{{1025, 1999}} }},
		{"conflict pair of one", func(s *Scenario) { s.Conflicts.Pairs = [][]MacNodeID{{1025}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := ParseScenario([]byte(twoUeScenario))
			require.NoError(t, err)
			require.NoError(t, sc.Validate())
			tt.mutate(sc)
			assert.Error(t, sc.Validate())
		})
	}
}

func TestBlocksPerBand_DistributesRemainder(t *testing.T) {
	assert.Equal(t, []int{3, 3, 2, 2}, BlocksPerBand(10, 4))
	assert.Equal(t, []int{1, 1, 1}, BlocksPerBand(3, 3))
}

func TestHeaderSizes_Rlc(t *testing.T) {
	h := HeaderSizes{Mac: 2, RlcTM: 0, RlcUM: 2, RlcAM: 4}
	assert.Equal(t, 0, h.Rlc(RlcTM))
	assert.Equal(t, 2, h.Rlc(RlcUM))
	assert.Equal(t, 4, h.Rlc(RlcAM))
}
