package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sim "github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/trace"
)

const scenarioYAML = `
seed: 3
horizon: 200
mac:
  scheduler:
    dl: pf
ues:
  - id: 1025
    dl: {cqi: [12]}
    ul: {cqi: [9]}
    flows:
      - {lcid: 1, direction: dl, sdu_size: 100, interval: 5, count: 10}
      - {lcid: 2, direction: ul, sdu_size: 100, interval: 5, count: 10}
`

func writeScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cell.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioYAML), 0o644))
	return path
}

// newFlagCommand builds a command with the same override flags as runCmd, so tests do not
// share flag state with the real commands.
func newFlagCommand() *cobra.Command {
	c := &cobra.Command{Use: "test"}
	c.Flags().Int64Var(&seed, "seed", 42, "")
	c.Flags().Int64Var(&simulationHorizon, "horizon", 1000, "")
	c.Flags().StringVar(&dlDiscipline, "dl-scheduler", "maxci", "")
	c.Flags().StringVar(&ulDiscipline, "ul-scheduler", "pf", "")
	return c
}

func TestLoadScenario_FileValuesKeptWithoutOverrides(t *testing.T) {
	// GIVEN a scenario file and no flags set
	scenarioPath = writeScenario(t)
	t.Cleanup(func() { scenarioPath = "" })

	// WHEN it is loaded
	sc, err := loadScenario(newFlagCommand())

	// THEN the file values win over flag defaults
	require.NoError(t, err)
	assert.Equal(t, int64(3), sc.Seed)
	assert.Equal(t, int64(200), sc.Horizon)
	assert.Equal(t, "pf", sc.Mac.Scheduler.DL)
	assert.Len(t, sc.Ues, 1)
}

func TestLoadScenario_ChangedFlagsOverride(t *testing.T) {
	scenarioPath = writeScenario(t)
	t.Cleanup(func() { scenarioPath = "" })
	c := newFlagCommand()
	require.NoError(t, c.Flags().Set("seed", "9"))
	require.NoError(t, c.Flags().Set("ul-scheduler", "bestfit"))

	sc, err := loadScenario(c)

	require.NoError(t, err)
	assert.Equal(t, int64(9), sc.Seed)
	assert.Equal(t, "bestfit", sc.Mac.Scheduler.UL)
	assert.Equal(t, int64(200), sc.Horizon)
}

func TestLoadScenario_InvalidOverrideRejected(t *testing.T) {
	scenarioPath = writeScenario(t)
	t.Cleanup(func() { scenarioPath = "" })
	c := newFlagCommand()
	require.NoError(t, c.Flags().Set("dl-scheduler", "roundrobin"))

	_, err := loadScenario(c)

	assert.ErrorContains(t, err, "invalid scenario")
}

func TestRunScenario_WritesReports(t *testing.T) {
	// GIVEN a loaded scenario with decision tracing and file outputs
	scenarioPath = writeScenario(t)
	t.Cleanup(func() { scenarioPath = "" })
	sc, err := loadScenario(newFlagCommand())
	require.NoError(t, err)
	dir := t.TempDir()
	opts := runOptions{
		TraceLevel: trace.TraceLevelDecisions,
		MetricsOut: filepath.Join(dir, "mac.prom"),
		DelaysOut:  filepath.Join(dir, "delays"),
	}

	// WHEN it is run
	var out bytes.Buffer
	require.NoError(t, runScenario(context.Background(), sc, opts, &out))

	// THEN the metrics and the trace summary are printed and the files written
	assert.Contains(t, out.String(), "=== Simulation Metrics ===")
	assert.Contains(t, out.String(), "=== Decision Trace ===")
	assert.Contains(t, out.String(), "Delivered            : 10 SDUs, 1000 bytes")

	prom, err := os.ReadFile(opts.MetricsOut)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `mac_delivered_bytes{direction="DL"} 1000`)
	assert.FileExists(t, filepath.Join(dir, "delays.dl"))
	assert.FileExists(t, filepath.Join(dir, "delays.ul"))
	assert.NoFileExists(t, filepath.Join(dir, "delays.d2d"))
}

func TestRunScenario_NoTraceWithoutLevel(t *testing.T) {
	sc := sim.DefaultScenario()
	sc.Horizon = 10

	var out bytes.Buffer
	require.NoError(t, runScenario(context.Background(), &sc, runOptions{TraceLevel: trace.TraceLevelNone}, &out))

	assert.Contains(t, out.String(), "TTIs simulated       : 10")
	assert.NotContains(t, out.String(), "Decision Trace")
}
