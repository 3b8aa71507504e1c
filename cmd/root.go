package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	sim "github.com/lte-sim/lte-sim/sim"
	"github.com/lte-sim/lte-sim/sim/cell"
	"github.com/lte-sim/lte-sim/sim/mac"
	"github.com/lte-sim/lte-sim/sim/observability"
	"github.com/lte-sim/lte-sim/sim/trace"
)

var (
	// CLI flags for the scenario
	scenarioPath      string // YAML scenario file, empty for the built-in default
	seed              int64  // Seed overriding the scenario's
	simulationHorizon int64  // TTIs to simulate, overriding the scenario's
	logLevel          string // Log verbosity level
	dlDiscipline      string // Downlink discipline override
	ulDiscipline      string // Uplink discipline override

	// CLI flags for outputs
	traceLevel   string  // Decision trace level
	traceTTIs    bool    // One span per TTI
	tracing      bool    // Export OpenTelemetry spans to stdout
	tracingRatio float64 // Trace sampling ratio
	metricsOut   string  // Prometheus textfile path
	delaysOut    string  // Prefix of per-direction SDU delay files
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "lte-sim",
	Short: "Single-cell LTE MAC simulator: scheduling, resource allocation, HARQ and random access",
}

// runCmd executes a scenario
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		sc, err := loadScenario(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
			Enabled:     tracing,
			ServiceName: "lte-sim",
			SampleRatio: tracingRatio,
		})
		if err != nil {
			logrus.Fatalf("unable to initialise tracing; %v", err)
		}
		defer observability.ShutdownWithTimeout(ctx, shutdown)

		opts := runOptions{
			TraceLevel: trace.TraceLevel(traceLevel),
			TraceTTIs:  traceTTIs,
			MetricsOut: metricsOut,
			DelaysOut:  delaysOut,
		}
		if err := runScenario(ctx, sc, opts, os.Stdout); err != nil {
			logrus.Fatalf("simulation failed; %v", err)
		}
	},
}

// validateCmd checks a scenario without running it
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a scenario file",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		sc, err := loadScenario(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Printf("scenario valid: %d terminals, %d TTIs, DL %s, UL %s\n",
			len(sc.Ues), sc.Horizon, sc.Mac.Scheduler.DL, sc.Mac.Scheduler.UL)
	},
}

type runOptions struct {
	TraceLevel trace.TraceLevel
	TraceTTIs  bool
	MetricsOut string
	DelaysOut  string
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// loadScenario reads the scenario and applies the command-line overrides that were set.
func loadScenario(cmd *cobra.Command) (*sim.Scenario, error) {
	var sc *sim.Scenario
	if scenarioPath == "" {
		def := sim.DefaultScenario()
		sc = &def
	} else {
		loaded, err := sim.LoadScenario(scenarioPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read scenario; %w", err)
		}
		sc = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("seed") {
		sc.Seed = seed
	}
	if flags.Changed("horizon") {
		sc.Horizon = simulationHorizon
	}
	if flags.Changed("dl-scheduler") {
		sc.Mac.Scheduler.DL = dlDiscipline
	}
	if flags.Changed("ul-scheduler") {
		sc.Mac.Scheduler.UL = ulDiscipline
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario; %w", err)
	}
	return sc, nil
}

// runScenario builds the cell, runs it and writes the reports to w.
func runScenario(ctx context.Context, sc *sim.Scenario, opts runOptions, w io.Writer) error {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewMacCollector(reg)
	if err != nil {
		return err
	}
	observers := mac.Observers{collector}

	var st *trace.SimulationTrace
	if opts.TraceLevel != "" && opts.TraceLevel != trace.TraceLevelNone {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: opts.TraceLevel})
		if obs := cell.NewTraceObserver(st); obs != nil {
			observers = append(observers, obs)
		}
	}

	c, err := cell.New(sc, cell.Options{Observer: observers, TraceTTIs: opts.TraceTTIs})
	if err != nil {
		return err
	}
	logrus.Infof("starting simulation: %d terminals, %d TTIs", len(sc.Ues), sc.Horizon)
	if err := c.Run(ctx); err != nil {
		return err
	}

	m := c.Metrics()
	m.Print(w, c.Horizon())
	collector.ObserveRun(m)

	if st != nil {
		printTraceSummary(w, trace.Summarize(st))
	}
	if opts.MetricsOut != "" {
		if err := collector.WriteTextfile(opts.MetricsOut); err != nil {
			return err
		}
		logrus.Infof("metrics written to %s", opts.MetricsOut)
	}
	if opts.DelaysOut != "" {
		for dir := sim.Direction(0); dir < sim.NumDirections; dir++ {
			if len(m.SduDelays[dir]) == 0 {
				continue
			}
			path := fmt.Sprintf("%s.%s", opts.DelaysOut, strings.ToLower(dir.String()))
			if err := sim.SaveSamples(m.SduDelays[dir], path); err != nil {
				return err
			}
		}
	}
	return nil
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintln(w, "=== Decision Trace ===")
	fmt.Fprintf(w, "Grants               : %d (%d retransmission)\n", s.TotalGrants, s.RetxGrants)
	fmt.Fprintf(w, "Grant size           : mean %.1f, max %d bytes\n", s.MeanGrantBytes, s.MaxGrantBytes)
	fmt.Fprintf(w, "Grantees             : %d\n", s.UniqueGrantees)
	for _, k := range sortedKeys(s.BytesPerDir) {
		fmt.Fprintf(w, "Granted bytes %-6s : %d\n", k, s.BytesPerDir[k])
	}
	for _, k := range sortedKeys(s.HarqOutcomes) {
		fmt.Fprintf(w, "HARQ %-15s : %d\n", k, s.HarqOutcomes[k])
	}
	fmt.Fprintf(w, "HARQ failure rate    : %.4f\n", s.HarqFailureRate)
	for _, k := range sortedKeys(s.RacEvents) {
		fmt.Fprintf(w, "RAC %-16s : %d\n", k, s.RacEvents[k])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	for _, c := range []*cobra.Command{runCmd, validateCmd} {
		c.Flags().StringVar(&scenarioPath, "scenario", "", "Path to a YAML scenario (default: empty built-in cell)")
		c.Flags().Int64Var(&seed, "seed", 42, "Seed overriding the scenario's")
		c.Flags().Int64Var(&simulationHorizon, "horizon", 1000, "TTIs to simulate, overriding the scenario's")
		c.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().StringVar(&dlDiscipline, "dl-scheduler", "maxci", "Downlink discipline (maxci, pf, drr)")
		c.Flags().StringVar(&ulDiscipline, "ul-scheduler", "pf", "Uplink discipline (maxci, pf, drr, bestfit)")
	}

	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Decision trace level (none, decisions)")
	runCmd.Flags().BoolVar(&traceTTIs, "trace-ttis", false, "Record one span per TTI when tracing is enabled")
	runCmd.Flags().BoolVar(&tracing, "tracing", false, "Export OpenTelemetry spans to stdout")
	runCmd.Flags().Float64Var(&tracingRatio, "tracing-ratio", 1.0, "Trace sampling ratio")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile")
	runCmd.Flags().StringVar(&delaysOut, "delays-out", "", "Prefix of per-direction SDU delay sample files")

	rootCmd.AddCommand(runCmd, validateCmd)
}
