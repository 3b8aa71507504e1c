package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures grants, HARQ outcomes and random-access steps.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a cell simulation.
type SimulationTrace struct {
	Config TraceConfig
	Grants []GrantRecord
	Harq   []HarqRecord
	Rac    []RacRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config: config,
		Grants: make([]GrantRecord, 0),
		Harq:   make([]HarqRecord, 0),
		Rac:    make([]RacRecord, 0),
	}
}

// RecordGrant appends a grant record.
func (st *SimulationTrace) RecordGrant(record GrantRecord) {
	st.Grants = append(st.Grants, record)
}

// RecordHarq appends a HARQ outcome record.
func (st *SimulationTrace) RecordHarq(record HarqRecord) {
	st.Harq = append(st.Harq, record)
}

// RecordRac appends a random-access record.
func (st *SimulationTrace) RecordRac(record RacRecord) {
	st.Rac = append(st.Rac, record)
}
