package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes one cell: a base station, its terminals, their links and traffic.
// Fields left out of the YAML keep the values of DefaultScenario.
type Scenario struct {
	Seed        int64         `yaml:"seed"`
	Horizon     int64         `yaml:"horizon"` // TTIs to simulate
	EnbID       MacNodeID     `yaml:"enb_id"`
	Mac         MacConfig     `yaml:"mac"`
	Channel     ChannelConfig `yaml:"channel"`
	Ues         []UeSpec      `yaml:"ues"`
	Conflicts   ConflictSpec  `yaml:"conflicts"`
	MuMimoPairs [][]MacNodeID `yaml:"mumimo_pairs"`
}

// ChannelConfig sets the block error rate per direction and the source of corruption draws.
type ChannelConfig struct {
	Source  string  `yaml:"source"` // "seeded" or "stream"
	DlBler  float64 `yaml:"dl_bler"`
	UlBler  float64 `yaml:"ul_bler"`
	D2DBler float64 `yaml:"d2d_bler"`
}

// Bler returns the block error rate of a direction.
func (c ChannelConfig) Bler(dir Direction) float64 {
	switch dir {
	case UL:
		return c.UlBler
	case D2D:
		return c.D2DBler
	default:
		return c.DlBler
	}
}

// ValidChannelSources is the set of recognized corruption draw sources.
var ValidChannelSources = map[string]bool{"seeded": true, "stream": true}

// Position places a terminal in the plane; used for distance-based D2D conflicts.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// LinkSpec is the static link-adaptation profile of one terminal direction.
type LinkSpec struct {
	Cqi    []int  `yaml:"cqi"` // one value per codeword; a single value serves both
	Rank   int    `yaml:"rank"`
	Pmi    int    `yaml:"pmi"`
	TxMode string `yaml:"tx_mode"`
	Bands  []Band `yaml:"bands"` // usable bands, empty for all
}

// FlowSpec is one connection of a terminal and the SDU arrivals that feed it.
type FlowSpec struct {
	LCID            LogicalCID `yaml:"lcid"`
	Direction       string     `yaml:"direction"`
	Rlc             string     `yaml:"rlc"`
	SduSize         int        `yaml:"sdu_size"`
	Interval        float64    `yaml:"interval"` // mean TTIs between SDUs
	Process         string     `yaml:"process"`  // "constant" or "poisson"
	Start           int64      `yaml:"start"`
	Count           int        `yaml:"count"` // SDUs to generate, 0 for unlimited
	MinReservedRate float64    `yaml:"min_reserved_rate"`
	MaxBurst        int        `yaml:"max_burst"`
}

// ValidArrivalProcesses is the set of recognized arrival process names.
var ValidArrivalProcesses = map[string]bool{"": true, "constant": true, "poisson": true}

// UeSpec describes one terminal.
type UeSpec struct {
	ID              MacNodeID  `yaml:"id"`
	Position        Position   `yaml:"position"`
	DL              LinkSpec   `yaml:"dl"`
	UL              LinkSpec   `yaml:"ul"`
	D2D             LinkSpec   `yaml:"d2d"`
	D2DPeer         MacNodeID  `yaml:"d2d_peer"`
	CqiReportPeriod int        `yaml:"cqi_report_period"` // TTIs between CQI reports, 0 disables
	Flows           []FlowSpec `yaml:"flows"`
}

// Link returns the link profile of a direction.
func (u *UeSpec) Link(dir Direction) LinkSpec {
	switch dir {
	case UL:
		return u.UL
	case D2D:
		return u.D2D
	default:
		return u.DL
	}
}

// ConflictSpec defines which D2D transmitters interfere with each other: explicit pairs,
// plus every pair of terminals closer than Radius when Radius is positive.
type ConflictSpec struct {
	Radius float64       `yaml:"radius"`
	Pairs  [][]MacNodeID `yaml:"pairs"`
}

// DefaultScenario returns a single-cell scenario with default MAC parameters and no terminals.
func DefaultScenario() Scenario {
	return Scenario{
		Seed:    42,
		Horizon: 1000,
		EnbID:   EnbMinID,
		Mac:     DefaultMacConfig(),
		Channel: ChannelConfig{Source: "seeded"},
	}
}

// LoadScenario reads a YAML scenario over DefaultScenario. Unknown keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes YAML scenario bytes over DefaultScenario.
func ParseScenario(data []byte) (*Scenario, error) {
	sc := DefaultScenario()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks the scenario for configuration errors. A scenario that passes
// Validate can be built into a cell without further checks.
func (s *Scenario) Validate() error {
	if s.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", s.Horizon)
	}
	if s.EnbID == NoNode || s.EnbID.IsUe() {
		return fmt.Errorf("enb_id %d is outside the base-station range [%d, %d)", s.EnbID, EnbMinID, UeMinID)
	}
	if err := s.Mac.Validate(); err != nil {
		return fmt.Errorf("mac: %w", err)
	}
	if !ValidChannelSources[s.Channel.Source] {
		return fmt.Errorf("unknown channel source %q; valid options: seeded, stream", s.Channel.Source)
	}
	for _, dir := range []Direction{DL, UL, D2D} {
		if b := s.Channel.Bler(dir); b < 0 || b > 1 {
			return fmt.Errorf("channel %s bler must be in [0, 1], got %f", dir, b)
		}
	}

	ids := make(map[MacNodeID]bool, len(s.Ues))
	for i := range s.Ues {
		u := &s.Ues[i]
		if !u.ID.IsUe() {
			return fmt.Errorf("ues[%d]: id %d is below the terminal range %d", i, u.ID, UeMinID)
		}
		if ids[u.ID] {
			return fmt.Errorf("ues[%d]: duplicate id %d", i, u.ID)
		}
		ids[u.ID] = true
	}
	for i := range s.Ues {
		if err := s.validateUe(&s.Ues[i], ids); err != nil {
			return fmt.Errorf("ues[%d] (%d): %w", i, s.Ues[i].ID, err)
		}
	}

	if s.Conflicts.Radius < 0 {
		return fmt.Errorf("conflicts.radius must be non-negative, got %f", s.Conflicts.Radius)
	}
	if err := validatePairs("conflicts.pairs", s.Conflicts.Pairs, ids); err != nil {
		return err
	}
	if err := validatePairs("mumimo_pairs", s.MuMimoPairs, ids); err != nil {
		return err
	}
	return nil
}

func (s *Scenario) validateUe(u *UeSpec, ids map[MacNodeID]bool) error {
	for _, dir := range []Direction{DL, UL, D2D} {
		if err := validateLink(u.Link(dir), s.Mac.Grid.Bands); err != nil {
			return fmt.Errorf("%s link: %w", dir, err)
		}
	}
	if u.D2DPeer != NoNode {
		if u.D2DPeer == u.ID {
			return fmt.Errorf("d2d_peer is the terminal itself")
		}
		if !ids[u.D2DPeer] {
			return fmt.Errorf("d2d_peer %d is not a known terminal", u.D2DPeer)
		}
	}
	if u.CqiReportPeriod < 0 {
		return fmt.Errorf("cqi_report_period must be non-negative, got %d", u.CqiReportPeriod)
	}
	lcids := make(map[LogicalCID]bool)
	for j, f := range u.Flows {
		if lcids[f.LCID] {
			return fmt.Errorf("flows[%d]: duplicate lcid %d", j, f.LCID)
		}
		lcids[f.LCID] = true
		dir, err := ParseDirection(f.Direction)
		if err != nil {
			return fmt.Errorf("flows[%d]: %w", j, err)
		}
		if dir == D2D && u.D2DPeer == NoNode {
			return fmt.Errorf("flows[%d]: D2D flow requires d2d_peer", j)
		}
		if _, err := ParseRlcMode(f.Rlc); err != nil {
			return fmt.Errorf("flows[%d]: %w", j, err)
		}
		if f.SduSize <= 0 {
			return fmt.Errorf("flows[%d]: sdu_size must be positive, got %d", j, f.SduSize)
		}
		if f.Interval <= 0 {
			return fmt.Errorf("flows[%d]: interval must be positive, got %f", j, f.Interval)
		}
		if !ValidArrivalProcesses[f.Process] {
			return fmt.Errorf("flows[%d]: unknown arrival process %q; valid options: constant, poisson", j, f.Process)
		}
		if f.Start < 0 || f.Count < 0 || f.MinReservedRate < 0 || f.MaxBurst < 0 {
			return fmt.Errorf("flows[%d]: start, count, min_reserved_rate and max_burst must be non-negative", j)
		}
	}
	return nil
}

func validateLink(l LinkSpec, bands int) error {
	if len(l.Cqi) > MaxCodewords {
		return fmt.Errorf("at most %d cqi values, got %d", MaxCodewords, len(l.Cqi))
	}
	for _, c := range l.Cqi {
		if c < MinCqi || c > MaxCqi {
			return fmt.Errorf("cqi %d outside [%d, %d]", c, MinCqi, MaxCqi)
		}
	}
	if l.Rank < 0 || l.Rank > MaxRank {
		return fmt.Errorf("rank %d outside [1, %d]", l.Rank, MaxRank)
	}
	if _, err := ParseTxMode(l.TxMode); err != nil {
		return err
	}
	for _, b := range l.Bands {
		if b < 0 || int(b) >= bands {
			return fmt.Errorf("band %d outside [0, %d)", b, bands)
		}
	}
	return nil
}

func validatePairs(field string, pairs [][]MacNodeID, ids map[MacNodeID]bool) error {
	for i, p := range pairs {
		if len(p) != 2 {
			return fmt.Errorf("%s[%d]: want 2 ids, got %d", field, i, len(p))
		}
		if p[0] == p[1] {
			return fmt.Errorf("%s[%d]: a terminal cannot pair with itself", field, i)
		}
		for _, id := range p {
			if !ids[id] {
				return fmt.Errorf("%s[%d]: unknown terminal %d", field, i, id)
			}
		}
	}
	return nil
}

// Link-quality bounds accepted by scenarios and link adaptation.
const (
	MinCqi  = 0
	MaxCqi  = 15
	MaxRank = 4
)
