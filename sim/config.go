package sim

import "fmt"

// GridConfig describes the carrier: total resource blocks, how many logical bands
// they are grouped into, and how many antenna remotes share them.
type GridConfig struct {
	ResourceBlocks int `yaml:"resource_blocks"`
	Bands          int `yaml:"bands"`
	Remotes        int `yaml:"remotes"`
}

// HarqConfig groups HARQ process parameters.
type HarqConfig struct {
	EnbProcesses       int   `yaml:"enb_processes"`       // downlink processes per terminal
	UeProcesses        int   `yaml:"ue_processes"`        // uplink and D2D processes per peer
	MaxRetransmissions int   `yaml:"max_retransmissions"` // a PDU is sent at most MaxRetransmissions+1 times
	EvaluationInterval int64 `yaml:"evaluation_interval"` // TTIs between reception and feedback
}

// RacConfig groups random-access parameters.
type RacConfig struct {
	MinBackoff     int `yaml:"min_backoff"`
	MaxBackoff     int `yaml:"max_backoff"`
	MaxTryouts     int `yaml:"max_tryouts"`
	ResponseWindow int `yaml:"response_window"` // TTIs a terminal waits for a response
	MaxPerTti      int `yaml:"max_per_tti"`     // base-station admission limit, 0 for none
}

// HeaderSizes holds the per-PDU overheads charged when a grant is sized.
type HeaderSizes struct {
	Mac   int `yaml:"mac"`
	RlcTM int `yaml:"rlc_tm"`
	RlcUM int `yaml:"rlc_um"`
	RlcAM int `yaml:"rlc_am"`
}

// Rlc returns the RLC header for a connection of the given mode.
func (h HeaderSizes) Rlc(mode RlcMode) int {
	switch mode {
	case RlcTM:
		return h.RlcTM
	case RlcAM:
		return h.RlcAM
	default:
		return h.RlcUM
	}
}

// SchedulerConfig selects the grant disciplines and their parameters.
type SchedulerConfig struct {
	DL             string  `yaml:"dl"`
	UL             string  `yaml:"ul"`
	FrequencyReuse bool    `yaml:"frequency_reuse"`
	DedicatedD2D   bool    `yaml:"dedicated_d2d"` // D2D bands are never underlaid by cellular users
	PFAlpha        float64 `yaml:"pf_alpha"`      // smoothing factor of the proportional-fair throughput average
	DRRQuantum     int     `yaml:"drr_quantum"`   // bytes added to a connection's deficit per round

	// GrantPeriod makes new uplink and D2D grants periodic: the terminal reuses one every
	// GrantPeriod TTIs, GrantExpiration times in all. 0 issues one-shot grants.
	GrantPeriod     int `yaml:"grant_period"`
	GrantExpiration int `yaml:"grant_expiration"`
}

// BufferingMode selects how SDUs reach the MAC.
type BufferingMode string

const (
	// BufferingQueued: the upper layer pushes every SDU into the MAC's real queue on arrival.
	BufferingQueued BufferingMode = "queued"
	// BufferingOnDemand: the upper layer only announces new data and the MAC pulls
	// bytes when it builds a PDU.
	BufferingOnDemand BufferingMode = "on-demand"
)

// ValidBufferingModes is the set of recognized buffering modes.
var ValidBufferingModes = map[BufferingMode]bool{BufferingQueued: true, BufferingOnDemand: true}

// ValidDisciplines is the set of recognized grant discipline names.
// Shared by Validate() and sched.NewStrategy() to avoid duplication.
var ValidDisciplines = map[string]bool{"maxci": true, "pf": true, "drr": true, "bestfit": true}

// MacConfig is the full MAC parameter set shared by base station and terminals.
type MacConfig struct {
	Grid          GridConfig      `yaml:"cell"`
	Harq          HarqConfig      `yaml:"harq"`
	Rac           RacConfig       `yaml:"rac"`
	Headers       HeaderSizes     `yaml:"headers"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
	Buffering     BufferingMode   `yaml:"buffering"`
	QueueCapacity int             `yaml:"queue_capacity"` // bytes per connection real queue, 0 for unbounded
}

// DefaultMacConfig returns the parameter set used when a scenario leaves a field unset.
func DefaultMacConfig() MacConfig {
	return MacConfig{
		Grid: GridConfig{ResourceBlocks: 25, Bands: 25, Remotes: 1},
		Harq: HarqConfig{
			EnbProcesses:       8,
			UeProcesses:        8,
			MaxRetransmissions: 3,
			EvaluationInterval: 4,
		},
		Rac: RacConfig{
			MinBackoff:     1,
			MaxBackoff:     5,
			MaxTryouts:     3,
			ResponseWindow: 3,
		},
		Headers: HeaderSizes{Mac: 2, RlcTM: 0, RlcUM: 2, RlcAM: 4},
		Scheduler: SchedulerConfig{
			DL:         "maxci",
			UL:         "pf",
			PFAlpha:    0.05,
			DRRQuantum: 500,
		},
		Buffering: BufferingQueued,
	}
}

// BlocksPerBand splits the carrier's resource blocks over its bands.
// The first totalBlocks%bands bands receive one extra block.
func BlocksPerBand(totalBlocks, bands int) []int {
	out := make([]int, bands)
	for b := range out {
		out[b] = totalBlocks / bands
		if b < totalBlocks%bands {
			out[b]++
		}
	}
	return out
}

// Validate checks parameter ranges and discipline names.
func (c *MacConfig) Validate() error {
	if c.Grid.ResourceBlocks <= 0 {
		return fmt.Errorf("cell.resource_blocks must be positive, got %d", c.Grid.ResourceBlocks)
	}
	if c.Grid.Bands <= 0 || c.Grid.Bands > c.Grid.ResourceBlocks {
		return fmt.Errorf("cell.bands must be in [1, %d], got %d", c.Grid.ResourceBlocks, c.Grid.Bands)
	}
	if c.Grid.Remotes <= 0 {
		return fmt.Errorf("cell.remotes must be positive, got %d", c.Grid.Remotes)
	}
	if c.Harq.EnbProcesses <= 0 || c.Harq.UeProcesses <= 0 {
		return fmt.Errorf("harq process counts must be positive, got enb=%d ue=%d", c.Harq.EnbProcesses, c.Harq.UeProcesses)
	}
	if c.Harq.MaxRetransmissions < 0 {
		return fmt.Errorf("harq.max_retransmissions must be non-negative, got %d", c.Harq.MaxRetransmissions)
	}
	if c.Harq.EvaluationInterval < 0 {
		return fmt.Errorf("harq.evaluation_interval must be non-negative, got %d", c.Harq.EvaluationInterval)
	}
	if c.Rac.MinBackoff < 0 || c.Rac.MinBackoff > c.Rac.MaxBackoff {
		return fmt.Errorf("rac backoff window [%d, %d] is invalid", c.Rac.MinBackoff, c.Rac.MaxBackoff)
	}
	if c.Rac.MaxTryouts <= 0 {
		return fmt.Errorf("rac.max_tryouts must be positive, got %d", c.Rac.MaxTryouts)
	}
	if c.Rac.ResponseWindow <= 0 {
		return fmt.Errorf("rac.response_window must be positive, got %d", c.Rac.ResponseWindow)
	}
	if c.Rac.MaxPerTti < 0 {
		return fmt.Errorf("rac.max_per_tti must be non-negative, got %d", c.Rac.MaxPerTti)
	}
	h := c.Headers
	if h.Mac < 0 || h.RlcTM < 0 || h.RlcUM < 0 || h.RlcAM < 0 {
		return fmt.Errorf("header sizes must be non-negative, got %+v", h)
	}
	if !ValidDisciplines[c.Scheduler.DL] {
		return fmt.Errorf("unknown DL discipline %q", c.Scheduler.DL)
	}
	if !ValidDisciplines[c.Scheduler.UL] {
		return fmt.Errorf("unknown UL discipline %q", c.Scheduler.UL)
	}
	if c.Scheduler.PFAlpha <= 0 || c.Scheduler.PFAlpha > 1 {
		return fmt.Errorf("scheduler.pf_alpha must be in (0, 1], got %f", c.Scheduler.PFAlpha)
	}
	if c.Scheduler.DRRQuantum <= 0 {
		return fmt.Errorf("scheduler.drr_quantum must be positive, got %d", c.Scheduler.DRRQuantum)
	}
	if c.Scheduler.GrantPeriod < 0 {
		return fmt.Errorf("scheduler.grant_period must be non-negative, got %d", c.Scheduler.GrantPeriod)
	}
	if c.Scheduler.GrantPeriod > 0 && c.Scheduler.GrantExpiration <= 0 {
		return fmt.Errorf("scheduler.grant_expiration must be positive with a grant period, got %d", c.Scheduler.GrantExpiration)
	}
	if !ValidBufferingModes[c.Buffering] {
		return fmt.Errorf("unknown buffering mode %q; valid options: queued, on-demand", c.Buffering)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must be non-negative, got %d", c.QueueCapacity)
	}
	return nil
}
