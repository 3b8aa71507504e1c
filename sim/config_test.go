package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMacConfig_Valid(t *testing.T) {
	c := DefaultMacConfig()
	assert.NoError(t, c.Validate())
}

func TestMacConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MacConfig)
		want   string
	}{
		{"no blocks", func(c *MacConfig) { c.Grid.ResourceBlocks = 0 }, "resource_blocks"},
		{"more bands than blocks", func(c *MacConfig) { c.Grid.Bands = 26 }, "cell.bands"},
		{"no remotes", func(c *MacConfig) { c.Grid.Remotes = 0 }, "cell.remotes"},
		{"no ue processes", func(c *MacConfig) { c.Harq.UeProcesses = 0 }, "process counts"},
		{"negative retransmissions", func(c *MacConfig) { c.Harq.MaxRetransmissions = -1 }, "max_retransmissions"},
		{"inverted backoff", func(c *MacConfig) { c.Rac.MinBackoff = 6 }, "backoff window"},
		{"no tryouts", func(c *MacConfig) { c.Rac.MaxTryouts = 0 }, "max_tryouts"},
		{"no response window", func(c *MacConfig) { c.Rac.ResponseWindow = 0 }, "response_window"},
		{"negative admission", func(c *MacConfig) { c.Rac.MaxPerTti = -1 }, "max_per_tti"},
		{"negative header", func(c *MacConfig) { c.Headers.RlcAM = -4 }, "header sizes"},
		{"unknown DL", func(c *MacConfig) { c.Scheduler.DL = "rr" }, "unknown DL discipline"},
		{"unknown UL", func(c *MacConfig) { c.Scheduler.UL = "" }, "unknown UL discipline"},
		{"alpha out of range", func(c *MacConfig) { c.Scheduler.PFAlpha = 0 }, "pf_alpha"},
		{"no quantum", func(c *MacConfig) { c.Scheduler.DRRQuantum = 0 }, "drr_quantum"},
		{"unknown buffering", func(c *MacConfig) { c.Buffering = "lazy" }, "buffering mode"},
		{"negative capacity", func(c *MacConfig) { c.QueueCapacity = -1 }, "queue_capacity"},
		{"negative grant period", func(c *MacConfig) { c.Scheduler.GrantPeriod = -1 }, "grant_period"},
		{"periodic grant never used", func(c *MacConfig) { c.Scheduler.GrantPeriod = 2 }, "grant_expiration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN a default config with one field broken
			c := DefaultMacConfig()
			tc.mutate(&c)

			// WHEN it is validated
			err := c.Validate()

			// THEN the error names the field
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestMacConfig_Validate_ZeroEvaluationIntervalAllowed(t *testing.T) {
	c := DefaultMacConfig()
	c.Harq.EvaluationInterval = 0
	c.Buffering = BufferingOnDemand
	assert.NoError(t, c.Validate())
}

func TestMacConfig_Validate_PeriodicGrants(t *testing.T) {
	c := DefaultMacConfig()
	c.Scheduler.GrantPeriod, c.Scheduler.GrantExpiration = 2, 4
	assert.NoError(t, c.Validate())
}
