package monitor

import "time"

// DefaultCycle is the probing cycle budget used when none is configured.
const DefaultCycle = time.Second

// idleInterval paces the loop while no peers are registered.
const idleInterval = time.Second

// IntervalController derives the spacing between consecutive probes from a
// fixed cycle budget: one full pass over the registry always takes about
// one cycle, so aggregate probe traffic stays flat as peers come and go.
type IntervalController struct {
	cycle   time.Duration
	current time.Duration
}

func NewIntervalController(cycle time.Duration) *IntervalController {
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	return &IntervalController{
		cycle:   cycle,
		current: idleInterval,
	}
}

// Recompute resets the per-probe interval for the given number of
// registered peers. With no peers the loop falls back to an idle poll.
func (c *IntervalController) Recompute(active int) time.Duration {
	if active > 0 {
		c.current = c.cycle / time.Duration(active)
	} else {
		c.current = idleInterval
	}
	return c.current
}

func (c *IntervalController) Current() time.Duration {
	return c.current
}

func (c *IntervalController) Cycle() time.Duration {
	return c.cycle
}
