package monitor

import (
	"testing"
	"time"
)

func TestIntervalDividesCycle(t *testing.T) {
	c := NewIntervalController(time.Second)

	if got := c.Recompute(1); got != time.Second {
		t.Errorf("One peer should get the whole cycle, got %v", got)
	}
	if got := c.Recompute(2); got != 500*time.Millisecond {
		t.Errorf("Two peers should get 500ms each, got %v", got)
	}
	if got := c.Recompute(4); got != 250*time.Millisecond {
		t.Errorf("Four peers should get 250ms each, got %v", got)
	}
	if got := c.Recompute(3); got != time.Second/3 {
		t.Errorf("Three peers should get a third of the cycle, got %v", got)
	}
}

func TestIntervalEmptyFallsBackToIdle(t *testing.T) {
	c := NewIntervalController(250 * time.Millisecond)

	c.Recompute(5)
	if got := c.Recompute(0); got != idleInterval {
		t.Errorf("Empty registry should idle at %v, got %v", idleInterval, got)
	}
}

func TestIntervalStartsIdle(t *testing.T) {
	c := NewIntervalController(2 * time.Second)
	if c.Current() != idleInterval {
		t.Errorf("Fresh controller should start at the idle interval, got %v", c.Current())
	}
}

func TestIntervalZeroCycleUsesDefault(t *testing.T) {
	c := NewIntervalController(0)
	if c.Cycle() != DefaultCycle {
		t.Errorf("Zero cycle should become %v, got %v", DefaultCycle, c.Cycle())
	}

	c = NewIntervalController(-time.Second)
	if c.Cycle() != DefaultCycle {
		t.Errorf("Negative cycle should become %v, got %v", DefaultCycle, c.Cycle())
	}
}

func TestIntervalScalesDownWithPeers(t *testing.T) {
	c := NewIntervalController(time.Second)

	prev := c.Recompute(1)
	for n := 2; n <= 10; n++ {
		cur := c.Recompute(n)
		if cur >= prev {
			t.Fatalf("Interval should shrink as peers grow: %v -> %v at %d peers", prev, cur, n)
		}
		prev = cur
	}
}
