package monitor

import (
	"math"
	"testing"
)

const statsEps = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < statsEps
}

func TestStatsFirstSample(t *testing.T) {
	s := RunningStats{}
	s.Update(0.2, 0.7)

	if s.Samples != 1 {
		t.Errorf("Expected 1 sample, got %d", s.Samples)
	}
	if !almostEqual(s.AvgLatency, 0.2) {
		t.Errorf("First latency sample should equal the average, got %v", s.AvgLatency)
	}
	if !almostEqual(s.AvgClockOffset, 0.7) {
		t.Errorf("First offset sample should equal the average, got %v", s.AvgClockOffset)
	}
}

func TestStatsExactMeanBelowWindow(t *testing.T) {
	latencies := []float64{0.1, 0.3, 0.2, 0.4}
	offsets := []float64{-0.5, 0.5, 1.5, 2.5}

	s := RunningStats{}
	for i := range latencies {
		s.Update(latencies[i], offsets[i])
	}

	if s.Samples != 4 {
		t.Fatalf("Expected 4 samples, got %d", s.Samples)
	}
	if !almostEqual(s.AvgLatency, 0.25) {
		t.Errorf("Expected mean latency 0.25, got %v", s.AvgLatency)
	}
	if !almostEqual(s.AvgClockOffset, 1.0) {
		t.Errorf("Expected mean offset 1.0, got %v", s.AvgClockOffset)
	}
}

func TestStatsSampleCountCaps(t *testing.T) {
	s := RunningStats{}
	for i := 0; i < 12; i++ {
		s.Update(0.1, 0.1)
	}
	if s.Samples != statsWindow {
		t.Errorf("Sample count should cap at %d, got %d", statsWindow, s.Samples)
	}
}

func TestStatsConstantSeriesConverges(t *testing.T) {
	s := RunningStats{}
	for i := 0; i < 7; i++ {
		s.Update(0.25, -0.1)
	}

	if !almostEqual(s.AvgLatency, 0.25) {
		t.Errorf("Constant latency series should average to itself, got %v", s.AvgLatency)
	}
	if !almostEqual(s.AvgClockOffset, -0.1) {
		t.Errorf("Constant offset series should average to itself, got %v", s.AvgClockOffset)
	}
}

func TestStatsSaturatedUpdate(t *testing.T) {
	s := RunningStats{}
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Update(v, 0)
	}
	if !almostEqual(s.AvgLatency, 3.0) {
		t.Fatalf("Expected mean 3.0 after five samples, got %v", s.AvgLatency)
	}

	// Past the window the divisor stays fixed: 3 - 3/5 + 6/5 = 3.6
	s.Update(6, 0)
	if !almostEqual(s.AvgLatency, 3.6) {
		t.Errorf("Expected 3.6 after saturated update, got %v", s.AvgLatency)
	}
	if s.Samples != statsWindow {
		t.Errorf("Sample count should stay at %d, got %d", statsWindow, s.Samples)
	}
}

func TestStatsNegativeOffsets(t *testing.T) {
	// Offsets are signed, a peer's clock may run ahead of ours
	s := RunningStats{}
	s.Update(0.01, -0.3)
	s.Update(0.01, -0.5)

	if !almostEqual(s.AvgClockOffset, -0.4) {
		t.Errorf("Expected mean offset -0.4, got %v", s.AvgClockOffset)
	}
}
