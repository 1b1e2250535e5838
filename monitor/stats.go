package monitor

// statsWindow caps the divisor of the running averages. Up to this many
// samples the average is the exact arithmetic mean, past it the divisor
// stays fixed so older samples decay instead of accumulating forever.
const statsWindow = 5

// RunningStats holds the bounded running averages of probe results for one
// peer. Values are in seconds.
type RunningStats struct {
	Samples        int     // Number of samples folded in, caps at statsWindow
	AvgLatency     float64 // Average round-trip time
	AvgClockOffset float64 // Average receive-time minus remote-clock difference
}

// Update folds one probe result into the averages.
func (s *RunningStats) Update(latency, clockOffset float64) {
	if s.Samples < statsWindow {
		s.Samples++
	}
	n := float64(s.Samples)
	s.AvgLatency = s.AvgLatency - s.AvgLatency/n + latency/n
	s.AvgClockOffset = s.AvgClockOffset - s.AvgClockOffset/n + clockOffset/n
}
