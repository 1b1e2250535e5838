// Package monitor implements the probing core of the hub: an
// insertion-ordered peer registry, a cycle-derived probe pacer, bounded
// running averages and the round-robin scheduler that drives one probe at
// a time over whatever transport the caller plugs in.
package monitor

import (
	"context"
	"sync"
	"time"

	"latmon/oid"

	log "github.com/sirupsen/logrus"
)

// Target is a live transport handle for one peer, resolved immediately
// before each probe.
type Target interface {
	Addr() string
}

// PeerResolver maps a registered peer id to its live Target. A false return
// means the peer has no usable connection right now, typically because the
// disconnect raced ahead of the lifecycle notification. The scheduler skips
// such peers without touching their statistics.
type PeerResolver interface {
	ResolveLive(id *oid.Oid) (Target, bool)
}

// Prober performs one round trip against a live peer and returns the
// peer's clock reading. The scheduler issues at most one probe at a time
// and treats errors as recoverable per-peer failures. Probe deadlines are
// the prober's business, the scheduler imposes none.
type Prober interface {
	Probe(ctx context.Context, target Target) (time.Time, error)
}

// Observation is emitted for every successful probe.
type Observation struct {
	NodeID      oid.Oid
	SentAt      time.Time // Local clock when the probe went out
	RemoteClock time.Time // Clock reading the peer returned
	ReceivedAt  time.Time // Local clock when the reply arrived

	Latency     float64 // ReceivedAt minus SentAt, in seconds
	ClockOffset float64 // ReceivedAt minus RemoteClock, in seconds

	// Running averages including this observation
	AvgLatency     float64
	AvgClockOffset float64
	Samples        int
}

// Sink receives observations. The scheduler calls Record synchronously
// between probes, implementations must not block for long.
type Sink interface {
	Record(obs *Observation)
}

type Options struct {
	// Cycle is the budget for one full probing pass over all peers.
	// DefaultCycle when zero.
	Cycle time.Duration
}

// Monitor owns the probing state machine. A single mutex guards the
// registry, the cursor and the interval controller. The mutex is not held
// while a probe is in flight, so Register and Unregister stay responsive,
// and the post-probe bookkeeping revalidates the entry before touching it.
type Monitor struct {
	resolver PeerResolver
	prober   Prober
	sink     Sink

	mu       sync.Mutex
	registry *Registry
	interval *IntervalController
	cursor   *Entry

	now func() time.Time
}

func New(opts Options, resolver PeerResolver, prober Prober, sink Sink) *Monitor {
	return &Monitor{
		resolver: resolver,
		prober:   prober,
		sink:     sink,
		registry: NewRegistry(),
		interval: NewIntervalController(opts.Cycle),
		now:      time.Now,
	}
}

// Register adds a peer to the probing rotation. The new peer starts with
// zeroed statistics and is probed at the end of the current cycle order.
func (m *Monitor) Register(id *oid.Oid) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.registry.Register(id); err != nil {
		return err
	}
	m.interval.Recompute(m.registry.Len())

	log.Infof("monitor: registered %s (%d active, interval %v)", id.String(), m.registry.Len(), m.interval.Current())
	return nil
}

// Unregister removes a peer from the rotation and discards its statistics.
// If the cursor sits on the removed entry it moves to the successor, so a
// removal never stalls the rotation.
func (m *Monitor) Unregister(id *oid.Oid) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.registry.Lookup(id)
	if e == nil {
		return ErrUnknownEntry
	}
	if m.cursor == e {
		m.cursor = e.next
	}
	if _, err := m.registry.Unregister(id); err != nil {
		return err
	}
	m.interval.Recompute(m.registry.Len())

	log.Infof("monitor: unregistered %s (%d active, interval %v)", id.String(), m.registry.Len(), m.interval.Current())
	return nil
}

// Len returns the number of registered peers.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Len()
}

// Interval returns the current spacing between probes.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval.Current()
}

// PeerSnapshot is one row of a Snapshot.
type PeerSnapshot struct {
	NodeID    oid.Oid
	Stats     RunningStats
	LastProbe time.Time
}

// Snapshot copies the per-peer statistics in probing order.
func (m *Monitor) Snapshot() []PeerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PeerSnapshot, 0, m.registry.Len())
	m.registry.Each(func(e *Entry) bool {
		out = append(out, PeerSnapshot{
			NodeID:    e.id,
			Stats:     e.stats,
			LastProbe: e.lastProbe,
		})
		return true
	})
	return out
}

// Run drives the probe loop until ctx is cancelled: sleep for the current
// interval, probe the peer under the cursor, advance. The interval adapts
// to the registry size, with an empty registry the loop idles at one
// second per turn.
func (m *Monitor) Run(ctx context.Context) error {
	log.Infof("monitor: starting, cycle budget %v", m.interval.Cycle())

	timer := time.NewTimer(m.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debugf("monitor: stopping: %v", ctx.Err())
			return ctx.Err()
		case <-timer.C:
			m.tick(ctx)
			timer.Reset(m.Interval())
		}
	}
}

// tick performs one scheduling turn: at most one probe.
func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()

	if m.cursor == nil {
		if m.registry.Len() == 0 {
			m.mu.Unlock()
			return
		}
		// A new cycle starts at the head with a fresh interval
		m.cursor = m.registry.Head()
		m.interval.Recompute(m.registry.Len())
	}

	entry := m.cursor
	id := entry.id

	target, ok := m.resolver.ResolveLive(&id)
	if !ok {
		// Registered but not connected right now. Skip, the turn is spent.
		m.cursor = entry.next
		m.mu.Unlock()
		log.Debugf("monitor: no live connection for %s, skipping", id.String())
		return
	}
	m.mu.Unlock()

	sentAt := m.now()
	remoteClock, err := m.prober.Probe(ctx, target)
	receivedAt := m.now()

	m.mu.Lock()
	if m.registry.Lookup(&id) != entry {
		// The entry was unregistered (and possibly re-registered) while the
		// probe was in flight. Unregister already moved the cursor, the
		// result belongs to a dead entry and is dropped.
		m.mu.Unlock()
		log.Debugf("monitor: %s left the rotation mid-probe, dropping result", id.String())
		return
	}

	if err != nil {
		if m.cursor == entry {
			m.cursor = entry.next
		}
		m.mu.Unlock()
		log.Warnf("monitor: probe of %s @ %s failed: %v", id.String(), target.Addr(), err)
		return
	}

	latency := receivedAt.Sub(sentAt).Seconds()
	clockOffset := receivedAt.Sub(remoteClock).Seconds()
	entry.stats.Update(latency, clockOffset)
	entry.lastProbe = receivedAt

	obs := &Observation{
		NodeID:         id,
		SentAt:         sentAt,
		RemoteClock:    remoteClock,
		ReceivedAt:     receivedAt,
		Latency:        latency,
		ClockOffset:    clockOffset,
		AvgLatency:     entry.stats.AvgLatency,
		AvgClockOffset: entry.stats.AvgClockOffset,
		Samples:        entry.stats.Samples,
	}
	if m.cursor == entry {
		m.cursor = entry.next
	}
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.Record(obs)
	}
}
