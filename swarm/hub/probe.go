package hub

import (
	"context"
	"time"

	"latmon/monitor"
	"latmon/oid"
	"latmon/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// The monitor drives the hub through these three interfaces. ResolveLive is
// called under the monitor lock, so the hub must never call into the
// monitor while holding h.mu.
var _ monitor.PeerResolver = (*Hub)(nil)
var _ monitor.Prober = (*Hub)(nil)
var _ monitor.Sink = (*Hub)(nil)

func (h *Hub) ResolveLive(id *oid.Oid) (monitor.Target, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pc, ok := h.conns[*id]
	if !ok {
		return nil, false
	}
	return pc, true
}

// Probe asks the agent for its clock reading. One round trip, no retries
// and no deadline of its own: the monitor owns pacing, and a wedged peer
// is eventually dropped by the announcement sweep.
func (h *Hub) Probe(ctx context.Context, target monitor.Target) (time.Time, error) {
	pc := target.(*peerConn)

	res, err := pc.client.Clock(ctx, &protocol.ClockRequest{NodeID: *h.NodeID})
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMicro(res.UnixMicros), nil
}

func (h *Hub) Record(obs *monitor.Observation) {
	log.Infof("probe %s: latency %.6fs (avg %.6fs over %d), clock offset %+.6fs (avg %+.6fs)",
		obs.NodeID.String(), obs.Latency, obs.AvgLatency, obs.Samples, obs.ClockOffset, obs.AvgClockOffset)
}
