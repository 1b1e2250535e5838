package hub

import (
	"context"
	"time"

	"latmon/oid"

	log "github.com/sirupsen/logrus"
)

// sweepStalePeers drops peers whose announcements stopped arriving. Covers
// agents that died without a goodbye, crashed networks and the like.
// This is run via the RunWithTicker() helper.
func (h *Hub) sweepStalePeers(ctx context.Context) error {
	cutoff := time.Now().Add(-h.peerTTL)

	h.mu.Lock()
	var stale []oid.Oid
	for id, pc := range h.conns {
		if pc.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for i := range stale {
		log.Warnf("Agent %s silent for over %v, dropping", stale[i].String(), h.peerTTL)
		h.dropPeer(&stale[i], "announcement timeout")
	}

	return nil
}
