package hub

import (
	"fmt"
	"time"

	"latmon/datamodel/peer"
	"latmon/oid"
	"latmon/swarm/client"
	"latmon/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

type PubSub struct {
	hub *Hub
}

func (s *PubSub) AgentAnnouncement(msg *protocol.AgentAnnouncement) {
	s.hub.handleAnnouncement(msg)
}

func (s *PubSub) AgentGoodbye(msg *protocol.AgentGoodbye) {
	s.hub.handleGoodbye(msg)
}

func (h *Hub) handleAnnouncement(msg *protocol.AgentAnnouncement) {
	if !h.ClusterID.Equal(&msg.ClusterID) {
		log.Debugf("Ignoring announcement from foreign cluster %s", msg.ClusterID.String())
		return
	}
	if msg.NodeID == *h.NodeID {
		log.Debugf("Received our own announcement - ignoring")
		return
	}

	log.Debugf("AgentAnnouncement: node: %s, addresses: %s, epoch: %d, seq: %d",
		msg.NodeID.String(), msg.Addresses, msg.Epoch, msg.Seq)

	h.recordSighting(msg)

	h.mu.Lock()
	pc, connected := h.conns[msg.NodeID]
	if connected && pc.epoch == msg.Epoch {
		// Known peer, same process: just refresh liveness
		if msg.Seq > pc.lastSeq+1 {
			log.Debugf("Missed %d announcements from %s", msg.Seq-pc.lastSeq-1, msg.NodeID.String())
		}
		pc.lastSeq = msg.Seq
		pc.lastSeen = time.Now()
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if connected {
		// Same agent, new epoch: the process restarted. Its clock started
		// over, so the accumulated statistics mean nothing anymore.
		log.Infof("Agent %s restarted (epoch %d -> %d), recycling connection", msg.NodeID.String(), pc.epoch, msg.Epoch)
		h.dropPeer(&msg.NodeID, "restart")
	}

	h.connectPeer(msg)
}

func (h *Hub) handleGoodbye(msg *protocol.AgentGoodbye) {
	if !h.ClusterID.Equal(&msg.ClusterID) {
		return
	}

	log.Infof("AgentGoodbye: node: %s", msg.NodeID.String())
	h.dropPeer(&msg.NodeID, "goodbye")
}

// recordSighting updates the persistent peer catalog. The catalog is an
// address book, it survives restarts of both sides, unlike probe stats.
func (h *Hub) recordSighting(msg *protocol.AgentAnnouncement) {
	now := time.Now()

	md := &peer.Metadata{
		NodeID:    msg.NodeID,
		Addresses: msg.Addresses,
		Epoch:     msg.Epoch,
		FirstSeen: now,
		LastSeen:  now,
	}
	if existing, err := h.Catalog.Get(&msg.NodeID); err == nil {
		md.FirstSeen = existing.FirstSeen
	}

	if _, err := h.Catalog.Put(md); err != nil {
		log.Errorf("Failed to store peer metadata for %s: %v", msg.NodeID.String(), err)
	}
}

// connectPeer dials the announced address and inserts the peer into the
// connection table and the probing rotation. The dial runs in its own
// goroutine so a slow or dead address never stalls the pubsub loop, and
// singleflight keeps repeated announcements from piling up parallel dials.
func (h *Hub) connectPeer(msg *protocol.AgentAnnouncement) {
	if len(msg.Addresses) == 0 {
		log.Warnf("Agent %s announced no addresses, ignoring", msg.NodeID.String())
		return
	}

	go func() {
		_, err, _ := h.sg.Do(msg.NodeID.String(), func() (any, error) {
			addr := msg.Addresses[0]

			rpcc, err := client.Dial(addr)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to %s @ %s: %w", msg.NodeID.String(), addr, err)
			}

			pc := &peerConn{
				id:       msg.NodeID,
				addr:     addr,
				epoch:    msg.Epoch,
				client:   rpcc,
				lastSeen: time.Now(),
				lastSeq:  msg.Seq,
			}

			h.mu.Lock()
			if _, exists := h.conns[msg.NodeID]; exists {
				// Lost the race against another announcement
				h.mu.Unlock()
				rpcc.Close()
				return nil, nil
			}
			h.conns[msg.NodeID] = pc
			h.mu.Unlock()

			if err := h.Monitor.Register(&pc.id); err != nil {
				log.Warnf("Failed to register %s with the monitor: %v", msg.NodeID.String(), err)
			}

			log.Infof("Agent %s connected @ %s", msg.NodeID.String(), addr)
			return nil, nil
		})
		if err != nil {
			log.Errorf("connectPeer: %v", err)
		}
	}()
}

// dropPeer removes the peer from the connection table, closes its client
// and takes it out of the probing rotation. The monitor may run a probe
// between the table delete and the unregister, it resolves nothing and
// skips the peer.
func (h *Hub) dropPeer(id *oid.Oid, reason string) {
	h.mu.Lock()
	pc, ok := h.conns[*id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, *id)
	h.mu.Unlock()

	pc.client.Close()

	if err := h.Monitor.Unregister(id); err != nil {
		log.Debugf("dropPeer(%s): %v", id.String(), err)
	}

	log.Infof("Agent %s dropped (%s)", id.String(), reason)
}
