package hub

import (
	"latmon/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

type Server struct {
	hub *Hub
}

// RPC: Status
func (s *Server) Status(req *protocol.StatusRequest, res *protocol.StatusResponse) error {
	log.Debugf("Server.Status from %s", req.NodeID.String())

	snap := s.hub.Monitor.Snapshot()

	res.NodeID = *s.hub.NodeID
	res.Peers = make([]*protocol.PeerStatus, 0, len(snap))
	for _, row := range snap {
		ps := &protocol.PeerStatus{
			NodeID:         row.NodeID,
			Addr:           s.hub.peerAddr(&row.NodeID),
			Samples:        row.Stats.Samples,
			AvgLatency:     row.Stats.AvgLatency,
			AvgClockOffset: row.Stats.AvgClockOffset,
		}
		if !row.LastProbe.IsZero() {
			ps.LastProbeMicros = row.LastProbe.UnixMicro()
		}
		res.Peers = append(res.Peers, ps)
	}

	return nil
}
