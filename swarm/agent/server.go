package agent

import (
	"time"

	"latmon/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

type Server struct {
	agent *Agent
}

// RPC: Clock
func (s *Server) Clock(req *protocol.ClockRequest, res *protocol.ClockResponse) error {
	log.Debugf("Server.Clock from %s", req.NodeID.String())
	res.NodeID = *s.agent.NodeID
	res.UnixMicros = time.Now().UnixMicro()
	return nil
}
