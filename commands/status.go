package commands

import (
	"context"
	"net"
	"time"

	"latmon/config"
	"latmon/swarm/client"
	"latmon/swarm/protocol"

	log "github.com/sirupsen/logrus"
)

// statusAddr picks the hub address to query: the -addr flag if given,
// otherwise the configured listen address with a loopback host filled in.
func statusAddr(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	addr := cfg.Network.RPCListenAddress
	if host, port, err := net.SplitHostPort(addr); err == nil && host == "" {
		return net.JoinHostPort("127.0.0.1", port)
	}
	return addr
}

// RunStatus queries a running hub for its probe statistics.
func RunStatus(ctx context.Context, cfg *config.Config, addr string) {
	if cfg.Node.NodeID == nil {
		log.Fatal("Node identity is not configured, run init first")
	}

	hubAddr := statusAddr(cfg, addr)

	c, err := client.Dial(hubAddr)
	if err != nil {
		log.Fatalf("Failed to connect to hub at %s: %v", hubAddr, err)
	}
	defer c.Close()

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := c.Status(cctx, &protocol.StatusRequest{NodeID: *cfg.Node.NodeID})
	if err != nil {
		log.Fatalf("Status call failed: %v", err)
	}

	log.Infof("Hub %s @ %s: %d peers in rotation", res.NodeID.String(), hubAddr, len(res.Peers))
	for _, p := range res.Peers {
		if p.Samples == 0 {
			log.Infof("Peer: %s @ %s, no probes yet", p.NodeID.String(), p.Addr)
			continue
		}
		log.Infof("Peer: %s @ %s, latency: %.3fms, clock offset: %+.3fms, samples: %d, last probe: %s",
			p.NodeID.String(), p.Addr, p.AvgLatency*1000, p.AvgClockOffset*1000, p.Samples,
			time.UnixMicro(p.LastProbeMicros).Format(time.RFC3339))
	}
}
