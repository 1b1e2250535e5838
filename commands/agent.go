package commands

import (
	"context"
	"errors"
	"net"

	"latmon/config"
	"latmon/net/crpc"
	"latmon/net/mpubsub"
	"latmon/swarm/agent"

	log "github.com/sirupsen/logrus"
)

// RunAgent starts the probed daemon and blocks until ctx is cancelled.
func RunAgent(ctx context.Context, cfg *config.Config) {
	// Create the CRPC server and listener
	rpcl, err := net.Listen("tcp4", cfg.Network.RPCListenAddress)
	if err != nil {
		log.Fatalf("Failed to create RPC listener: %v", err)
	}

	rsrv := crpc.NewServer(rpcl)
	log.Infof("RPC server listening on %s", rsrv.Addr())

	// Create pubsub
	pubsub, err := mpubsub.Open(cfg.Network.PubSubMulticastAddress)
	if err != nil {
		log.Fatalf("Failed to open pubsub on %s: %v", cfg.Network.PubSubMulticastAddress, err)
	}
	defer pubsub.Close()

	// Create the agent
	a, err := agent.New(cfg, rsrv, pubsub)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	// Run the agent
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Agent stopped: %v", err)
	}
	log.Info("Agent stopped")
}
