package commands

import (
	"context"
	"errors"
	"net"

	"latmon/config"
	"latmon/datastore/leveldb"
	"latmon/net/crpc"
	"latmon/net/mpubsub"
	"latmon/swarm/hub"

	log "github.com/sirupsen/logrus"
)

// RunHub starts the probing coordinator and blocks until ctx is cancelled.
func RunHub(ctx context.Context, cfg *config.Config) {
	catalog, err := leveldb.NewPeerCatalog(cfg.DataStore.PeerCatalogPath)
	if err != nil {
		log.Fatalf("Failed to open peer catalog: %v", err)
	}
	defer catalog.Close()

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

	// Create the hub
	h, err := hub.New(cfg, catalog, rsrv, pubsub)
	if err != nil {
		log.Fatalf("Failed to create hub: %v", err)
	}

	// Run the hub
	if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Hub stopped: %v", err)
	}
	log.Info("Hub stopped")
}
