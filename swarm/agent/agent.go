// Package agent implements the probed end of the swarm. An agent serves the
// clock RPC and multicasts periodic announcements so the hub can find it.
package agent

import (
	"context"
	"errors"
	"net"
	"time"

	"latmon/config"
	"latmon/helper/timer"
	"latmon/net/crpc"
	"latmon/net/mpubsub"
	"latmon/oid"
	"latmon/swarm/protocol"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

type Agent struct {
	// Identity
	NodeID    *oid.Oid
	ClusterID *oid.Oid
	Addresses []string

	// Networking
	RpcServer *crpc.Server
	PubSub    *mpubsub.PubSub

	// RPC implementations
	RpcHandlers *Server

	// Announcement pacing
	announceEvery  time.Duration
	announceJitter time.Duration

	// epoch pins this process start, seq counts announcements within it.
	// The hub compares epochs to spot restarts.
	epoch int64
	seq   uint64
}

func New(cfg *config.Config, rpcServer *crpc.Server, pubsub *mpubsub.PubSub) (*Agent, error) {
	if cfg.Node.NodeID == nil || cfg.Node.ClusterID == nil {
		return nil, errors.New("node identity is not configured, run init first")
	}

	// Create the agent object
	a := &Agent{
		NodeID:         cfg.Node.NodeID,
		ClusterID:      cfg.Node.ClusterID,
		announceEvery:  cfg.AnnounceInterval(),
		announceJitter: cfg.AnnounceJitter(),
		epoch:          time.Now().UnixMicro(),
	}

	if cfg.Network.RPCAdvertisedAddress != "" {
		a.Addresses = append(a.Addresses, cfg.Network.RPCAdvertisedAddress)
	} else {
		// Figure out the IP addresses and ports on which the RPCServer is listening:
		addrs := rpcServer.Addr()

		// Keep the non-loopback addresses, those are the ones the hub can reach.
		for _, addr := range addrs {
			if tcpAddr, ok := addr.(*net.TCPAddr); ok {
				if !tcpAddr.IP.IsLoopback() {
					a.Addresses = append(a.Addresses, tcpAddr.String())
				}
			}
		}
	}

	if len(a.Addresses) == 0 {
		return nil, errors.New("no non-loopback addresses found")
	}

	log.Infof("Advertised RPC addresses: %s", a.Addresses)

	// Set up RPC Server
	a.RpcHandlers = &Server{agent: a}
	a.RpcServer = rpcServer
	if err := a.RpcServer.Register(a.RpcHandlers); err != nil {
		return nil, err
	}

	// Set up PubSub. The agent only publishes, it subscribes to nothing.
	a.PubSub = pubsub

	log.Infof("I am agent %s in cluster %s, listening on %s", a.NodeID.String(), a.ClusterID.String(), a.Addresses)

	return a, nil
}

// This is run via the RunWithTicker() helper
func (a *Agent) publishAnnouncement(ctx context.Context) error {
	a.seq++
	msg := &protocol.AgentAnnouncement{
		NodeID:    *a.NodeID,
		ClusterID: *a.ClusterID,
		Addresses: a.Addresses,
		Epoch:     a.epoch,
		Seq:       a.seq,
	}

	if err := a.PubSub.Publish(protocol.TopicAgentAnnouncement, msg); err != nil {
		log.Errorf("Failed to publish agent announcement: %v", err)
	}

	return nil
}

// publishGoodbye lets the hub drop us right away instead of waiting out the
// announcement TTL. Best effort, the TTL sweep covers the silent case.
func (a *Agent) publishGoodbye() {
	msg := &protocol.AgentGoodbye{
		NodeID:    *a.NodeID,
		ClusterID: *a.ClusterID,
	}

	if err := a.PubSub.Publish(protocol.TopicAgentGoodbye, msg); err != nil {
		log.Errorf("Failed to publish agent goodbye: %v", err)
	}
}

func (a *Agent) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return a.RpcServer.Serve(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: a.announceEvery,
			Jitter:   a.announceJitter,
		}
		return timer.RunWithTicker(cctx, interval, a.publishAnnouncement)
	})

	err := wg.Wait()

	a.publishGoodbye()

	return err
}
