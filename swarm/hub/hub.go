// Package hub implements the probing coordinator. The hub discovers agents
// through multicast announcements, keeps one RPC connection per live agent,
// feeds the peer set into the monitor and answers status queries.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"latmon/config"
	"latmon/datamodel/peer"
	"latmon/helper/timer"
	"latmon/monitor"
	"latmon/net/crpc"
	"latmon/net/mpubsub"
	"latmon/oid"
	"latmon/swarm/client"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

// peerConn is the live transport handle for one agent. It doubles as the
// monitor's probe target.
type peerConn struct {
	id       oid.Oid
	addr     string
	epoch    int64
	client   *client.Client
	lastSeen time.Time
	lastSeq  uint64
}

func (p *peerConn) Addr() string {
	return p.addr
}

type Hub struct {
	// Identity
	NodeID    *oid.Oid
	ClusterID *oid.Oid

	// Probing core and persistent peer address book
	Monitor *monitor.Monitor
	Catalog peer.Catalog

	// Networking
	RpcServer *crpc.Server
	PubSub    *mpubsub.PubSub

	// RPC and PubSub implementations
	RpcHandlers    *Server
	PubSubHandlers *PubSub

	peerTTL time.Duration

	// Live connection table. Never call into the Monitor with mu held:
	// the monitor resolves targets under its own lock.
	mu    sync.Mutex
	conns map[oid.Oid]*peerConn

	// Deduplicates concurrent dial attempts per peer
	sg singleflight.Group
}

func New(cfg *config.Config, catalog peer.Catalog, rpcServer *crpc.Server, pubsub *mpubsub.PubSub) (*Hub, error) {
	if cfg.Node.NodeID == nil || cfg.Node.ClusterID == nil {
		return nil, errors.New("node identity is not configured, run init first")
	}

	h := &Hub{
		NodeID:    cfg.Node.NodeID,
		ClusterID: cfg.Node.ClusterID,
		Catalog:   catalog,
		peerTTL:   cfg.PeerTTL(),
		conns:     make(map[oid.Oid]*peerConn),
	}

	h.Monitor = monitor.New(monitor.Options{Cycle: cfg.CycleDuration()}, h, h, h)

	// Set up RPC Server
	h.RpcHandlers = &Server{hub: h}
	h.RpcServer = rpcServer
	if err := h.RpcServer.Register(h.RpcHandlers); err != nil {
		return nil, err
	}

	// Set up PubSub
	h.PubSubHandlers = &PubSub{hub: h}
	h.PubSub = pubsub
	h.PubSub.Register(h.PubSubHandlers)

	log.Infof("I am hub %s in cluster %s, probing cycle %v", h.NodeID.String(), h.ClusterID.String(), cfg.CycleDuration())

	return h, nil
}

func (h *Hub) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return h.PubSub.Listen(cctx)
	})

	wg.Go(func() error {
		return h.RpcServer.Serve(cctx)
	})

	wg.Go(func() error {
		return h.Monitor.Run(cctx)
	})

	wg.Go(func() error {
		interval := &timer.Interval{
			Duration: h.peerTTL / 3,
			Jitter:   h.peerTTL / 15,
		}
		return timer.RunWithTicker(cctx, interval, h.sweepStalePeers)
	})

	err := wg.Wait()

	h.closeAllPeers()

	return err
}

// closeAllPeers tears down every live connection, used on the way out.
func (h *Hub) closeAllPeers() {
	h.mu.Lock()
	conns := make([]*peerConn, 0, len(h.conns))
	for _, pc := range h.conns {
		conns = append(conns, pc)
	}
	h.conns = make(map[oid.Oid]*peerConn)
	h.mu.Unlock()

	for _, pc := range conns {
		pc.client.Close()
	}
}

func (h *Hub) peerAddr(id *oid.Oid) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if pc, ok := h.conns[*id]; ok {
		return pc.addr
	}
	return ""
}
