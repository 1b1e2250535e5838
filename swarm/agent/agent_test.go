package agent

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"latmon/config"
	"latmon/net/crpc"
	"latmon/net/mpubsub"
	"latmon/oid"
	"latmon/swarm/protocol"
)

// PubSub collects the agent's multicast traffic in tests. The type name
// matters, topics dispatch on "<TypeName>.<Method>".
type PubSub struct {
	announcements chan *protocol.AgentAnnouncement
	goodbyes      chan *protocol.AgentGoodbye
}

func (p *PubSub) AgentAnnouncement(msg *protocol.AgentAnnouncement) {
	p.announcements <- msg
}

func (p *PubSub) AgentGoodbye(msg *protocol.AgentGoodbye) {
	p.goodbyes <- msg
}

func newTestPubSub(t *testing.T) (*mpubsub.PubSub, *PubSub) {
	t.Helper()

	// Unicast loopback pair, so tests do not depend on multicast support.
	rconn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to open read socket: %v", err)
	}
	wconn, err := net.DialUDP("udp4", nil, rconn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		rconn.Close()
		t.Fatalf("Failed to open write socket: %v", err)
	}

	ps := mpubsub.New(rconn, wconn)
	t.Cleanup(func() { ps.Close() })

	sink := &PubSub{
		announcements: make(chan *protocol.AgentAnnouncement, 8),
		goodbyes:      make(chan *protocol.AgentGoodbye, 8),
	}
	ps.Register(sink)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ps.Listen(ctx)

	return ps, sink
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	nodeID, err := oid.Random(oid.OidTypeNode)
	if err != nil {
		t.Fatalf("Failed to generate node id: %v", err)
	}
	clusterID, err := oid.Random(oid.OidTypeCluster)
	if err != nil {
		t.Fatalf("Failed to generate cluster id: %v", err)
	}

	cfg := config.NewEmptyConfig("")
	cfg.Node.NodeID = nodeID
	cfg.Node.ClusterID = clusterID
	return cfg
}

func newTestAgent(t *testing.T) (*Agent, *PubSub, string) {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	cfg := newTestConfig(t)
	// Advertise the loopback listener directly, there may be no routable
	// interface in the test environment.
	cfg.Network.RPCAdvertisedAddress = listener.Addr().String()

	ps, sink := newTestPubSub(t)

	a, err := New(cfg, crpc.NewServer(listener), ps)
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}
	return a, sink, listener.Addr().String()
}

func TestNewRequiresIdentity(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer listener.Close()

	cfg := config.NewEmptyConfig("")
	cfg.Network.RPCAdvertisedAddress = listener.Addr().String()

	if _, err := New(cfg, crpc.NewServer(listener), nil); err == nil {
		t.Fatal("Expected an error for a config without identity")
	}
}

func TestNewUsesAdvertisedAddress(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer listener.Close()

	cfg := newTestConfig(t)
	cfg.Network.RPCAdvertisedAddress = "10.1.2.3:5330"

	ps, _ := newTestPubSub(t)
	a, err := New(cfg, crpc.NewServer(listener), ps)
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}

	if len(a.Addresses) != 1 || a.Addresses[0] != "10.1.2.3:5330" {
		t.Errorf("Expected the advertised address, got %v", a.Addresses)
	}
}

func TestNewRejectsLoopbackOnly(t *testing.T) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer listener.Close()

	cfg := newTestConfig(t)

	ps, _ := newTestPubSub(t)
	if _, err := New(cfg, crpc.NewServer(listener), ps); err == nil {
		t.Fatal("Expected an error when only loopback addresses are available")
	}
}

func TestClockRPC(t *testing.T) {
	a, _, addr := newTestAgent(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.RpcServer.Serve(ctx)

	client, err := crpc.Dial("tcp4", addr)
	if err != nil {
		t.Fatalf("Failed to dial agent: %v", err)
	}
	defer client.Close()

	before := time.Now().UnixMicro()
	res := &protocol.ClockResponse{}
	cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer ccancel()
	if err := client.Call(cctx, protocol.MethodClock, &protocol.ClockRequest{NodeID: *a.NodeID}, res); err != nil {
		t.Fatalf("Clock call failed: %v", err)
	}
	after := time.Now().UnixMicro()

	if !res.NodeID.Equal(a.NodeID) {
		t.Errorf("Expected node %s, got %s", a.NodeID.String(), res.NodeID.String())
	}
	if res.UnixMicros < before || res.UnixMicros > after {
		t.Errorf("Clock reading %d outside [%d, %d]", res.UnixMicros, before, after)
	}
}

func TestAnnouncementSequence(t *testing.T) {
	a, sink, _ := newTestAgent(t)

	ctx := context.Background()
	a.publishAnnouncement(ctx)
	a.publishAnnouncement(ctx)

	for want := uint64(1); want <= 2; want++ {
		select {
		case msg := <-sink.announcements:
			if msg.Seq != want {
				t.Errorf("Expected seq %d, got %d", want, msg.Seq)
			}
			if msg.Epoch != a.epoch {
				t.Errorf("Expected epoch %d, got %d", a.epoch, msg.Epoch)
			}
			if !msg.NodeID.Equal(a.NodeID) || !msg.ClusterID.Equal(a.ClusterID) {
				t.Error("Announcement carries the wrong identity")
			}
			if len(msg.Addresses) == 0 {
				t.Error("Announcement carries no addresses")
			}
		case <-time.After(time.Second):
			t.Fatalf("Announcement %d was not delivered", want)
		}
	}
}

func TestRunPublishesGoodbyeOnStop(t *testing.T) {
	a, sink, _ := newTestAgent(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give Run a moment to start its goroutines, then shut down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	select {
	case msg := <-sink.goodbyes:
		if !msg.NodeID.Equal(a.NodeID) {
			t.Errorf("Goodbye from %s, expected %s", msg.NodeID.String(), a.NodeID.String())
		}
	case <-time.After(time.Second):
		t.Fatal("No goodbye was published")
	}
}
