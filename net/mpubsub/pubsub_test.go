package mpubsub

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type PingMsg struct {
	Value int `cbor:"1,keyasint,omitempty"`
}

type Events struct {
	pings chan int
}

func (e *Events) Ping(msg *PingMsg) {
	e.pings <- msg.Value
}

// newLoopbackPubSub wires a PubSub over a plain unicast UDP socket pair so
// tests do not depend on multicast support in the environment.
func newLoopbackPubSub(t *testing.T) *PubSub {
	t.Helper()

	rconn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to open read socket: %v", err)
	}

	wconn, err := net.DialUDP("udp4", nil, rconn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		rconn.Close()
		t.Fatalf("Failed to open write socket: %v", err)
	}

	ps := New(rconn, wconn)
	t.Cleanup(func() { ps.Close() })
	return ps
}

func TestPublishDispatch(t *testing.T) {
	ps := newLoopbackPubSub(t)

	events := &Events{pings: make(chan int, 8)}
	ps.Register(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ps.Listen(ctx)

	if err := ps.Publish("Events.Ping", &PingMsg{Value: 42}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case v := <-events.pings:
		if v != 42 {
			t.Errorf("Expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Message was not dispatched")
	}
}

func TestUnknownTopicIsIgnored(t *testing.T) {
	ps := newLoopbackPubSub(t)

	events := &Events{pings: make(chan int, 8)}
	ps.Register(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ps.Listen(ctx)

	// Neither of these may kill the listen loop
	if err := ps.Publish("Nope.Nope", &PingMsg{Value: 1}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := ps.Publish("Events.Nope", &PingMsg{Value: 2}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := ps.Publish("Events.Ping", &PingMsg{Value: 3}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case v := <-events.pings:
		if v != 3 {
			t.Errorf("Expected 3, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Listen loop died on an unknown topic")
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	ps := newLoopbackPubSub(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ps.Listen(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestRegisterRejectsUnsuitableTypes(t *testing.T) {
	ps := newLoopbackPubSub(t)

	// Neither call may register anything
	ps.Register(&struct{}{})
	ps.Register(&PingMsg{})

	found := 0
	ps.serviceMap.Range(func(key, value any) bool {
		found++
		return true
	})
	if found != 0 {
		t.Errorf("Expected no registered services, found %d", found)
	}
}
