package protocol

import (
	"testing"
	"time"

	"latmon/oid"

	"github.com/fxamacker/cbor/v2"
)

func TestAgentAnnouncementRoundTrip(t *testing.T) {
	nodeID, err := oid.Random(oid.OidTypeNode)
	if err != nil {
		t.Fatalf("Failed to generate node ID: %v", err)
	}
	clusterID, err := oid.Random(oid.OidTypeCluster)
	if err != nil {
		t.Fatalf("Failed to generate cluster ID: %v", err)
	}

	msg := &AgentAnnouncement{
		NodeID:    *nodeID,
		ClusterID: *clusterID,
		Addresses: []string{"192.0.2.7:5330", "198.51.100.7:5330"},
		Epoch:     time.Now().UnixMicro(),
		Seq:       17,
	}

	raw, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal announcement: %v", err)
	}

	back := &AgentAnnouncement{}
	if err := cbor.Unmarshal(raw, back); err != nil {
		t.Fatalf("Failed to unmarshal announcement: %v", err)
	}

	if !back.NodeID.Equal(&msg.NodeID) {
		t.Errorf("NodeID changed in transit")
	}
	if !back.ClusterID.Equal(&msg.ClusterID) {
		t.Errorf("ClusterID changed in transit")
	}
	if len(back.Addresses) != 2 || back.Addresses[0] != "192.0.2.7:5330" {
		t.Errorf("Addresses changed in transit: %v", back.Addresses)
	}
	if back.Epoch != msg.Epoch {
		t.Errorf("Epoch changed in transit: %d != %d", back.Epoch, msg.Epoch)
	}
	if back.Seq != 17 {
		t.Errorf("Seq changed in transit: %d", back.Seq)
	}
}

func TestClockResponseKeepsMicros(t *testing.T) {
	nodeID, err := oid.Random(oid.OidTypeNode)
	if err != nil {
		t.Fatalf("Failed to generate node ID: %v", err)
	}

	// Pick a value with sub-second precision to prove the wire format
	// does not truncate
	micros := time.Date(2026, 8, 25, 12, 0, 0, 123456000, time.UTC).UnixMicro()

	msg := &ClockResponse{NodeID: *nodeID, UnixMicros: micros}
	raw, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal clock response: %v", err)
	}

	back := &ClockResponse{}
	if err := cbor.Unmarshal(raw, back); err != nil {
		t.Fatalf("Failed to unmarshal clock response: %v", err)
	}
	if back.UnixMicros != micros {
		t.Errorf("Clock micros changed in transit: %d != %d", back.UnixMicros, micros)
	}
	if micro := time.UnixMicro(back.UnixMicros); micro.Nanosecond() != 123456000 {
		t.Errorf("Sub-second precision lost: %v", micro)
	}
}

func TestStatusResponseRoundTrip(t *testing.T) {
	hubID, err := oid.Random(oid.OidTypeNode)
	if err != nil {
		t.Fatalf("Failed to generate hub ID: %v", err)
	}
	peerID, err := oid.Random(oid.OidTypeNode)
	if err != nil {
		t.Fatalf("Failed to generate peer ID: %v", err)
	}

	msg := &StatusResponse{
		NodeID: *hubID,
		Peers: []*PeerStatus{
			{
				NodeID:          *peerID,
				Addr:            "192.0.2.9:5330",
				Samples:         5,
				AvgLatency:      0.0123,
				AvgClockOffset:  -0.0042,
				LastProbeMicros: time.Now().UnixMicro(),
			},
		},
	}

	raw, err := cbor.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal status response: %v", err)
	}

	back := &StatusResponse{}
	if err := cbor.Unmarshal(raw, back); err != nil {
		t.Fatalf("Failed to unmarshal status response: %v", err)
	}
	if len(back.Peers) != 1 {
		t.Fatalf("Expected one peer, got %d", len(back.Peers))
	}
	got := back.Peers[0]
	if !got.NodeID.Equal(peerID) {
		t.Errorf("Peer ID changed in transit")
	}
	if got.AvgLatency != 0.0123 || got.AvgClockOffset != -0.0042 {
		t.Errorf("Averages changed in transit: %v %v", got.AvgLatency, got.AvgClockOffset)
	}
	if got.Samples != 5 {
		t.Errorf("Samples changed in transit: %d", got.Samples)
	}
}
