// Package protocol defines the messages exchanged between hub and agents,
// and the pubsub topics / RPC method names they travel under.
package protocol

import (
	"latmon/oid"
)

// Pubsub topics and RPC methods. The names follow the receiver types that
// handle them, see net/mpubsub and net/crpc registration.
const (
	TopicAgentAnnouncement = "PubSub.AgentAnnouncement"
	TopicAgentGoodbye      = "PubSub.AgentGoodbye"

	MethodClock  = "Server.Clock"
	MethodStatus = "Server.Status"
)

// AgentAnnouncement is multicast by every agent at a jittered interval.
// The hub uses it for discovery, liveness and restart detection.
type AgentAnnouncement struct {
	NodeID    oid.Oid  `cbor:"1,keyasint,omitempty"` // Agent identifier
	ClusterID oid.Oid  `cbor:"2,keyasint,omitempty"` // Cluster the agent belongs to
	Addresses []string `cbor:"3,keyasint,omitempty"` // RPC addresses the agent listens on, in preference order
	Epoch     int64    `cbor:"4,keyasint,omitempty"` // Agent process start time in unix microseconds
	Seq       uint64   `cbor:"5,keyasint,omitempty"` // Announcement counter within this epoch, starts at 1
}

// AgentGoodbye is multicast once on clean agent shutdown so the hub can
// drop the peer without waiting for the TTL sweep.
type AgentGoodbye struct {
	NodeID    oid.Oid `cbor:"1,keyasint,omitempty"` // Agent identifier
	ClusterID oid.Oid `cbor:"2,keyasint,omitempty"` // Cluster the agent belongs to
}

type ClockRequest struct {
	NodeID oid.Oid `cbor:"1,keyasint,omitempty"` // Requesting node
}

type ClockResponse struct {
	NodeID     oid.Oid `cbor:"1,keyasint,omitempty"` // Responding agent
	UnixMicros int64   `cbor:"2,keyasint,omitempty"` // Agent clock at the time the request was handled
}

type StatusRequest struct {
	NodeID oid.Oid `cbor:"1,keyasint,omitempty"` // Requesting node
}

// PeerStatus carries the probe statistics for one peer. Durations are in
// seconds, matching what the hub logs.
type PeerStatus struct {
	NodeID          oid.Oid `cbor:"1,keyasint,omitempty"` // Peer identifier
	Addr            string  `cbor:"2,keyasint,omitempty"` // Address the hub currently probes
	Samples         int     `cbor:"3,keyasint,omitempty"` // Number of samples folded into the averages, caps at the window size
	AvgLatency      float64 `cbor:"4,keyasint,omitempty"` // Running average round-trip time in seconds
	AvgClockOffset  float64 `cbor:"5,keyasint,omitempty"` // Running average clock offset in seconds
	LastProbeMicros int64   `cbor:"6,keyasint,omitempty"` // Time of the last successful probe in unix microseconds, zero if never
}

type StatusResponse struct {
	NodeID oid.Oid       `cbor:"1,keyasint,omitempty"` // Responding hub
	Peers  []*PeerStatus `cbor:"2,keyasint,omitempty"` // One entry per registered peer, in probing order
}
