package config

import (
	"path/filepath"
	"testing"
	"time"

	"latmon/oid"
)

func TestDefaults(t *testing.T) {
	cfg := NewEmptyConfig("/tmp/does-not-matter.json")

	if cfg.CycleDuration() != time.Second {
		t.Errorf("Default cycle should be 1s, got %v", cfg.CycleDuration())
	}
	if cfg.PeerTTL() != 15*time.Second {
		t.Errorf("Default peer TTL should be 15s, got %v", cfg.PeerTTL())
	}
	if cfg.AnnounceInterval() != 5*time.Second {
		t.Errorf("Default announce interval should be 5s, got %v", cfg.AnnounceInterval())
	}
	if cfg.Network.PubSubMulticastAddress == "" {
		t.Error("Default multicast address should be set")
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := NewEmptyConfig("/tmp/does-not-matter.json")
	cfg.Monitor.CycleMs = 0
	cfg.Monitor.PeerTTLSeconds = -1
	cfg.Monitor.AnnounceSeconds = 0
	cfg.Monitor.AnnounceJitterMs = -5

	if cfg.CycleDuration() != time.Second {
		t.Errorf("Zero cycle should fall back to 1s, got %v", cfg.CycleDuration())
	}
	if cfg.PeerTTL() != 15*time.Second {
		t.Errorf("Negative TTL should fall back to 15s, got %v", cfg.PeerTTL())
	}
	if cfg.AnnounceInterval() != 5*time.Second {
		t.Errorf("Zero announce interval should fall back to 5s, got %v", cfg.AnnounceInterval())
	}
	if cfg.AnnounceJitter() != 0 {
		t.Errorf("Negative jitter should clamp to zero, got %v", cfg.AnnounceJitter())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latmon.json")

	cfg := NewEmptyConfig(path)

	var err error
	cfg.Node.NodeID, err = oid.Random(oid.OidTypeNode)
	if err != nil {
		t.Fatalf("Failed to generate node ID: %v", err)
	}
	cfg.Node.ClusterID, err = oid.Random(oid.OidTypeCluster)
	if err != nil {
		t.Fatalf("Failed to generate cluster ID: %v", err)
	}
	cfg.Monitor.CycleMs = 2500
	cfg.Network.RPCListenAddress = "127.0.0.1:7777"

	if err := cfg.Save(); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := NewConfigFromFile(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if !loaded.Node.NodeID.Equal(cfg.Node.NodeID) {
		t.Errorf("Node ID changed across save/load: %s != %s", loaded.Node.NodeID.String(), cfg.Node.NodeID.String())
	}
	if !loaded.Node.ClusterID.Equal(cfg.Node.ClusterID) {
		t.Errorf("Cluster ID changed across save/load")
	}
	if loaded.Monitor.CycleMs != 2500 {
		t.Errorf("Cycle setting changed across save/load: got %d", loaded.Monitor.CycleMs)
	}
	if loaded.Network.RPCListenAddress != "127.0.0.1:7777" {
		t.Errorf("Listen address changed across save/load: got %s", loaded.Network.RPCListenAddress)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewConfigFromFile(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("Loading a missing config file should fail")
	}
}
