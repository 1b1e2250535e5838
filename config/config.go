package config

import (
	"encoding/json"
	"os"
	"time"

	"latmon/oid"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config represents the configuration for a latmon daemon, hub or agent
type Config struct {
	// Default config file location
	configFile string

	// Node identity. Generated by the init command, shared cluster ID
	// must be copied to every member.
	Node struct {
		NodeID    *oid.Oid `json:"id"`
		ClusterID *oid.Oid `json:"cluster"`
	} `json:"node"`

	Network struct {
		RPCListenAddress       string `json:"rpc_listen"`
		RPCAdvertisedAddress   string `json:"rpc_advertised"`
		PubSubMulticastAddress string `json:"multicast"`
	} `json:"network"`

	Monitor struct {
		// Total budget for one probing pass over all peers. The per-peer
		// interval is this divided by the number of live peers.
		CycleMs int `json:"cycle_ms"`
		// Drop a peer after this long without an announcement.
		PeerTTLSeconds int `json:"peer_ttl_s"`
		// Agent announcement cadence.
		AnnounceSeconds  int `json:"announce_s"`
		AnnounceJitterMs int `json:"announce_jitter_ms"`
	} `json:"monitor"`

	DataStore struct {
		PeerCatalogPath string `json:"peers"`
	} `json:"datastore"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Network.RPCListenAddress = ":5330"
	cfg.Network.RPCAdvertisedAddress = ""
	cfg.Network.PubSubMulticastAddress = "239.0.76.77:5331"

	cfg.Monitor.CycleMs = 1000
	cfg.Monitor.PeerTTLSeconds = 15
	cfg.Monitor.AnnounceSeconds = 5
	cfg.Monitor.AnnounceJitterMs = 250

	cfg.DataStore.PeerCatalogPath = "/tmp/latmon/peers"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}

// CycleDuration is the total probe cycle budget. Zero or negative settings
// fall back to one second.
func (c *Config) CycleDuration() time.Duration {
	if c.Monitor.CycleMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Monitor.CycleMs) * time.Millisecond
}

// PeerTTL is how long a peer may stay silent before the hub drops it.
func (c *Config) PeerTTL() time.Duration {
	if c.Monitor.PeerTTLSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Monitor.PeerTTLSeconds) * time.Second
}

// AnnounceInterval is the agent announcement cadence.
func (c *Config) AnnounceInterval() time.Duration {
	if c.Monitor.AnnounceSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Monitor.AnnounceSeconds) * time.Second
}

// AnnounceJitter spreads announcements so agents started together do not
// stay synchronized.
func (c *Config) AnnounceJitter() time.Duration {
	if c.Monitor.AnnounceJitterMs < 0 {
		return 0
	}
	return time.Duration(c.Monitor.AnnounceJitterMs) * time.Millisecond
}
