package commands

import (
	"context"

	"latmon/config"
	"latmon/oid"

	log "github.com/sirupsen/logrus"
)

// RunInit generates the node identity and writes the initial config file.
// Pass the cluster id of an existing deployment to join it, otherwise a
// fresh cluster id is generated.
func RunInit(ctx context.Context, cfg *config.Config, cluster string) {
	nodeID, err := oid.Random(oid.OidTypeNode)
	if err != nil {
		log.Fatalf("Failed to generate node id: %v", err)
	}
	cfg.Node.NodeID = nodeID

	if cluster != "" {
		clusterID, err := oid.FromString(cluster)
		if err != nil {
			log.Fatalf("Invalid cluster id %s: %v", cluster, err)
		}
		if clusterID.Type() != oid.OidTypeCluster {
			log.Fatalf("%s is not a cluster id", cluster)
		}
		cfg.Node.ClusterID = clusterID
	} else {
		clusterID, err := oid.Random(oid.OidTypeCluster)
		if err != nil {
			log.Fatalf("Failed to generate cluster id: %v", err)
		}
		cfg.Node.ClusterID = clusterID
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}

	log.Infof("Initialized node %s in cluster %s", cfg.Node.NodeID.String(), cfg.Node.ClusterID.String())
	log.Infof("Other nodes join this cluster with: init -cluster %s", cfg.Node.ClusterID.String())
}
