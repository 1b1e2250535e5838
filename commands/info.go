package commands

import (
	"context"

	"latmon/config"
	"latmon/datastore/leveldb"

	log "github.com/sirupsen/logrus"
)

// RunInfo dumps the persistent peer catalog. Works offline, the hub does
// not have to be running.
func RunInfo(ctx context.Context, cfg *config.Config) {
	catalog, err := leveldb.NewPeerCatalog(cfg.DataStore.PeerCatalogPath)
	if err != nil {
		log.Fatalf("Failed to open peer catalog: %v", err)
	}
	defer catalog.Close()

	ids, err := catalog.Enumerate()
	if err != nil {
		log.Errorf("Failed to enumerate peer catalog: %v", err)
		return
	}

	log.Infof("Peer catalog: %d peers known", len(ids))
	for _, id := range ids {
		md, err := catalog.Get(id)
		if err != nil {
			log.Errorf("Failed to get peer metadata: %v", err)
			continue
		}
		log.Infof("Peer: %s, addresses: %v, epoch: %d, first seen: %v, last seen: %v",
			md.NodeID.String(), md.Addresses, md.Epoch, md.FirstSeen, md.LastSeen)
	}
}
