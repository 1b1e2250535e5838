package leveldb

import (
	"latmon/datamodel/peer"
	"latmon/oid"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixPeer = "PEER" // Peer metadata indexed by OID. Followed by textual OID representation
)

var _ peer.Catalog = (*PeerCatalog)(nil)

type PeerCatalog struct {
	store
}

func NewPeerCatalog(path string) (*PeerCatalog, error) {
	// Init the underlying LevelDB object
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	return &PeerCatalog{
		store: store{
			path: path,
			db:   ldb,
		},
	}, nil
}

func keyFromOid(oid *oid.Oid) []byte {
	return append([]byte(keyPrefixPeer), []byte(oid.String())...)
}

func (l *PeerCatalog) Get(oid *oid.Oid) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Fetch the record
	raw, err := l.db.Get(keyFromOid(oid), nil)
	if err != nil {
		return nil, err
	}

	// Unmarshall CBOR
	md := &peer.Metadata{}
	err = cbor.Unmarshal(raw, md)
	if err != nil {
		return nil, err
	}

	// Compare the OID just in case
	if md.NodeID != *oid {
		log.Errorf("Get: NodeID mismatch: %s != %s", oid.String(), md.NodeID.String())
		return nil, ErrCorrupted
	}

	return md, nil
}

func (l *PeerCatalog) Put(metadata *peer.Metadata) (*peer.Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	// Insert
	err = l.db.Put(keyFromOid(&metadata.NodeID), raw, nil)
	if err != nil {
		return nil, err
	}

	return metadata, nil
}

func (l *PeerCatalog) Delete(oid *oid.Oid) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// goleveldb treats deleting a missing key as a no-op
	return l.db.Delete(keyFromOid(oid), nil)
}

func (l *PeerCatalog) Enumerate() ([]*oid.Oid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*oid.Oid

	// Iterate over the peer key range and collect identifiers
	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixPeer)), nil)
	defer iter.Release()

	for iter.Next() {
		raw := iter.Value()

		metadata := &peer.Metadata{}
		err := cbor.Unmarshal(raw, metadata)
		if err != nil {
			return nil, err
		}

		results = append(results, &metadata.NodeID)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return results, nil
}
