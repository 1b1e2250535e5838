package peer

import (
	"reflect"
	"time"

	"latmon/oid"
)

type Metadata struct {
	NodeID    oid.Oid   `cbor:"1,keyasint,omitempty"` // Peer identifier
	Addresses []string  `cbor:"2,keyasint,omitempty"` // RPC addresses the peer advertised, in preference order
	Epoch     int64     `cbor:"3,keyasint,omitempty"` // Peer process start time in unix microseconds, changes on restart
	FirstSeen time.Time `cbor:"4,keyasint,omitempty"` // First time we ever heard from this peer
	LastSeen  time.Time `cbor:"5,keyasint,omitempty"` // Last time we heard from this peer
}

// Catalog defines the interface for the persistent peer address book.
// The catalog remembers every peer the hub has ever seen. It carries no
// probe results, those live only in memory while a peer is connected.
type Catalog interface {
	// Get retrieves the metadata for a peer, given the peer's OID.
	// It returns a Metadata object if found, or an error if the OID does not exist or an issue occurs.
	Get(*oid.Oid) (*Metadata, error)

	// Put stores or updates a peer's metadata in the catalog.
	// It returns the stored Metadata and an error if the operation fails.
	Put(*Metadata) (*Metadata, error)

	// Delete removes a peer from the catalog. Deleting an unknown peer is not an error.
	Delete(*oid.Oid) error

	// Enumerate returns a list of OIDs for all peers currently in the catalog.
	// It returns an error if an issue occurs during enumeration.
	Enumerate() ([]*oid.Oid, error)

	// Close releases the underlying store.
	Close() error
}

func IsMetadataEqual(a *Metadata, b *Metadata) bool {
	return reflect.DeepEqual(a, b)
}
