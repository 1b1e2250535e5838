package monitor

import (
	"errors"
	"time"

	"latmon/oid"
)

var ErrDuplicateEntry = errors.New("entry is already registered")
var ErrUnknownEntry = errors.New("entry is not registered")

// Entry holds the probing state for one registered peer. Entries are owned
// by a Registry, prev/next are the positional links of its list.
type Entry struct {
	id        oid.Oid
	stats     RunningStats
	lastProbe time.Time

	prev *Entry
	next *Entry
}

func (e *Entry) ID() oid.Oid {
	return e.id
}

// Stats returns a copy of the entry's running averages.
func (e *Entry) Stats() RunningStats {
	return e.stats
}

func (e *Entry) LastProbe() time.Time {
	return e.lastProbe
}

// Registry keeps one Entry per registered peer in a doubly linked list plus
// a lookup map. The list order is insertion order, which is also the
// round-robin probing order. Registry does no locking of its own, the
// Monitor serializes all access.
type Registry struct {
	head    *Entry
	tail    *Entry
	entries map[oid.Oid]*Entry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[oid.Oid]*Entry),
	}
}

func (r *Registry) Len() int {
	return len(r.entries)
}

func (r *Registry) Head() *Entry {
	return r.head
}

func (r *Registry) Lookup(id *oid.Oid) *Entry {
	return r.entries[*id]
}

// Register appends a fresh Entry for id at the tail of the list.
func (r *Registry) Register(id *oid.Oid) (*Entry, error) {
	if _, ok := r.entries[*id]; ok {
		return nil, ErrDuplicateEntry
	}

	e := &Entry{id: *id}
	if r.tail == nil {
		r.head = e
	} else {
		e.prev = r.tail
		r.tail.next = e
	}
	r.tail = e
	r.entries[*id] = e

	return e, nil
}

// Unregister splices the Entry for id out of the list and returns it. The
// neighbours are relinked so iteration order of the remaining entries is
// preserved.
func (r *Registry) Unregister(id *oid.Oid) (*Entry, error) {
	e, ok := r.entries[*id]
	if !ok {
		return nil, ErrUnknownEntry
	}

	if e.prev != nil {
		e.prev.next = e.next
	} else {
		r.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		r.tail = e.prev
	}
	e.prev = nil
	e.next = nil
	delete(r.entries, *id)

	return e, nil
}

// Each calls fn for every Entry from head to tail, stopping early if fn
// returns false.
func (r *Registry) Each(fn func(*Entry) bool) {
	for e := r.head; e != nil; e = e.next {
		if !fn(e) {
			return
		}
	}
}

// IDs returns the registered identifiers in list order.
func (r *Registry) IDs() []oid.Oid {
	out := make([]oid.Oid, 0, len(r.entries))
	r.Each(func(e *Entry) bool {
		out = append(out, e.id)
		return true
	})
	return out
}
