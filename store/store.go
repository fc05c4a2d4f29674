// Package store implements RepriseDB's multi-version key/value layer: the
// RevisionDataStore that persists every write a collection has ever seen,
// the MemoryDataStore that holds a single transaction's uncommitted
// overlay, and the ProxyDataStore that merge-joins a stack of stores of
// either kind into one ordered view. All three satisfy the same Store
// interface, so the entry and index packages above never need to know
// which one (or which combination) they are talking to.
package store

import "github.com/pkg/errors"

// ErrNotFound is returned by GetItem, and terminates iteration silently
// (rather than being returned) from IterItems, whenever a key has no
// visible value within the requested revision window. Both a key that
// never existed and a key that existed but only outside the window report
// ErrNotFound identically; callers that care about that window itself
// already chose its bounds.
var ErrNotFound = errors.New("store: not found")

// Item is a single user key/value pair presented to Store.Store. The
// physical placement of the value (which revision-suffixed key it ends up
// under) is entirely the Store implementation's concern.
type Item struct {
	Key   []byte
	Value []byte
}

// Iterator walks a range of (key, revision, value) records in ascending
// key order. Revision is nil for records that originate from an
// unversioned overlay (MemoryDataStore).
type Iterator interface {
	Next() bool
	Key() []byte
	Revision() []byte
	Value() []byte
	Err() error
	Close() error
}

// Store is the common read/write contract shared by RevisionStore,
// MemoryStore and ProxyStore.
type Store interface {
	// Store durably associates every item with revision. Revision must
	// be monotonically non-decreasing across calls, per store instance;
	// violating that is a MonotonicityError from RevisionStore (the only
	// implementation that enforces it).
	Store(items []Item, revision uint32) error

	// GetItem returns the value visible for key at a snapshot that can
	// see revisions in [startRevision, endRevision]. A startRevision or
	// endRevision of 0 means "unbounded in that direction" (0 is never a
	// real data revision, so it doubles safely as the zero-value
	// "unset" sentinel). Returns ErrNotFound if nothing is visible.
	GetItem(key []byte, endRevision, startRevision uint32) (revision []byte, value []byte, err error)

	// IterItems returns an Iterator over [startKey, endKey) (nil bounds
	// meaning unbounded) within the given revision window.
	IterItems(startKey, endKey []byte, endRevision, startRevision uint32) Iterator
}

func dup(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
