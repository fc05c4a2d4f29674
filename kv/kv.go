// Package kv defines the abstract ordered byte-keyed store that every
// higher layer of RepriseDB is built on. It intentionally knows nothing
// about revisions, collections or documents: it is the same kind of
// minimal, pluggable storage contract perkeep's pkg/sorted.KeyValue
// defines, generalized from string keys to raw bytes and from a single
// flat namespace to independently opened "sub" stores (one per
// collection or index), and given real read/write transactions with
// cursors instead of a Get/Set/Delete/Find surface.
//
// Concrete implementations live in subpackages (leveldbkv, memdriver).
// Nothing above this package should import a subpackage directly except
// to construct a Driver at startup.
package kv

import "github.com/pkg/errors"

// ErrReadOnly is returned by write operations attempted against a
// read-only transaction.
var ErrReadOnly = errors.New("kv: write attempted on a read-only transaction")

// Driver opens and drops independently-named ordered byte stores.
type Driver interface {
	// OpenSub returns the named sub-store, creating it if it does not
	// already exist. Calling OpenSub twice with the same name returns
	// handles to the same underlying storage.
	OpenSub(name string) (SubStore, error)

	// DropSub irrevocably deletes a sub-store and all of its contents.
	DropSub(name string) error

	// Close releases every sub-store this driver has opened.
	Close() error
}

// SubStore is one independently-opened ordered byte store.
type SubStore interface {
	// Begin starts a transaction. A writable transaction sees its own
	// uncommitted writes; a read-only transaction is a stable snapshot
	// that other transactions' concurrent writes cannot affect.
	Begin(writable bool) (Txn, error)
}

// Item is a single key/value pair for a bulk write.
type Item struct {
	Key   []byte
	Value []byte
}

// Txn is one transaction against a SubStore.
type Txn interface {
	// Cursor returns a new cursor positioned before the first entry.
	Cursor() (Cursor, error)

	// PutMany writes every item, overwriting any existing value for a
	// repeated key. Only valid on a writable transaction.
	PutMany(items []Item) error

	// Commit makes a writable transaction's writes durable and visible
	// to subsequent transactions. A no-op, but still safe to call, on a
	// read-only transaction.
	Commit() error

	// Rollback discards a writable transaction's writes, or releases
	// the snapshot held by a read-only one. Safe to call after Commit.
	Rollback() error
}

// Cursor walks a SubStore's entries in ascending key order.
type Cursor interface {
	// First positions the cursor at the smallest key. Returns false if
	// the store is empty.
	First() bool

	// Next advances to the next key in order. Returns false once the
	// cursor runs off the end.
	Next() bool

	// SetRange positions the cursor at the smallest key greater than or
	// equal to key. Returns false if no such key exists.
	SetRange(key []byte) bool

	// Item returns the key and value the cursor currently points to.
	Item() (key, value []byte)
	Key() []byte
	Value() []byte

	// DeleteCurrent removes the entry the cursor currently points to.
	// Only valid on a cursor from a writable transaction.
	DeleteCurrent() error

	// Close releases the cursor's resources.
	Close() error
}
