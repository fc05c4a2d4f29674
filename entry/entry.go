// Package entry implements the typed primary-key view that sits directly
// on top of a store.Store: encoding logical (key, value) pairs into the
// physical byte records the store persists, and decoding them back,
// including tombstone handling. Entry holds no state and can be shared
// across every transaction that touches a given collection; BoundEntry
// pairs it with a concrete store and a revision window.
package entry

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/tf198/reprisedb/codec"
	"github.com/tf198/reprisedb/store"
)

// ErrDeleted is returned by Entry.FromDBValue when the stored bytes are
// the tombstone sentinel. BoundEntry.Get translates it into
// store.ErrNotFound, and BoundEntry iteration skips tombstoned records, so
// it does not escape those methods.
var ErrDeleted = errors.New("entry: deleted")

// Entry is the stateless key/value codec pair for one collection: it knows
// how to turn a logical primary key and value into the bytes a Store
// persists, and back, but holds no reference to any particular store.
type Entry struct {
	KeyCodec   codec.Packer
	ValueCodec codec.Packer
}

func New(keyCodec, valueCodec codec.Packer) *Entry {
	return &Entry{KeyCodec: keyCodec, ValueCodec: valueCodec}
}

func (e *Entry) ToDBKey(pk interface{}) ([]byte, error) {
	return e.KeyCodec.Pack(pk, true)
}

func (e *Entry) FromDBKey(data []byte) (interface{}, error) {
	return e.KeyCodec.Unpack(data, true)
}

// ToDBValue encodes v, or returns the tombstone sentinel if v is nil.
func (e *Entry) ToDBValue(v interface{}) ([]byte, error) {
	if v == nil {
		return codec.Tombstone, nil
	}
	return e.ValueCodec.Pack(v, false)
}

// FromDBValue decodes data, returning ErrDeleted if data is the tombstone
// sentinel.
func (e *Entry) FromDBValue(data []byte) (interface{}, error) {
	if bytes.Equal(data, codec.Tombstone) {
		return nil, ErrDeleted
	}
	return e.ValueCodec.Unpack(data, false)
}

// BoundEntry pairs an Entry with a concrete store and a revision window,
// giving callers a typed get/put/iterate surface over that snapshot.
type BoundEntry struct {
	entry                    *Entry
	datastore                store.Store
	endRevision, startRevision uint32
}

func Bind(e *Entry, datastore store.Store, endRevision, startRevision uint32) *BoundEntry {
	return &BoundEntry{entry: e, datastore: datastore, endRevision: endRevision, startRevision: startRevision}
}

// Get fetches pk's value at the bound snapshot. It returns store.ErrNotFound
// both when the key has never existed and when its newest visible revision
// is a tombstone, matching the uniform not-found convention used throughout
// the store layer.
func (b *BoundEntry) Get(pk interface{}) (interface{}, error) {
	dbKey, err := b.entry.ToDBKey(pk)
	if err != nil {
		return nil, err
	}
	_, raw, err := b.datastore.GetItem(dbKey, b.endRevision, b.startRevision)
	if err != nil {
		return nil, err
	}
	value, err := b.entry.FromDBValue(raw)
	if err == ErrDeleted {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *BoundEntry) Contains(pk interface{}) bool {
	_, err := b.Get(pk)
	return err == nil
}

// Item is a single decoded (pk, value) pair yielded by iteration.
type Item struct {
	Key   interface{}
	Value interface{}
}

// IterItems walks [start, end) (nil bounds meaning unbounded), decoding
// each key and value and silently skipping tombstones, matching the
// invariant that deleted records never surface to callers.
func (b *BoundEntry) IterItems(start, end interface{}) ([]Item, error) {
	startKey, endKey, err := b.encodeBounds(start, end)
	if err != nil {
		return nil, err
	}
	it := b.datastore.IterItems(startKey, endKey, b.endRevision, b.startRevision)
	defer it.Close()

	var items []Item
	for it.Next() {
		value, err := b.entry.FromDBValue(it.Value())
		if err == ErrDeleted {
			continue
		}
		if err != nil {
			return nil, err
		}
		key, err := b.entry.FromDBKey(it.Key())
		if err != nil {
			return nil, err
		}
		items = append(items, Item{Key: key, Value: value})
	}
	return items, it.Err()
}

func (b *BoundEntry) IterKeys(start, end interface{}) ([]interface{}, error) {
	items, err := b.IterItems(start, end)
	if err != nil {
		return nil, err
	}
	keys := make([]interface{}, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys, nil
}

func (b *BoundEntry) IterValues(start, end interface{}) ([]interface{}, error) {
	items, err := b.IterItems(start, end)
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(items))
	for i, it := range items {
		values[i] = it.Value
	}
	return values, nil
}

func (b *BoundEntry) encodeBounds(start, end interface{}) (startKey, endKey []byte, err error) {
	if start != nil {
		if startKey, err = b.entry.ToDBKey(start); err != nil {
			return nil, nil, err
		}
	}
	if end != nil {
		if endKey, err = b.entry.ToDBKey(end); err != nil {
			return nil, nil, err
		}
	}
	return startKey, endKey, nil
}

// BulkPut encodes every (pk, value) pair in mapping and delegates to the
// underlying store in a single call, at the given revision.
func (b *BoundEntry) BulkPut(mapping map[interface{}]interface{}, revision uint32) error {
	items := make([]store.Item, 0, len(mapping))
	for pk, value := range mapping {
		dbKey, err := b.entry.ToDBKey(pk)
		if err != nil {
			return err
		}
		dbValue, err := b.entry.ToDBValue(value)
		if err != nil {
			return err
		}
		items = append(items, store.Item{Key: dbKey, Value: dbValue})
	}
	return b.datastore.Store(items, revision)
}

// Put encodes and stores a single (pk, value) pair at revision.
func (b *BoundEntry) Put(pk, value interface{}, revision uint32) error {
	dbKey, err := b.entry.ToDBKey(pk)
	if err != nil {
		return err
	}
	dbValue, err := b.entry.ToDBValue(value)
	if err != nil {
		return err
	}
	return b.datastore.Store([]store.Item{{Key: dbKey, Value: dbValue}}, revision)
}
