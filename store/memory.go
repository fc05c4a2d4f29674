package store

import (
	"bytes"

	"github.com/google/btree"
)

const memStoreDegree = 32

// MemoryStore is the MemoryDataStore: an unversioned, in-process overlay
// used to hold a single transaction's uncommitted writes (including its
// tombstones) before they are either discarded or folded into the
// persistent RevisionStore at commit. It never enforces a revision window:
// GetItem and IterItems ignore endRevision/startRevision entirely, and the
// revision reported by GetItem and its Iterator is always nil. ProxyStore
// does not inspect revisions; an overlay takes priority by being placed
// first in the stack.
type MemoryStore struct {
	tree *btree.BTree
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tree: btree.New(memStoreDegree)}
}

type memEntry struct {
	key, value []byte
}

func (e *memEntry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*memEntry).key) < 0
}

func (m *MemoryStore) Store(items []Item, _ uint32) error {
	for _, it := range items {
		m.tree.ReplaceOrInsert(&memEntry{key: dup(it.Key), value: dup(it.Value)})
	}
	return nil
}

func (m *MemoryStore) GetItem(key []byte, _, _ uint32) ([]byte, []byte, error) {
	found := m.tree.Get(&memEntry{key: key})
	if found == nil {
		return nil, nil, ErrNotFound
	}
	e := found.(*memEntry)
	return nil, dup(e.value), nil
}

// Items returns every entry currently held, in key order. Used when
// flushing a transaction's overlay into the persistent RevisionStore at
// commit.
func (m *MemoryStore) Items() []Item {
	var items []Item
	m.tree.Ascend(func(i btree.Item) bool {
		e := i.(*memEntry)
		items = append(items, Item{Key: e.key, Value: e.value})
		return true
	})
	return items
}

func (m *MemoryStore) IterItems(startKey, endKey []byte, _, _ uint32) Iterator {
	it := &memIterator{tree: m.tree, endKey: dup(endKey), idx: -1}
	if startKey != nil {
		m.tree.AscendGreaterOrEqual(&memEntry{key: startKey}, it.collect)
	} else {
		m.tree.Ascend(it.collect)
	}
	return it
}

// memIterator snapshots matching entries eagerly: btree's Ascend callbacks
// cannot be paused and resumed, and the overlay is expected to be small
// (one transaction's writes), so collecting up front is simpler than a
// cursor-like resumable walk.
type memIterator struct {
	tree    *btree.BTree
	endKey  []byte
	pending []*memEntry
	idx     int
}

func (it *memIterator) collect(i btree.Item) bool {
	e := i.(*memEntry)
	if it.endKey != nil && bytes.Compare(e.key, it.endKey) >= 0 {
		return false
	}
	it.pending = append(it.pending, e)
	return true
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.pending)
}

func (it *memIterator) Key() []byte      { return it.pending[it.idx].key }
func (it *memIterator) Revision() []byte { return nil }
func (it *memIterator) Value() []byte    { return it.pending[it.idx].value }
func (it *memIterator) Err() error       { return nil }
func (it *memIterator) Close() error     { return nil }
