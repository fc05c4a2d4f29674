// Package memdriver implements kv.Driver entirely in memory using
// github.com/google/btree. It plays the same "mostly useful for tests and
// development" role perkeep's pkg/sorted in-memory KeyValue plays, but
// unlike that implementation (which leans on a vendored, unexported
// leveldb memdb that cannot be imported outside perkeep's own module)
// this one is built on a real, importable ordered-tree library, so it
// also works as a lightweight embedded option outside of tests.
//
// Each writable transaction operates on a cheap copy-on-write clone of
// the live tree (btree.BTree.Clone is O(1)) and only replaces the live
// tree on Commit, giving callers transaction semantics without a global
// lock held for the transaction's whole lifetime. This driver does not
// attempt to detect write-write conflicts between concurrent writable
// transactions on the same sub-store; RepriseDB never opens two such
// transactions concurrently against one sub-store, so last-writer-wins
// on Commit is not reachable in practice.
package memdriver

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/tf198/reprisedb/kv"
)

const btreeDegree = 32

// Driver is an in-memory kv.Driver.
type Driver struct {
	mu   sync.Mutex
	subs map[string]*subStore
}

func New() *Driver {
	return &Driver{subs: make(map[string]*subStore)}
}

func (d *Driver) OpenSub(name string) (kv.SubStore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.subs[name]
	if !ok {
		s = &subStore{tree: btree.New(btreeDegree)}
		d.subs[name] = s
	}
	return s, nil
}

func (d *Driver) DropSub(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, name)
	return nil
}

func (d *Driver) Close() error { return nil }

type subStore struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

func (s *subStore) Begin(writable bool) (kv.Txn, error) {
	s.mu.RLock()
	clone := s.tree.Clone()
	s.mu.RUnlock()
	if writable {
		return &writeTxn{sub: s, tree: clone}, nil
	}
	return &readTxn{tree: clone}, nil
}

type entry struct {
	key, value []byte
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

type writeTxn struct {
	sub  *subStore
	tree *btree.BTree
}

func (t *writeTxn) Cursor() (kv.Cursor, error) { return &cursor{tree: t.tree}, nil }

func (t *writeTxn) PutMany(items []kv.Item) error {
	for _, it := range items {
		t.tree.ReplaceOrInsert(&entry{key: it.Key, value: it.Value})
	}
	return nil
}

func (t *writeTxn) Commit() error {
	t.sub.mu.Lock()
	t.sub.tree = t.tree
	t.sub.mu.Unlock()
	return nil
}

func (t *writeTxn) Rollback() error { return nil }

type readTxn struct {
	tree *btree.BTree
}

func (t *readTxn) Cursor() (kv.Cursor, error)       { return &cursor{tree: t.tree}, nil }
func (t *readTxn) PutMany(items []kv.Item) error    { return kv.ErrReadOnly }
func (t *readTxn) Commit() error                    { return nil }
func (t *readTxn) Rollback() error                  { return nil }

// cursor implements kv.Cursor on top of google/btree's callback-based
// AscendGreaterOrEqual, re-querying the tree on every move. btree has no
// native pull-style cursor, so each seek costs O(log n) rather than O(1);
// acceptable for a development/test backend.
type cursor struct {
	tree       *btree.BTree
	key, value []byte
	valid      bool
	started    bool
}

func (c *cursor) First() bool { return c.seek(nil) }

func (c *cursor) SetRange(key []byte) bool { return c.seek(key) }

func (c *cursor) seek(from []byte) bool {
	c.started = true
	var foundKey, foundValue []byte
	visit := func(i btree.Item) bool {
		e := i.(*entry)
		foundKey, foundValue = e.key, e.value
		return false
	}
	if from == nil {
		c.tree.Ascend(visit)
	} else {
		c.tree.AscendGreaterOrEqual(&entry{key: from}, visit)
	}
	if foundKey == nil {
		c.valid = false
		return false
	}
	c.key, c.value, c.valid = foundKey, foundValue, true
	return true
}

func (c *cursor) Next() bool {
	if !c.started {
		return c.seek(nil)
	}
	if !c.valid {
		return false
	}
	prevKey := c.key
	var foundKey, foundValue []byte
	c.tree.AscendGreaterOrEqual(&entry{key: prevKey}, func(i btree.Item) bool {
		e := i.(*entry)
		if bytes.Equal(e.key, prevKey) {
			return true
		}
		foundKey, foundValue = e.key, e.value
		return false
	})
	if foundKey == nil {
		c.valid = false
		return false
	}
	c.key, c.value, c.valid = foundKey, foundValue, true
	return true
}

func (c *cursor) Item() ([]byte, []byte) { return c.key, c.value }
func (c *cursor) Key() []byte            { return c.key }
func (c *cursor) Value() []byte          { return c.value }

// DeleteCurrent removes the entry the cursor is positioned on. It leaves
// the cursor valid and positioned as if still on that (now absent) key, so
// a following Next() correctly resumes from the key that followed it:
// Next's AscendGreaterOrEqual walk no longer finds anything equal to the
// deleted key, so the first entry it visits is already the true successor.
func (c *cursor) DeleteCurrent() error {
	if !c.valid {
		return nil
	}
	c.tree.Delete(&entry{key: c.key})
	return nil
}

func (c *cursor) Close() error { return nil }
