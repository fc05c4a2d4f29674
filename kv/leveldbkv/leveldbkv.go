// Package leveldbkv implements kv.Driver on top of github.com/syndtr/goleveldb,
// one LevelDB database directory per sub-store underneath a common base
// directory. It is the production-grade backing store, grounded on
// perkeep's pkg/sorted/leveldb package, generalized from a single flat
// KeyValue into the multi-sub-store, real-transaction kv.Driver contract.
package leveldbkv

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/tf198/reprisedb/kv"
)

// Driver is a kv.Driver backed by one goleveldb database per sub-store.
type Driver struct {
	mu   sync.Mutex
	base string
	dbs  map[string]*leveldb.DB
	opts *opt.Options
}

// Open returns a Driver rooted at base, creating the directory if needed.
func Open(base string) (*Driver, error) {
	if err := os.MkdirAll(base, 0700); err != nil {
		return nil, errors.Wrap(err, "leveldbkv: creating base directory")
	}
	return &Driver{
		base: base,
		dbs:  make(map[string]*leveldb.DB),
		opts: &opt.Options{
			Filter: filter.NewBloomFilter(10),
		},
	}, nil
}

func (d *Driver) OpenSub(name string) (kv.SubStore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.dbs[name]; ok {
		return &subStore{db: db}, nil
	}
	db, err := leveldb.OpenFile(filepath.Join(d.base, name), d.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "leveldbkv: opening sub-store %q", name)
	}
	d.dbs[name] = db
	return &subStore{db: db}, nil
}

func (d *Driver) DropSub(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.dbs[name]; ok {
		db.Close()
		delete(d.dbs, name)
	}
	log.Printf("leveldbkv: dropping sub-store %s", filepath.Join(d.base, name))
	return os.RemoveAll(filepath.Join(d.base, name))
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for name, db := range d.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "leveldbkv: closing sub-store %q", name)
		}
	}
	d.dbs = make(map[string]*leveldb.DB)
	return firstErr
}

type subStore struct {
	db *leveldb.DB
}

func (s *subStore) Begin(writable bool) (kv.Txn, error) {
	if writable {
		tx, err := s.db.OpenTransaction()
		if err != nil {
			return nil, errors.Wrap(err, "leveldbkv: opening write transaction")
		}
		return &writeTxn{tx: tx}, nil
	}
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "leveldbkv: opening snapshot")
	}
	return &readTxn{snap: snap}, nil
}

type writeTxn struct {
	tx *leveldb.Transaction
}

func (t *writeTxn) Cursor() (kv.Cursor, error) {
	return &cursor{it: t.tx.NewIterator(nil, nil), tx: t.tx}, nil
}

func (t *writeTxn) PutMany(items []kv.Item) error {
	batch := new(leveldb.Batch)
	for _, it := range items {
		batch.Put(it.Key, it.Value)
	}
	return t.tx.Write(batch, nil)
}

func (t *writeTxn) Commit() error   { return t.tx.Commit() }
func (t *writeTxn) Rollback() error { t.tx.Discard(); return nil }

type readTxn struct {
	snap *leveldb.Snapshot
}

func (t *readTxn) Cursor() (kv.Cursor, error) {
	return &cursor{it: t.snap.NewIterator(nil, nil)}, nil
}

func (t *readTxn) PutMany(items []kv.Item) error { return kv.ErrReadOnly }
func (t *readTxn) Commit() error                 { return nil }
func (t *readTxn) Rollback() error               { t.snap.Release(); return nil }

// cursor adapts a goleveldb iterator.Iterator to kv.Cursor. tx is nil for
// a read-only cursor, in which case DeleteCurrent is rejected.
type cursor struct {
	it iterator.Iterator
	tx *leveldb.Transaction
}

func (c *cursor) First() bool               { return c.it.First() }
func (c *cursor) Next() bool                { return c.it.Next() }
func (c *cursor) SetRange(key []byte) bool  { return c.it.Seek(key) }
func (c *cursor) Item() ([]byte, []byte)    { return c.it.Key(), c.it.Value() }
func (c *cursor) Key() []byte               { return c.it.Key() }
func (c *cursor) Value() []byte             { return c.it.Value() }

func (c *cursor) DeleteCurrent() error {
	if c.tx == nil {
		return kv.ErrReadOnly
	}
	return c.tx.Delete(append([]byte(nil), c.it.Key()...), nil)
}

func (c *cursor) Close() error {
	c.it.Release()
	return c.it.Error()
}
