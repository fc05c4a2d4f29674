package reprisedb

import (
	"sync"

	"github.com/tf198/reprisedb/codec"
	"github.com/tf198/reprisedb/kv"
	"github.com/tf198/reprisedb/store"
)

const (
	metaCollection    = "_meta"
	commitsCollection = "_commits"
	schemaVersion     = "0.1.1"
)

// Database owns the driver, the cache of opened RevisionStores (one per
// collection or index sub-store) and the single piece of writable global
// state: current_commit. Every Transaction holds a non-owning reference
// back to its Database; the Database never holds a reference forward to
// any Transaction.
type Database struct {
	mu              sync.Mutex
	driver          kv.Driver
	currentRevision uint32
	revStores       map[string]*store.RevisionStore
}

// Open bootstraps a Database over driver: it opens (creating if
// necessary) the intrinsic _meta and _commits sub-stores and recovers
// current_commit from _commits[0], defaulting to 0 (no commits yet) the
// first time a driver is used.
func Open(driver kv.Driver) (*Database, error) {
	db := &Database{
		driver:    driver,
		revStores: make(map[string]*store.RevisionStore),
	}

	if _, err := db.getRevStore(metaCollection); err != nil {
		return nil, err
	}
	commits, err := db.getRevStore(commitsCollection)
	if err != nil {
		return nil, err
	}

	pointerKey, _ := codec.Lookup("uint32")
	dbKey, err := pointerKey.Pack(int64(0), true)
	if err != nil {
		return nil, err
	}
	_, raw, err := commits.GetItem(dbKey, 0, 0)
	if err == store.ErrNotFound {
		db.currentRevision = 0
		return db, nil
	}
	if err != nil {
		return nil, err
	}
	var latest uint32
	if err := codec.Unmarshal(raw, &latest); err != nil {
		return nil, err
	}
	db.currentRevision = latest
	return db, nil
}

// CurrentRevision returns the latest durably committed revision.
func (db *Database) CurrentRevision() uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.currentRevision
}

// TryClaim performs the one compare-and-set mutation of current_commit:
// if expected matches the current revision, it atomically advances and
// returns the newly claimed revision; otherwise it reports how stale the
// caller's view was, so Transaction.Commit can run conflict resolution
// before retrying.
func (db *Database) TryClaim(expected uint32) (uint32, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.currentRevision != expected {
		return 0, &RevisionStaleError{Expected: expected, Actual: db.currentRevision}
	}
	db.currentRevision++
	return db.currentRevision, nil
}

// getRevStore returns the cached RevisionStore for name, opening its
// sub-store on first use.
func (db *Database) getRevStore(name string) (*store.RevisionStore, error) {
	db.mu.Lock()
	if rs, ok := db.revStores[name]; ok {
		db.mu.Unlock()
		return rs, nil
	}
	db.mu.Unlock()

	sub, err := db.driver.OpenSub(name)
	if err != nil {
		return nil, err
	}
	rs := store.NewRevisionStore(sub, 0)

	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.revStores[name]; ok {
		return existing, nil
	}
	db.revStores[name] = rs
	return rs, nil
}

// dropRevStore forgets a cached RevisionStore and deletes its sub-store.
// Used by post-commit hooks after DropCollection/DropIndex.
func (db *Database) dropRevStore(name string) error {
	db.mu.Lock()
	delete(db.revStores, name)
	db.mu.Unlock()
	return db.driver.DropSub(name)
}

// Begin starts a new Transaction snapshotted at the database's current
// revision.
func (db *Database) Begin() *Transaction {
	return newTransaction(db, db.CurrentRevision())
}
