package reprisedb

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"github.com/tf198/reprisedb/codec"
	"github.com/tf198/reprisedb/entry"
	"github.com/tf198/reprisedb/index"
	"github.com/tf198/reprisedb/store"
)

// Transaction is a snapshot-isolated unit of work against a Database. It
// is born at the database's current revision and either folds its overlay
// into persistent storage at a freshly claimed revision (Commit) or is
// simply dropped, discarding every uncommitted write (Abort, or just
// letting it go out of scope).
type Transaction struct {
	db               *Database
	snapshotRevision uint32

	overlays      map[string]*store.MemoryStore
	indexOverlays map[string]*store.MemoryStore
	updates       map[string]map[string]interface{}
	metaCache     map[string]*CollectionMeta
	hooks         []func() error
	conflicts     []Conflict
	autoResolve   bool
}

func newTransaction(db *Database, snapshotRevision uint32) *Transaction {
	return &Transaction{
		db:               db,
		snapshotRevision: snapshotRevision,
		overlays:         make(map[string]*store.MemoryStore),
		indexOverlays:    make(map[string]*store.MemoryStore),
		updates:          make(map[string]map[string]interface{}),
		metaCache:        make(map[string]*CollectionMeta),
		autoResolve:      true,
	}
}

// SnapshotRevision returns the revision this transaction's reads are
// pinned to.
func (txn *Transaction) SnapshotRevision() uint32 { return txn.snapshotRevision }

// Conflicts returns the conflict list from the most recent failed Commit.
func (txn *Transaction) Conflicts() []Conflict { return txn.conflicts }

// SetAutoResolve controls whether Commit attempts the disjoint-pk
// fast-forward described in the package's conflict resolution algorithm.
// Disabled, any intervening commit that touched a collection this
// transaction also wrote to fails the commit outright, even if the actual
// primary keys never overlapped.
func (txn *Transaction) SetAutoResolve(enabled bool) { txn.autoResolve = enabled }

// Abort discards every uncommitted write. A Transaction that is simply
// dropped without calling Commit has the same effect; Abort exists for
// callers that want to be explicit.
func (txn *Transaction) Abort() {
	txn.overlays = make(map[string]*store.MemoryStore)
	txn.indexOverlays = make(map[string]*store.MemoryStore)
	txn.updates = make(map[string]map[string]interface{})
	txn.hooks = nil
}

func (txn *Transaction) getOverlay(name string) *store.MemoryStore {
	ov, ok := txn.overlays[name]
	if !ok {
		ov = store.NewMemoryStore()
		txn.overlays[name] = ov
	}
	return ov
}

func (txn *Transaction) getIndexOverlay(subName string) *store.MemoryStore {
	ov, ok := txn.indexOverlays[subName]
	if !ok {
		ov = store.NewMemoryStore()
		txn.indexOverlays[subName] = ov
	}
	return ov
}

// getCollectionMeta returns the metadata describing name, consulting the
// transaction's local cache first, then this transaction's own
// uncommitted overlay, then persistent storage. _meta and _commits are
// intrinsic: their shape is fixed and never stored in _meta about
// themselves.
func (txn *Transaction) getCollectionMeta(name string) (*CollectionMeta, error) {
	if name == metaCollection {
		return &CollectionMeta{Name: metaCollection, KeyCodec: "string", ValueCodec: "dict"}, nil
	}
	if name == commitsCollection {
		return &CollectionMeta{Name: commitsCollection, KeyCodec: "uint32", ValueCodec: "dict"}, nil
	}
	if m, ok := txn.metaCache[name]; ok {
		return m, nil
	}

	persistent, err := txn.db.getRevStore(metaCollection)
	if err != nil {
		return nil, err
	}
	proxy := store.NewProxyStore(txn.getOverlay(metaCollection), persistent)
	keyCodec, _ := codec.Lookup("string")
	valueCodec, _ := codec.Lookup("dict")
	be := entry.Bind(entry.New(keyCodec, valueCodec), proxy, txn.snapshotRevision, 0)

	raw, err := be.Get("collection:" + name)
	if err == store.ErrNotFound {
		return nil, ErrUnknownCollection
	}
	if err != nil {
		return nil, err
	}

	var meta CollectionMeta
	if err := codec.Convert(raw, &meta); err != nil {
		return nil, err
	}
	if meta.Indexes == nil {
		meta.Indexes = map[string]IndexDef{}
	}
	txn.metaCache[name] = &meta
	return &meta, nil
}

func collectionEntry(meta *CollectionMeta) (*entry.Entry, error) {
	keyCodec, err := codec.Lookup(meta.KeyCodec)
	if err != nil {
		return nil, err
	}
	valueCodec, err := codec.Lookup(meta.ValueCodec)
	if err != nil {
		return nil, err
	}
	return entry.New(keyCodec, valueCodec), nil
}

func (txn *Transaction) collectionProxy(name string) (store.Store, error) {
	persistent, err := txn.db.getRevStore(subStoreName(name))
	if err != nil {
		return nil, err
	}
	return store.NewProxyStore(txn.getOverlay(name), persistent), nil
}

// Get fetches pk's current value in collection at this transaction's
// snapshot. Returns ErrNotFound if the key has never existed, or its
// newest visible revision is a tombstone.
func (txn *Transaction) Get(collection string, pk interface{}) (interface{}, error) {
	meta, err := txn.getCollectionMeta(collection)
	if err != nil {
		return nil, err
	}
	e, err := collectionEntry(meta)
	if err != nil {
		return nil, err
	}
	proxy, err := txn.collectionProxy(collection)
	if err != nil {
		return nil, err
	}
	be := entry.Bind(e, proxy, txn.snapshotRevision, 0)
	v, err := be.Get(pk)
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

// Put writes value under pk in collection. When track is true (the normal
// case), an unchanged value is a no-op (returns false, nil) and every
// index accessor defined on the collection is diffed against the previous
// value so that exactly the indexes that changed get a remove/insert mark
// pair. When track is false, the write always happens and is not counted
// toward this transaction's conflict footprint or index maintenance. The
// commits ledger is not written through Put: finishCommit stores it
// directly in the persistent _commits store.
func (txn *Transaction) Put(collection string, pk, value interface{}, indexEnabled, track bool) (bool, error) {
	meta, err := txn.getCollectionMeta(collection)
	if err != nil {
		return false, err
	}

	var old interface{}
	var hadOld bool
	if track {
		v, err := txn.Get(collection, pk)
		if err != nil && err != ErrNotFound {
			return false, err
		}
		if err == nil {
			old, hadOld = v, true
			if reflect.DeepEqual(old, value) {
				return false, nil
			}
		}
	}

	e, err := collectionEntry(meta)
	if err != nil {
		return false, err
	}
	dbKey, err := e.ToDBKey(pk)
	if err != nil {
		return false, err
	}
	dbValue, err := e.ToDBValue(value)
	if err != nil {
		return false, err
	}
	if err := txn.getOverlay(collection).Store([]store.Item{{Key: dbKey, Value: dbValue}}, 0); err != nil {
		return false, err
	}

	if !track {
		return true, nil
	}

	if indexEnabled && len(meta.Indexes) > 0 {
		keyCodec, err := codec.Lookup(meta.KeyCodec)
		if err != nil {
			return false, err
		}
		for accessor, def := range meta.Indexes {
			var oldIndexed, newIndexed interface{}
			if hadOld {
				oldIndexed = extractAccessor(old, accessor)
			}
			if value != nil {
				newIndexed = extractAccessor(value, accessor)
			}
			if reflect.DeepEqual(oldIndexed, newIndexed) {
				continue
			}
			idxValueCodec, err := codec.Lookup(def.ValueCodec)
			if err != nil {
				return false, err
			}
			idx := index.New(keyCodec, idxValueCodec)
			idxOverlay := txn.getIndexOverlay(indexSubStoreName(collection, accessor))
			if oldIndexed != nil {
				ik, iv, err := idx.Prepare(oldIndexed, pk, '-')
				if err != nil {
					return false, err
				}
				if err := idxOverlay.Store([]store.Item{{Key: ik, Value: iv}}, 0); err != nil {
					return false, err
				}
			}
			if newIndexed != nil {
				ik, iv, err := idx.Prepare(newIndexed, pk, '+')
				if err != nil {
					return false, err
				}
				if err := idxOverlay.Store([]store.Item{{Key: ik, Value: iv}}, 0); err != nil {
					return false, err
				}
			}
		}
	}

	if _, ok := txn.updates[collection]; !ok {
		txn.updates[collection] = make(map[string]interface{})
	}
	txn.updates[collection][string(dbKey)] = pk
	return true, nil
}

// Delete removes pk from collection (writes a tombstone).
func (txn *Transaction) Delete(collection string, pk interface{}) (bool, error) {
	return txn.Put(collection, pk, nil, true, true)
}

// Keys lists the primary keys present in [start, end) at this
// transaction's snapshot.
func (txn *Transaction) Keys(collection string, start, end interface{}) ([]interface{}, error) {
	meta, err := txn.getCollectionMeta(collection)
	if err != nil {
		return nil, err
	}
	e, err := collectionEntry(meta)
	if err != nil {
		return nil, err
	}
	proxy, err := txn.collectionProxy(collection)
	if err != nil {
		return nil, err
	}
	return entry.Bind(e, proxy, txn.snapshotRevision, 0).IterKeys(start, end)
}

// Lookup returns the primary keys whose accessor value on collection
// falls in [startValue, endValue) at this transaction's snapshot. A nil
// endValue restricts the lookup to exactly startValue.
func (txn *Transaction) Lookup(collection, accessor string, startValue, endValue interface{}) ([]interface{}, error) {
	meta, err := txn.getCollectionMeta(collection)
	if err != nil {
		return nil, err
	}
	def, ok := meta.Indexes[accessor]
	if !ok {
		return nil, ErrUnknownIndex
	}
	keyCodec, err := codec.Lookup(meta.KeyCodec)
	if err != nil {
		return nil, err
	}
	idxValueCodec, err := codec.Lookup(def.ValueCodec)
	if err != nil {
		return nil, err
	}
	idx := index.New(keyCodec, idxValueCodec)

	subName := indexSubStoreName(collection, accessor)
	persistent, err := txn.db.getRevStore(subName)
	if err != nil {
		return nil, err
	}
	proxy := store.NewProxyStore(txn.getIndexOverlay(subName), persistent)
	return index.Bind(idx, proxy, txn.snapshotRevision, 0).Lookup(startValue, endValue)
}

// CreateCollection writes a fresh, index-free metadata record for name.
func (txn *Transaction) CreateCollection(name, keyCodec, valueCodec string) error {
	if strings.Contains(name, ".") {
		return errors.Errorf("reprisedb: collection name %q must not contain '.'", name)
	}
	if _, err := codec.Lookup(keyCodec); err != nil {
		return err
	}
	if _, err := codec.Lookup(valueCodec); err != nil {
		return err
	}
	if _, err := txn.getCollectionMeta(name); err == nil {
		return ErrDuplicateCollection
	} else if err != ErrUnknownCollection {
		return err
	}
	meta := &CollectionMeta{Name: name, KeyCodec: keyCodec, ValueCodec: valueCodec, Indexes: map[string]IndexDef{}}
	if _, err := txn.Put(metaCollection, "collection:"+name, meta, false, true); err != nil {
		return err
	}
	txn.metaCache[name] = meta
	return nil
}

// DropCollection tombstones name's metadata record and schedules its
// sub-stores (and every index sub-store it owns) for removal once the
// drop is durably committed.
func (txn *Transaction) DropCollection(name string) error {
	meta, err := txn.getCollectionMeta(name)
	if err != nil {
		return err
	}
	if _, err := txn.Put(metaCollection, "collection:"+name, nil, false, true); err != nil {
		return err
	}
	delete(txn.metaCache, name)

	accessors := make([]string, 0, len(meta.Indexes))
	for accessor := range meta.Indexes {
		accessors = append(accessors, accessor)
	}
	txn.hooks = append(txn.hooks, func() error {
		if err := txn.db.dropRevStore(subStoreName(name)); err != nil {
			return err
		}
		for _, accessor := range accessors {
			if err := txn.db.dropRevStore(indexSubStoreName(name, accessor)); err != nil {
				return err
			}
		}
		return nil
	})
	return nil
}

// AddIndex defines a new accessor index on an existing collection and
// schedules a backfill over its full committed history so that the index
// behaves, for any past snapshot, as though it had existed all along.
func (txn *Transaction) AddIndex(collection, accessor, valueCodec string) error {
	meta, err := txn.getCollectionMeta(collection)
	if err != nil {
		return err
	}
	if _, exists := meta.Indexes[accessor]; exists {
		return ErrDuplicateIndex
	}
	if _, err := codec.Lookup(valueCodec); err != nil {
		return err
	}

	newIndexes := make(map[string]IndexDef, len(meta.Indexes)+1)
	for k, v := range meta.Indexes {
		newIndexes[k] = v
	}
	newIndexes[accessor] = IndexDef{Accessor: accessor, ValueCodec: valueCodec}
	newMeta := &CollectionMeta{Name: meta.Name, KeyCodec: meta.KeyCodec, ValueCodec: meta.ValueCodec, Indexes: newIndexes}

	if _, err := txn.Put(metaCollection, "collection:"+collection, newMeta, false, true); err != nil {
		return err
	}
	txn.metaCache[collection] = newMeta

	backfillSnapshot := meta
	txn.hooks = append(txn.hooks, func() error {
		return txn.backfillIndex(collection, accessor, backfillSnapshot, valueCodec)
	})
	return nil
}

// DropIndex tombstones a single accessor's index definition and schedules
// its sub-store for removal.
func (txn *Transaction) DropIndex(collection, accessor string) error {
	meta, err := txn.getCollectionMeta(collection)
	if err != nil {
		return err
	}
	if _, exists := meta.Indexes[accessor]; !exists {
		return ErrUnknownIndex
	}
	newIndexes := make(map[string]IndexDef, len(meta.Indexes))
	for k, v := range meta.Indexes {
		if k != accessor {
			newIndexes[k] = v
		}
	}
	newMeta := &CollectionMeta{Name: meta.Name, KeyCodec: meta.KeyCodec, ValueCodec: meta.ValueCodec, Indexes: newIndexes}
	if _, err := txn.Put(metaCollection, "collection:"+collection, newMeta, false, true); err != nil {
		return err
	}
	txn.metaCache[collection] = newMeta

	txn.hooks = append(txn.hooks, func() error {
		return txn.db.dropRevStore(indexSubStoreName(collection, accessor))
	})
	return nil
}

// backfillIndex walks every historical revision of collection's primary
// store and replays it as index marks stamped at the revisions they were
// originally true at, so a reader snapshotted anywhere in the past sees
// the new index as though it had always existed. History for a single
// user key arrives newest first; for each record we always mark its own
// value present as of its own revision, and whenever that value differs
// from the next-older record's value, we additionally mark the
// next-older value absent as of the newer record's revision (the instant
// it was superseded).
func (txn *Transaction) backfillIndex(collection, accessor string, meta *CollectionMeta, valueCodecName string) error {
	keyCodec, err := codec.Lookup(meta.KeyCodec)
	if err != nil {
		return err
	}
	docCodec, err := codec.Lookup(meta.ValueCodec)
	if err != nil {
		return err
	}
	idxValueCodec, err := codec.Lookup(valueCodecName)
	if err != nil {
		return err
	}
	idx := index.New(keyCodec, idxValueCodec)

	persistent, err := txn.db.getRevStore(subStoreName(collection))
	if err != nil {
		return err
	}
	idxStore, err := txn.db.getRevStore(indexSubStoreName(collection, accessor))
	if err != nil {
		return err
	}

	type historyRecord struct {
		rev   []byte
		value interface{}
	}

	it := persistent.IterRevisions(0, txn.snapshotRevision)
	defer it.Close()

	var rawItems []store.RawItem
	var groupKey []byte
	var group []historyRecord

	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		pk, err := keyCodec.Unpack(groupKey, true)
		if err != nil {
			return err
		}
		for i, rec := range group {
			if rec.value != nil {
				dbKey, dbValue, err := idx.Prepare(rec.value, pk, '+')
				if err != nil {
					return err
				}
				rawItems = append(rawItems, store.RawItem{PhysicalKey: append(dbKey, rec.rev...), Value: dbValue})
			}
			if i+1 < len(group) {
				prior := group[i+1]
				if prior.value != nil && !reflect.DeepEqual(prior.value, rec.value) {
					dbKey, dbValue, err := idx.Prepare(prior.value, pk, '-')
					if err != nil {
						return err
					}
					rawItems = append(rawItems, store.RawItem{PhysicalKey: append(dbKey, rec.rev...), Value: dbValue})
				}
			}
		}
		return nil
	}

	for it.Next() {
		key := it.Key()
		if groupKey == nil || string(key) != string(groupKey) {
			if err := flush(); err != nil {
				return err
			}
			groupKey = append([]byte{}, key...)
			group = nil
		}

		var value interface{}
		raw := it.Value()
		if len(raw) != 1 || raw[0] != codec.Tombstone[0] {
			doc, err := docCodec.Unpack(raw, false)
			if err != nil {
				return err
			}
			value = extractAccessor(doc, accessor)
		}
		group = append(group, historyRecord{rev: append([]byte{}, it.Revision()...), value: value})
	}
	if err := flush(); err != nil {
		return err
	}
	if err := it.Err(); err != nil {
		return err
	}

	if len(rawItems) == 0 {
		return nil
	}
	return idxStore.StoreRaw(rawItems)
}

// Commit attempts to durably claim the next revision and flush this
// transaction's overlay at it. If an intervening commit has already
// claimed revisions this transaction didn't see, it replays conflict
// resolution: disjoint writes auto-fast-forward the snapshot and retry;
// any shared (collection, pk) fails the commit with a ConflictError.
func (txn *Transaction) Commit() (uint32, error) {
	txn.conflicts = nil
	for {
		claimed, err := txn.db.TryClaim(txn.snapshotRevision)
		if err == nil {
			return txn.finishCommit(claimed)
		}
		stale, ok := err.(*RevisionStaleError)
		if !ok {
			return 0, err
		}
		if err := txn.resolveConflicts(stale.Actual); err != nil {
			return 0, err
		}
		// resolveConflicts advanced snapshotRevision past every
		// disjoint intervening commit; retry the claim from there.
	}
}

func (txn *Transaction) resolveConflicts(latest uint32) error {
	commitsStore, err := txn.db.getRevStore(commitsCollection)
	if err != nil {
		return err
	}
	uint32Codec, _ := codec.Lookup("uint32")
	dictCodec, _ := codec.Lookup("dict")

	for c := txn.snapshotRevision + 1; c <= latest; c++ {
		dbKey, err := uint32Codec.Pack(int64(c), true)
		if err != nil {
			return err
		}
		_, raw, err := commitsStore.GetItem(dbKey, 0, 0)
		if err == store.ErrNotFound {
			txn.snapshotRevision = c
			continue
		}
		if err != nil {
			return err
		}
		doc, err := dictCodec.Unpack(raw, false)
		if err != nil {
			return err
		}
		var rec CommitRecord
		if err := codec.Convert(doc, &rec); err != nil {
			return err
		}

		conflictFound := false
		for collection, touched := range txn.updates {
			committedKeys, ok := rec.Updates[collection]
			if !ok {
				continue
			}
			committedSet := make(map[string]bool, len(committedKeys))
			for _, k := range committedKeys {
				committedSet[k] = true
			}
			sharedKey := false
			for dbKeyStr, pk := range touched {
				if committedSet[dbKeyStr] {
					txn.conflicts = append(txn.conflicts, Conflict{Collection: collection, PK: pk, Revision: c})
					conflictFound = true
					sharedKey = true
				}
			}
			// With auto-resolve disabled, any intervening commit that
			// touched a collection this transaction also wrote to halts
			// the fast-forward, even without a literal shared primary
			// key: there is no pk to attach to the conflict, so PK is
			// left nil.
			if !sharedKey && !txn.autoResolve {
				txn.conflicts = append(txn.conflicts, Conflict{Collection: collection, PK: nil, Revision: c})
				conflictFound = true
			}
		}
		if conflictFound {
			break
		}
		txn.snapshotRevision = c
	}

	if len(txn.conflicts) > 0 {
		return &ConflictError{Conflicts: txn.conflicts}
	}
	return nil
}

func (txn *Transaction) writeDirect(collection string, pk, value interface{}, revision uint32) error {
	meta, err := txn.getCollectionMeta(collection)
	if err != nil {
		return err
	}
	e, err := collectionEntry(meta)
	if err != nil {
		return err
	}
	dbKey, err := e.ToDBKey(pk)
	if err != nil {
		return err
	}
	dbValue, err := e.ToDBValue(value)
	if err != nil {
		return err
	}
	persistent, err := txn.db.getRevStore(subStoreName(collection))
	if err != nil {
		return err
	}
	return persistent.Store([]store.Item{{Key: dbKey, Value: dbValue}}, revision)
}

func (txn *Transaction) finishCommit(claimed uint32) (uint32, error) {
	txn.snapshotRevision = claimed

	record := &CommitRecord{Updates: make(map[string][]string, len(txn.updates)), Checksum: ""}
	for collection, touched := range txn.updates {
		keys := make([]string, 0, len(touched))
		for dbKeyStr := range touched {
			keys = append(keys, dbKeyStr)
		}
		record.Updates[collection] = keys
	}
	// _commits[claimed] and _commits[0] are written here, before the data
	// overlays below, matching the commit protocol's step order. This
	// looks backwards against the "crash-visibility" framing of _commits
	// as the durability watermark: if the process dies between here and
	// the overlay flush, a reopened database sees _commits[0]=claimed
	// and this revision's CommitRecord, but some of its Store calls
	// below never ran. That's fine rather than a corruption risk,
	// because GetItem never manufactures data out of the commit record
	// alone — a key with no Store'd revision simply reads as not present
	// at that revision, the same as if the key were untouched. The
	// watermark's job is only to let recovery and resolveConflicts know
	// which revisions are claimed and what they touched, not to promise
	// every one of their writes already landed.
	if err := txn.writeDirect(commitsCollection, claimed, record, claimed); err != nil {
		return 0, err
	}
	if err := txn.writeDirect(commitsCollection, uint32(0), claimed, claimed); err != nil {
		return 0, err
	}

	for collection, overlay := range txn.overlays {
		items := overlay.Items()
		if len(items) == 0 {
			continue
		}
		persistent, err := txn.db.getRevStore(subStoreName(collection))
		if err != nil {
			return 0, err
		}
		if err := persistent.Store(items, claimed); err != nil {
			return 0, err
		}
	}
	for subName, overlay := range txn.indexOverlays {
		items := overlay.Items()
		if len(items) == 0 {
			continue
		}
		persistent, err := txn.db.getRevStore(subName)
		if err != nil {
			return 0, err
		}
		if err := persistent.Store(items, claimed); err != nil {
			return 0, err
		}
	}

	hooks := txn.hooks
	txn.overlays = make(map[string]*store.MemoryStore)
	txn.indexOverlays = make(map[string]*store.MemoryStore)
	txn.updates = make(map[string]map[string]interface{})
	txn.hooks = nil

	for _, hook := range hooks {
		if err := hook(); err != nil {
			return claimed, err
		}
	}
	return claimed, nil
}

// extractAccessor walks a dotted accessor path (e.g. "address.city") over
// a decoded document, returning nil if any segment is missing or the
// document isn't shaped like nested maps at that point.
func extractAccessor(doc interface{}, accessor string) interface{} {
	if doc == nil {
		return nil
	}
	cur := doc
	for _, part := range strings.Split(accessor, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		v, ok := m[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}
