package store

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"

	"github.com/tf198/reprisedb/codec"
	"github.com/tf198/reprisedb/kv"
)

// MonotonicityError is returned by RevisionStore.Store when asked to write
// at a revision older than one it has already durably recorded. Unlike a
// conflict, this is never expected to happen in normal operation (the
// database layer only ever calls Store with a revision it has just won via
// a compare-and-set claim) and is treated as a programming error rather
// than something a caller retries.
type MonotonicityError struct {
	Revision, Current uint32
}

func (e *MonotonicityError) Error() string {
	return errors.Errorf("store: revision %d is not newer than current revision %d", e.Revision, e.Current).Error()
}

// RevisionStore is a RevisionDataStore: it persists every revision a
// collection's keys have ever held, physically ordered as
// user_key ‖ inverted(revision) so that a single key's history sorts
// newest-first and a range scan over many keys naturally interleaves each
// key's newest visible revision into one flat ascending walk.
type RevisionStore struct {
	mu              sync.Mutex
	sub             kv.SubStore
	currentRevision uint32
}

// NewRevisionStore wraps sub, seeded with currentRevision as the lowest
// revision Store will accept. Database.getRevStore seeds every store it
// opens with 0.
func NewRevisionStore(sub kv.SubStore, currentRevision uint32) *RevisionStore {
	return &RevisionStore{sub: sub, currentRevision: currentRevision}
}

func (r *RevisionStore) CurrentRevision() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentRevision
}

func physicalKey(userKey []byte, revision uint32) []byte {
	return append(dup(userKey), codec.EncodeRevision(revision)...)
}

func (r *RevisionStore) Store(items []Item, revision uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if revision < r.currentRevision {
		return &MonotonicityError{Revision: revision, Current: r.currentRevision}
	}
	txn, err := r.sub.Begin(true)
	if err != nil {
		return err
	}
	kvItems := make([]kv.Item, len(items))
	for i, it := range items {
		kvItems[i] = kv.Item{Key: physicalKey(it.Key, revision), Value: it.Value}
	}
	if err := txn.PutMany(kvItems); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	r.currentRevision = revision
	return nil
}

// RawItem is a pre-built physical record: a full key (user key already
// suffixed with its own inverted-revision bytes) and a value. StoreRaw
// exists only for backfilling index history when an index is added to an
// existing collection (see reprisedb.Transaction.AddIndex): unlike Store,
// it writes each item at whatever revision is already baked into its
// physical key, bypassing the monotonicity check that guards the normal
// write path. It is not part of the Store interface and must not be used
// for anything but replaying already-committed history.
type RawItem struct {
	PhysicalKey []byte
	Value       []byte
}

func (r *RevisionStore) StoreRaw(items []RawItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, err := r.sub.Begin(true)
	if err != nil {
		return err
	}
	kvItems := make([]kv.Item, len(items))
	for i, it := range items {
		kvItems[i] = kv.Item{Key: it.PhysicalKey, Value: it.Value}
	}
	if err := txn.PutMany(kvItems); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

func resolveEndRevision(end uint32) uint32 {
	if end == 0 {
		return codec.MaxRevision
	}
	return end
}

func (r *RevisionStore) GetItem(key []byte, endRevision, startRevision uint32) ([]byte, []byte, error) {
	last := codec.EncodeRevision(startRevision)
	first := codec.EncodeRevision(resolveEndRevision(endRevision))

	txn, err := r.sub.Begin(false)
	if err != nil {
		return nil, nil, err
	}
	defer txn.Rollback()
	cur, err := txn.Cursor()
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close()

	if !cur.SetRange(append(dup(key), first...)) {
		return nil, nil, ErrNotFound
	}
	physKey, value := cur.Item()
	if len(physKey) < 4 || !bytes.Equal(physKey[:len(physKey)-4], key) {
		return nil, nil, ErrNotFound
	}
	rev := physKey[len(physKey)-4:]
	if bytes.Compare(rev, last) > 0 {
		return nil, nil, ErrNotFound
	}
	return dup(rev), dup(value), nil
}

// IterItems scans the persistent history for the revision window
// [startRevision, endRevision], collapsing each key's history down to (at
// most) the one visible revision. See revisionIterator for the exact
// algorithm; it is faithfully adapted from the Python original's
// iter_items, including the two set_range "jump" operations per key that
// let a single cursor skip both past a key's out-of-window revisions and
// on to the next key, without ever stepping through every physical record.
func (r *RevisionStore) IterItems(startKey, endKey []byte, endRevision, startRevision uint32) Iterator {
	txn, err := r.sub.Begin(false)
	if err != nil {
		return &errIterator{err: err}
	}
	cur, err := txn.Cursor()
	if err != nil {
		txn.Rollback()
		return &errIterator{err: err}
	}

	it := &revisionIterator{
		txn:    txn,
		cur:    cur,
		endKey: dup(endKey),
		first:  codec.EncodeRevision(resolveEndRevision(endRevision)),
		last:   codec.EncodeRevision(startRevision),
	}
	if startKey != nil {
		it.valid = cur.SetRange(startKey)
	} else {
		it.valid = cur.First()
	}
	return it
}

type revisionIterator struct {
	txn    kv.Txn
	cur    kv.Cursor
	endKey []byte
	first  []byte
	last   []byte

	valid     bool
	exhausted bool
	key, rev, val []byte
}

func (it *revisionIterator) Next() bool {
	if it.exhausted {
		return false
	}
	for {
		if !it.valid {
			it.exhausted = true
			return false
		}
		physKey := it.cur.Key()
		suffix := physKey[len(physKey)-4:]

		if bytes.Compare(suffix, it.first) < 0 {
			target := append(dup(physKey[:len(physKey)-4]), it.first...)
			it.valid = it.cur.SetRange(target)
			continue
		}

		if it.endKey != nil && bytes.Compare(physKey, it.endKey) > 0 {
			it.exhausted = true
			return false
		}

		userKey := dup(physKey[:len(physKey)-4])
		rev := dup(suffix)
		val := dup(it.cur.Value())

		nextTarget := append(dup(userKey), 0xFF, 0xFF, 0xFF, 0xFF)
		it.valid = it.cur.SetRange(nextTarget)

		if bytes.Compare(rev, it.last) <= 0 {
			it.key, it.rev, it.val = userKey, rev, val
			return true
		}
	}
}

func (it *revisionIterator) Key() []byte      { return it.key }
func (it *revisionIterator) Revision() []byte { return it.rev }
func (it *revisionIterator) Value() []byte    { return it.val }
func (it *revisionIterator) Err() error       { return nil }

func (it *revisionIterator) Close() error {
	it.cur.Close()
	return it.txn.Rollback()
}

// errIterator is an Iterator that immediately reports err and yields
// nothing, so that a failure to even open a transaction can be surfaced
// through the same Iterator interface instead of a separate error return.
type errIterator struct{ err error }

func (it *errIterator) Next() bool      { return false }
func (it *errIterator) Key() []byte     { return nil }
func (it *errIterator) Revision() []byte { return nil }
func (it *errIterator) Value() []byte   { return nil }
func (it *errIterator) Err() error      { return it.err }
func (it *errIterator) Close() error    { return it.err }

// History iterates every revision of a single user key, newest to oldest,
// within the window [startRevision, endRevision]. Unlike IterItems it does
// not collapse to the single newest visible revision: every stored version
// in range is yielded.
func (r *RevisionStore) History(userKey []byte, endRevision, startRevision uint32) Iterator {
	txn, err := r.sub.Begin(false)
	if err != nil {
		return &errIterator{err: err}
	}
	cur, err := txn.Cursor()
	if err != nil {
		txn.Rollback()
		return &errIterator{err: err}
	}
	first := codec.EncodeRevision(resolveEndRevision(endRevision))
	last := codec.EncodeRevision(startRevision)
	valid := cur.SetRange(append(dup(userKey), first...))
	return &historyIterator{txn: txn, cur: cur, userKey: dup(userKey), last: last, valid: valid}
}

type historyIterator struct {
	txn     kv.Txn
	cur     kv.Cursor
	userKey []byte
	last    []byte

	valid bool
	key, rev, val []byte
}

func (it *historyIterator) Next() bool {
	for it.valid {
		physKey := it.cur.Key()
		if len(physKey) < len(it.userKey)+4 || !bytes.Equal(physKey[:len(physKey)-4], it.userKey) {
			it.valid = false
			return false
		}
		rev := physKey[len(physKey)-4:]
		val := it.cur.Value()
		it.valid = it.cur.Next()
		if bytes.Compare(rev, it.last) <= 0 {
			it.key, it.rev, it.val = dup(it.userKey), dup(rev), dup(val)
			return true
		}
	}
	return false
}

func (it *historyIterator) Key() []byte      { return it.key }
func (it *historyIterator) Revision() []byte { return it.rev }
func (it *historyIterator) Value() []byte    { return it.val }
func (it *historyIterator) Err() error       { return nil }
func (it *historyIterator) Close() error {
	it.cur.Close()
	return it.txn.Rollback()
}

// GetResult is one answer from IterGet, paired back up with the key it was
// requested for so callers can match results positionally even though a
// miss produces no (revision, value) pair of its own.
type GetResult struct {
	Key      []byte
	Revision []byte
	Value    []byte
	Found    bool
}

// IterGet applies GetItem's filter to each of keys in turn, returning one
// result per key in input order. Each key is looked up by its own GetItem
// call, which opens its own read transaction; no cursor is shared across
// keys.
func (r *RevisionStore) IterGet(keys [][]byte, endRevision, startRevision uint32) ([]GetResult, error) {
	results := make([]GetResult, len(keys))
	for i, k := range keys {
		rev, val, err := r.GetItem(k, endRevision, startRevision)
		if err == ErrNotFound {
			results[i] = GetResult{Key: k, Found: false}
			continue
		}
		if err != nil {
			return nil, err
		}
		results[i] = GetResult{Key: k, Revision: rev, Value: val, Found: true}
	}
	return results, nil
}

// PruneResult is one record IterPrune decided to discard.
type PruneResult struct {
	Key      []byte
	Revision []byte
	Value    []byte
}

// IterPrune walks every user key's history and deletes every revision
// beyond the newest keep of them, returning what was discarded so a caller
// can log or verify compaction. Used by the compaction path, never by
// ordinary reads.
func (r *RevisionStore) IterPrune(keep int) ([]PruneResult, error) {
	txn, err := r.sub.Begin(true)
	if err != nil {
		return nil, err
	}
	cur, err := txn.Cursor()
	if err != nil {
		txn.Rollback()
		return nil, err
	}

	var pruned []PruneResult
	var curKey []byte
	count := 0
	valid := cur.First()
	for valid {
		physKey := cur.Key()
		userKey := physKey[:len(physKey)-4]
		if curKey == nil || !bytes.Equal(userKey, curKey) {
			curKey = dup(userKey)
			count = 0
		}
		count++
		if count > keep {
			pruned = append(pruned, PruneResult{
				Key:      dup(userKey),
				Revision: dup(physKey[len(physKey)-4:]),
				Value:    dup(cur.Value()),
			})
			if err := cur.DeleteCurrent(); err != nil {
				cur.Close()
				txn.Rollback()
				return nil, err
			}
		}
		valid = cur.Next()
	}
	cur.Close()
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return pruned, nil
}

// IterRevisions performs a full physical scan, yielding every stored
// record whose revision lies within [startRevision, endRevision], in
// on-disk order (grouped by user key, newest revision first within each
// key's run). This is the primitive AddIndex backfill builds on: it needs
// every historical revision of every key, not just the one newest visible
// version IterItems would collapse to.
func (r *RevisionStore) IterRevisions(startRevision, endRevision uint32) Iterator {
	txn, err := r.sub.Begin(false)
	if err != nil {
		return &errIterator{err: err}
	}
	cur, err := txn.Cursor()
	if err != nil {
		txn.Rollback()
		return &errIterator{err: err}
	}
	first := codec.EncodeRevision(resolveEndRevision(endRevision))
	last := codec.EncodeRevision(startRevision)
	return &allRevisionsIterator{txn: txn, cur: cur, first: first, last: last, valid: cur.First()}
}

type allRevisionsIterator struct {
	txn         kv.Txn
	cur         kv.Cursor
	first, last []byte

	valid bool
	key, rev, val []byte
}

func (it *allRevisionsIterator) Next() bool {
	for it.valid {
		physKey := it.cur.Key()
		rev := physKey[len(physKey)-4:]
		val := it.cur.Value()
		userKey := physKey[:len(physKey)-4]
		it.valid = it.cur.Next()
		if bytes.Compare(rev, it.first) >= 0 && bytes.Compare(rev, it.last) <= 0 {
			it.key, it.rev, it.val = dup(userKey), dup(rev), dup(val)
			return true
		}
	}
	return false
}

func (it *allRevisionsIterator) Key() []byte      { return it.key }
func (it *allRevisionsIterator) Revision() []byte { return it.rev }
func (it *allRevisionsIterator) Value() []byte    { return it.val }
func (it *allRevisionsIterator) Err() error        { return nil }
func (it *allRevisionsIterator) Close() error {
	it.cur.Close()
	return it.txn.Rollback()
}
