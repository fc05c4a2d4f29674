// Package index implements RepriseDB's secondary indexes: composite
// physical keys of the form encoded_value ‖ NUL ‖ encoded_pk ‖ tail_length
// ‖ inverted_revision, with a one-byte insert/remove mark as the value. The
// tail_length byte is present only when the pk codec's AppendLast writes one
// (strings); fixed-width pk codecs append the packed pk alone.
// Because the mark is never updated in place (only appended at a new
// revision), and the store layer already collapses each physical key's
// history down to its newest visible mark, membership of a (value, pk)
// pair in the index at any snapshot reduces to "is its newest mark '+'".
package index

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/tf198/reprisedb/codec"
	"github.com/tf198/reprisedb/store"
)

// MarkInsert and MarkRemove are the two legal index record values.
var (
	MarkInsert = []byte{'+'}
	MarkRemove = []byte{'-'}
)

// ErrBadMark is returned by Prepare when asked to record a mark other than
// '+' or '-'. It indicates a caller bug, never a data-dependent condition.
var ErrBadMark = errors.New("index: mark must be '+' or '-'")

// Index is the stateless key codec for one accessor on one collection.
type Index struct {
	PKCodec    codec.Packer
	ValueCodec codec.Packer
}

func New(pkCodec, valueCodec codec.Packer) *Index {
	return &Index{PKCodec: pkCodec, ValueCodec: valueCodec}
}

// ToDBKey builds the full physical key for (value, pk), without the
// trailing revision suffix (the store layer appends that). The value is
// packed in value mode, not key mode: the NUL this function appends is
// itself the separator, added uniformly for every value codec rather
// than relying on the string packer's own index-mode terminator, so a
// fixed-width indexed type (an int accessor, say) gets exactly the same
// single-byte separator a string one does.
func (idx *Index) ToDBKey(value, pk interface{}) ([]byte, error) {
	valuePart, err := idx.ValueCodec.Pack(value, false)
	if err != nil {
		return nil, err
	}
	prefix := append(append([]byte{}, valuePart...), codec.NUL...)
	return idx.PKCodec.AppendLast(prefix, pk)
}

// FromDBKey splits a physical index key (minus its revision suffix, which
// the caller is expected to have already removed) back into its indexed
// value and primary key. Unlike stripping a fixed trailing byte, this
// calls the value codec's generic Unpack on the recovered prefix, so
// non-string indexed value types decode correctly too.
func (idx *Index) FromDBKey(dbKey []byte) (value, pk interface{}, err error) {
	prefix, pkValue, err := idx.PKCodec.ExtractLast(dbKey)
	if err != nil {
		return nil, nil, err
	}
	if len(prefix) == 0 || prefix[len(prefix)-1] != codec.NUL[0] {
		return nil, nil, errors.New("index: key missing NUL separator before primary key")
	}
	valuePart := prefix[:len(prefix)-1]
	value, err = idx.ValueCodec.Unpack(valuePart, false)
	if err != nil {
		return nil, nil, err
	}
	return value, pkValue, nil
}

// KeyRange returns [start, end) physical key bounds covering every record
// whose indexed value lies in [startValue, endValue). A nil endValue means
// "every record sharing startValue's encoded prefix" (a single-value
// lookup), bounded above by appending codec.One instead of codec.NUL so
// that no pk suffix for startValue itself is excluded.
func (idx *Index) KeyRange(startValue, endValue interface{}) (start, end []byte, err error) {
	startPacked, err := idx.ValueCodec.Pack(startValue, false)
	if err != nil {
		return nil, nil, err
	}
	start = append(append([]byte{}, startPacked...), codec.NUL...)

	if endValue == nil {
		end = append(append([]byte{}, startPacked...), codec.One...)
		return start, end, nil
	}
	endPacked, err := idx.ValueCodec.Pack(endValue, false)
	if err != nil {
		return nil, nil, err
	}
	end = append(append([]byte{}, endPacked...), codec.NUL...)
	return start, end, nil
}

// Prepare builds the (physical key, mark value) pair for recording that pk
// was inserted into or removed from the index under value.
func (idx *Index) Prepare(value, pk interface{}, mark byte) (dbKey, dbValue []byte, err error) {
	if mark != '+' && mark != '-' {
		return nil, nil, ErrBadMark
	}
	dbKey, err = idx.ToDBKey(value, pk)
	if err != nil {
		return nil, nil, err
	}
	return dbKey, []byte{mark}, nil
}

// BoundIndex pairs an Index with a concrete store and revision window,
// supporting range lookups over a snapshot.
type BoundIndex struct {
	index                      *Index
	datastore                  store.Store
	endRevision, startRevision uint32
}

func Bind(idx *Index, datastore store.Store, endRevision, startRevision uint32) *BoundIndex {
	return &BoundIndex{index: idx, datastore: datastore, endRevision: endRevision, startRevision: startRevision}
}

// Lookup returns every pk whose newest visible mark under a value in
// [startValue, endValue) is '+', ordered by (value, pk) ascending. A nil
// endValue restricts to exactly startValue.
func (b *BoundIndex) Lookup(startValue, endValue interface{}) ([]interface{}, error) {
	startKey, endKey, err := b.index.KeyRange(startValue, endValue)
	if err != nil {
		return nil, err
	}
	it := b.datastore.IterItems(startKey, endKey, b.endRevision, b.startRevision)
	defer it.Close()

	var pks []interface{}
	for it.Next() {
		if !bytes.Equal(it.Value(), MarkInsert) {
			continue
		}
		_, pk, err := b.index.FromDBKey(it.Key())
		if err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, it.Err()
}

// Mark writes a single insert/remove record at revision.
func (b *BoundIndex) Mark(value, pk interface{}, mark byte, revision uint32) error {
	dbKey, dbValue, err := b.index.Prepare(value, pk, mark)
	if err != nil {
		return err
	}
	return b.datastore.Store([]store.Item{{Key: dbKey, Value: dbValue}}, revision)
}
