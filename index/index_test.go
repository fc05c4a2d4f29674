package index_test

import (
	"testing"

	"github.com/tf198/reprisedb/codec"
	"github.com/tf198/reprisedb/index"
	"github.com/tf198/reprisedb/kv/memdriver"
	"github.com/tf198/reprisedb/store"
)

func newBoundIndex(t *testing.T) *index.BoundIndex {
	t.Helper()
	driver := memdriver.New()
	sub, err := driver.OpenSub("people.name")
	if err != nil {
		t.Fatalf("OpenSub: %v", err)
	}
	uint32Codec, _ := codec.Lookup("uint32")
	stringCodec, _ := codec.Lookup("string")
	idx := index.New(uint32Codec, stringCodec)
	rs := store.NewRevisionStore(sub, 0)
	return index.Bind(idx, rs, 0, 0)
}

func TestBoundIndexLookupRange(t *testing.T) {
	bi := newBoundIndex(t)

	bi.Mark("Bob", uint32(3), '+', 1)
	bi.Mark("Brenda", uint32(6), '+', 1)
	bi.Mark("Borris", uint32(23), '+', 1)
	bi.Mark("Andy", uint32(9), '+', 1)
	bi.Mark("Zavier", uint32(12), '+', 1)

	pks, err := bi.Lookup("", "~")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := []int64{9, 3, 23, 6, 12}
	if len(pks) != len(want) {
		t.Fatalf("Lookup = %v, want %v", pks, want)
	}
	for i, w := range want {
		if pks[i] != w {
			t.Fatalf("Lookup[%d] = %v, want %v", i, pks[i], w)
		}
	}
}

func TestBoundIndexLookupSingleValue(t *testing.T) {
	bi := newBoundIndex(t)
	bi.Mark("Bob", uint32(3), '+', 1)
	bi.Mark("Borris", uint32(23), '+', 1)

	pks, err := bi.Lookup("Bob", nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(pks) != 1 || pks[0] != int64(3) {
		t.Fatalf("Lookup(Bob) = %v, want [3]", pks)
	}
}

func TestBoundIndexRemoveMarkHidesRecord(t *testing.T) {
	bi := newBoundIndex(t)
	bi.Mark("Bob", uint32(3), '+', 1)
	bi.Mark("Bob", uint32(3), '-', 2)

	pks, err := bi.Lookup("", "~")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(pks) != 0 {
		t.Fatalf("Lookup after remove = %v, want empty", pks)
	}
}

func TestIndexPrepareRejectsBadMark(t *testing.T) {
	uint32Codec, _ := codec.Lookup("uint32")
	stringCodec, _ := codec.Lookup("string")
	idx := index.New(uint32Codec, stringCodec)
	if _, _, err := idx.Prepare("Bob", uint32(3), '?'); err != index.ErrBadMark {
		t.Fatalf("Prepare(bad mark) = %v, want ErrBadMark", err)
	}
}
