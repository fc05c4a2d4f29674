package entry_test

import (
	"testing"

	"github.com/tf198/reprisedb/codec"
	"github.com/tf198/reprisedb/entry"
	"github.com/tf198/reprisedb/kv/memdriver"
	"github.com/tf198/reprisedb/store"
)

func newBound(t *testing.T) (*entry.BoundEntry, *store.RevisionStore) {
	t.Helper()
	driver := memdriver.New()
	sub, err := driver.OpenSub("people")
	if err != nil {
		t.Fatalf("OpenSub: %v", err)
	}
	uint32Codec, _ := codec.Lookup("uint32")
	stringCodec, _ := codec.Lookup("string")
	e := entry.New(uint32Codec, stringCodec)
	rs := store.NewRevisionStore(sub, 0)
	return entry.Bind(e, rs, 0, 0), rs
}

func TestBoundEntryPutGet(t *testing.T) {
	be, _ := newBound(t)
	if err := be.Put(uint32(1), "Bob", 1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := be.Get(uint32(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "Bob" {
		t.Fatalf("Get = %v, want Bob", v)
	}
}

func TestBoundEntryTombstoneHidesRecord(t *testing.T) {
	be, _ := newBound(t)
	be.Put(uint32(1), "Bob", 1)
	be.Put(uint32(1), nil, 2)

	if _, err := be.Get(uint32(1)); err != store.ErrNotFound {
		t.Fatalf("Get after delete = %v, want store.ErrNotFound", err)
	}
}

func TestBoundEntryIterItemsSkipsTombstones(t *testing.T) {
	be, _ := newBound(t)
	be.Put(uint32(1), "Bob", 1)
	be.Put(uint32(2), "Fred", 1)
	be.Put(uint32(2), nil, 2)

	items, err := be.IterItems(nil, nil)
	if err != nil {
		t.Fatalf("IterItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("IterItems = %v, want 1 item", items)
	}
	if items[0].Key != int64(1) || items[0].Value != "Bob" {
		t.Fatalf("IterItems[0] = %+v, want {1 Bob}", items[0])
	}
}

func TestBoundEntryBulkPut(t *testing.T) {
	be, _ := newBound(t)
	if err := be.BulkPut(map[interface{}]interface{}{
		uint32(1): "Bob",
		uint32(2): "Fred",
	}, 1); err != nil {
		t.Fatalf("BulkPut: %v", err)
	}
	keys, err := be.IterKeys(nil, nil)
	if err != nil {
		t.Fatalf("IterKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("IterKeys = %v, want 2 keys", keys)
	}
}
