package store_test

import (
	"testing"

	"github.com/tf198/reprisedb/kv/memdriver"
	"github.com/tf198/reprisedb/store"
)

func newRevisionStore(t *testing.T) *store.RevisionStore {
	t.Helper()
	driver := memdriver.New()
	sub, err := driver.OpenSub("widgets")
	if err != nil {
		t.Fatalf("OpenSub: %v", err)
	}
	return store.NewRevisionStore(sub, 0)
}

func TestRevisionStoreGetItemWithinWindow(t *testing.T) {
	rs := newRevisionStore(t)

	if err := rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("v1")}}, 1); err != nil {
		t.Fatalf("Store rev1: %v", err)
	}
	if err := rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("v2")}}, 2); err != nil {
		t.Fatalf("Store rev2: %v", err)
	}

	_, val, err := rs.GetItem([]byte("a"), 0, 0)
	if err != nil {
		t.Fatalf("GetItem latest: %v", err)
	}
	if string(val) != "v2" {
		t.Fatalf("GetItem latest = %q, want v2", val)
	}

	_, val, err = rs.GetItem([]byte("a"), 1, 0)
	if err != nil {
		t.Fatalf("GetItem@1: %v", err)
	}
	if string(val) != "v1" {
		t.Fatalf("GetItem@1 = %q, want v1", val)
	}

	_, _, err = rs.GetItem([]byte("a"), 0, 0)
	if err == store.ErrNotFound {
		t.Fatalf("GetItem latest unexpectedly not found")
	}
}

func TestRevisionStoreGetItemNotFound(t *testing.T) {
	rs := newRevisionStore(t)
	if _, _, err := rs.GetItem([]byte("missing"), 0, 0); err != store.ErrNotFound {
		t.Fatalf("GetItem(missing) = %v, want ErrNotFound", err)
	}
}

func TestRevisionStoreMonotonicity(t *testing.T) {
	rs := newRevisionStore(t)
	if err := rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("v")}}, 5); err != nil {
		t.Fatalf("Store rev5: %v", err)
	}
	err := rs.Store([]store.Item{{Key: []byte("b"), Value: []byte("v")}}, 3)
	if _, ok := err.(*store.MonotonicityError); !ok {
		t.Fatalf("Store rev3 after rev5 = %v, want *MonotonicityError", err)
	}
}

func TestRevisionStoreIterItemsCollapsesHistory(t *testing.T) {
	rs := newRevisionStore(t)
	rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("a1")}}, 1)
	rs.Store([]store.Item{{Key: []byte("b"), Value: []byte("b1")}}, 1)
	rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("a2")}}, 2)

	it := rs.IterItems(nil, nil, 0, 0)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key())+":"+string(it.Value()))
	}
	want := []string{"a:a2", "b:b1"}
	if len(got) != len(want) {
		t.Fatalf("IterItems = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IterItems[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRevisionStoreIterItemsRespectsWindow(t *testing.T) {
	rs := newRevisionStore(t)
	rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("a1")}}, 1)
	rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("a2")}}, 2)
	rs.Store([]store.Item{{Key: []byte("a"), Value: []byte("a3")}}, 3)

	it := rs.IterItems(nil, nil, 2, 0)
	defer it.Close()
	if !it.Next() {
		t.Fatalf("IterItems@<=2 yielded nothing")
	}
	if string(it.Value()) != "a2" {
		t.Fatalf("IterItems@<=2 = %q, want a2", it.Value())
	}
	if it.Next() {
		t.Fatalf("IterItems@<=2 yielded more than one record")
	}
}

func TestRevisionStoreIterPruneDiscardsEveryKeysHistory(t *testing.T) {
	rs := newRevisionStore(t)

	// Three keys, each written at revisions 1-4, so each has 4 revisions
	// on disk. With keep=1, IterPrune must discard 3 revisions per key
	// (9 total), not just the first over-keep revision it encounters.
	for _, key := range []string{"a", "b", "c"} {
		for rev := uint32(1); rev <= 4; rev++ {
			if err := rs.Store([]store.Item{{Key: []byte(key), Value: []byte{byte(rev)}}}, rev); err != nil {
				t.Fatalf("Store(%s, rev %d): %v", key, rev, err)
			}
		}
	}

	pruned, err := rs.IterPrune(1)
	if err != nil {
		t.Fatalf("IterPrune: %v", err)
	}
	if len(pruned) != 9 {
		t.Fatalf("IterPrune discarded %d records, want 9 (a driver whose cursor stops scanning after the first delete would under-report this)", len(pruned))
	}

	discarded := make(map[string]int)
	for _, p := range pruned {
		discarded[string(p.Key)]++
	}
	for _, key := range []string{"a", "b", "c"} {
		if discarded[key] != 3 {
			t.Fatalf("IterPrune discarded %d revisions of %q, want 3", discarded[key], key)
		}
	}

	it := rs.IterItems(nil, nil, 0, 0)
	defer it.Close()
	for _, key := range []string{"a", "b", "c"} {
		if !it.Next() {
			t.Fatalf("IterItems after prune missing %q", key)
		}
		if string(it.Value()) != string([]byte{4}) {
			t.Fatalf("IterItems(%s) = %v after prune, want newest revision kept", key, it.Value())
		}
	}
	if it.Next() {
		t.Fatalf("IterItems after prune yielded more than 3 keys")
	}
}

func TestMemoryStoreOverridesOnStore(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.Store([]store.Item{{Key: []byte("a"), Value: []byte("v1")}}, 0)
	ms.Store([]store.Item{{Key: []byte("a"), Value: []byte("v2")}}, 0)

	_, val, err := ms.GetItem([]byte("a"), 0, 0)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if string(val) != "v2" {
		t.Fatalf("GetItem = %q, want v2", val)
	}
}

func TestProxyStoreOverlayWinsOnTie(t *testing.T) {
	base := store.NewMemoryStore()
	base.Store([]store.Item{
		{Key: []byte("a"), Value: []byte("base-a")},
		{Key: []byte("b"), Value: []byte("base-b")},
	}, 0)

	overlay := store.NewMemoryStore()
	overlay.Store([]store.Item{{Key: []byte("a"), Value: []byte("overlay-a")}}, 0)

	proxy := store.NewProxyStore(overlay, base)

	_, val, err := proxy.GetItem([]byte("a"), 0, 0)
	if err != nil {
		t.Fatalf("GetItem a: %v", err)
	}
	if string(val) != "overlay-a" {
		t.Fatalf("GetItem a = %q, want overlay-a", val)
	}

	it := proxy.IterItems(nil, nil, 0, 0)
	defer it.Close()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key())+":"+string(it.Value()))
	}
	want := []string{"a:overlay-a", "b:base-b"}
	if len(got) != len(want) {
		t.Fatalf("IterItems = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IterItems[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
