// Package kvtest exercises a kv.Driver implementation against a single
// shared conformance suite, the way perkeep's pkg/sorted/kvtest exercises
// its KeyValue implementations.
package kvtest

import (
	"bytes"
	"testing"

	"github.com/tf198/reprisedb/kv"
)

// TestDriver runs the full conformance suite against driver.
func TestDriver(t *testing.T, driver kv.Driver) {
	t.Helper()
	sub, err := driver.OpenSub("widgets")
	if err != nil {
		t.Fatalf("OpenSub: %v", err)
	}

	put(t, sub, "a", "av")
	put(t, sub, "b", "bv")
	put(t, sub, "c", "cv")

	assertRange(t, sub, "", nil, "a:av", "b:bv", "c:cv")
	assertRange(t, sub, "b", nil, "b:bv", "c:cv")
	assertRange(t, sub, "aa", []byte("c"), "b:bv")

	deleteKey(t, sub, "b")
	assertRange(t, sub, "", nil, "a:av", "c:cv")

	// A failed write transaction must not affect subsequent reads.
	wtx, err := sub.Begin(true)
	if err != nil {
		t.Fatalf("Begin(true): %v", err)
	}
	if err := wtx.PutMany([]kv.Item{{Key: []byte("z"), Value: []byte("zv")}}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	if err := wtx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	assertRange(t, sub, "", nil, "a:av", "c:cv")

	if err := driver.DropSub("widgets"); err != nil {
		t.Fatalf("DropSub: %v", err)
	}
	sub2, err := driver.OpenSub("widgets")
	if err != nil {
		t.Fatalf("OpenSub after drop: %v", err)
	}
	assertRange(t, sub2, "", nil)

	testPruneScan(t, driver)
}

// testPruneScan exercises the exact access pattern store.RevisionStore.IterPrune
// relies on: a single forward cursor that deletes the current entry and then
// calls Next() to keep scanning, without re-seeking. A driver whose
// DeleteCurrent invalidates the cursor stops the scan after the first
// deletion instead of visiting every remaining key.
func testPruneScan(t *testing.T, driver kv.Driver) {
	t.Helper()
	sub, err := driver.OpenSub("prune")
	if err != nil {
		t.Fatalf("OpenSub(prune): %v", err)
	}
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		put(t, sub, k, k+"v")
	}

	tx, err := sub.Begin(true)
	if err != nil {
		t.Fatalf("Begin(true): %v", err)
	}
	cur, err := tx.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}

	var kept []string
	valid := cur.First()
	for valid {
		k := string(cur.Key())
		// Delete every key except "c", mirroring IterPrune's pattern of
		// deleting some but not all entries as it scans, including two
		// deletions back to back (a, b).
		if k == "c" {
			kept = append(kept, k)
			valid = cur.Next()
			continue
		}
		if err := cur.DeleteCurrent(); err != nil {
			t.Fatalf("DeleteCurrent(%q): %v", k, err)
		}
		valid = cur.Next()
	}
	cur.Close()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := []string{"c"}
	if len(kept) != len(want) || kept[0] != want[0] {
		t.Fatalf("scan visited kept=%v, want %v (DeleteCurrent likely stopped the scan early)", kept, want)
	}
	assertRange(t, sub, "", nil, "c:cv")
}

func put(t *testing.T, sub kv.SubStore, key, value string) {
	t.Helper()
	tx, err := sub.Begin(true)
	if err != nil {
		t.Fatalf("Begin(true): %v", err)
	}
	if err := tx.PutMany([]kv.Item{{Key: []byte(key), Value: []byte(value)}}); err != nil {
		t.Fatalf("PutMany(%q): %v", key, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func deleteKey(t *testing.T, sub kv.SubStore, key string) {
	t.Helper()
	tx, err := sub.Begin(true)
	if err != nil {
		t.Fatalf("Begin(true): %v", err)
	}
	cur, err := tx.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if !cur.SetRange([]byte(key)) || !bytes.Equal(cur.Key(), []byte(key)) {
		t.Fatalf("SetRange(%q) did not land on the key", key)
	}
	if err := cur.DeleteCurrent(); err != nil {
		t.Fatalf("DeleteCurrent: %v", err)
	}
	cur.Close()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func assertRange(t *testing.T, sub kv.SubStore, start string, end []byte, want ...string) {
	t.Helper()
	tx, err := sub.Begin(false)
	if err != nil {
		t.Fatalf("Begin(false): %v", err)
	}
	defer tx.Rollback()
	cur, err := tx.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	defer cur.Close()

	var got []string
	ok := cur.SetRange([]byte(start))
	for ok {
		k, v := cur.Item()
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		got = append(got, string(k)+":"+string(v))
		ok = cur.Next()
	}
	if len(got) != len(want) {
		t.Fatalf("range(%q,%v) = %v, want %v", start, end, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("range(%q,%v)[%d] = %q, want %q", start, end, i, got[i], want[i])
		}
	}
}
