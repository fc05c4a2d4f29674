package reprisedb_test

import (
	"reflect"
	"testing"

	"github.com/tf198/reprisedb"
	"github.com/tf198/reprisedb/kv/memdriver"
)

func newDB(t *testing.T) *reprisedb.Database {
	t.Helper()
	db, err := reprisedb.Open(memdriver.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func mustCommit(t *testing.T, txn *reprisedb.Transaction) uint32 {
	t.Helper()
	r, err := txn.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return r
}

// S1: bulk insert then read.
func TestBulkInsertThenRead(t *testing.T) {
	db := newDB(t)

	txn := db.Begin()
	if err := txn.CreateCollection("people", "uint32", "string"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := txn.Put("people", uint32(1), "Bob", true, true); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	if _, err := txn.Put("people", uint32(2), "Fred", true, true); err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	mustCommit(t, txn)

	txn2 := db.Begin()
	keys, err := txn2.Keys("people", nil, nil)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []int64{1, 2}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i, w := range want {
		if keys[i] != w {
			t.Fatalf("Keys[%d] = %v, want %v", i, keys[i], w)
		}
	}

	v, err := txn2.Get("people", uint32(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "Bob" {
		t.Fatalf("Get = %v, want Bob", v)
	}
}

func seedPeopleWithNameIndex(t *testing.T, db *reprisedb.Database) {
	t.Helper()
	txn := db.Begin()
	if err := txn.CreateCollection("people", "uint32", "dict"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := txn.AddIndex("people", "name", "string"); err != nil {
		t.Fatalf("AddIndex: %v", err)
	}
	docs := map[uint32]string{3: "Bob", 6: "Brenda", 23: "Borris", 9: "Andy", 12: "Zavier"}
	for pk, name := range docs {
		if _, err := txn.Put("people", pk, map[string]interface{}{"name": name}, true, true); err != nil {
			t.Fatalf("Put %d: %v", pk, err)
		}
	}
	mustCommit(t, txn)
}

func int64Slice(want ...int64) []int64 { return want }

func assertPKs(t *testing.T, got []interface{}, want []int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("lookup = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("lookup[%d] = %v, want %v", i, got[i], w)
		}
	}
}

// S2: range lookup on string index.
func TestRangeLookupOnStringIndex(t *testing.T) {
	db := newDB(t)
	seedPeopleWithNameIndex(t, db)

	txn := db.Begin()
	pks, err := txn.Lookup("people", "name", "", "~")
	if err != nil {
		t.Fatalf("Lookup full: %v", err)
	}
	assertPKs(t, pks, int64Slice(9, 3, 23, 6, 12))

	pks, err = txn.Lookup("people", "name", "Bob", nil)
	if err != nil {
		t.Fatalf("Lookup Bob: %v", err)
	}
	assertPKs(t, pks, int64Slice(3))

	pks, err = txn.Lookup("people", "name", "Bo", "Bp")
	if err != nil {
		t.Fatalf("Lookup Bo-Bp: %v", err)
	}
	assertPKs(t, pks, int64Slice(3, 23))
}

// S3: snapshot isolation.
func TestSnapshotIsolation(t *testing.T) {
	db := newDB(t)
	seedPeopleWithNameIndex(t, db)

	t1 := db.Begin()

	t2 := db.Begin()
	if _, err := t2.Put("people", uint32(3), map[string]interface{}{"name": "Robert"}, true, true); err != nil {
		t.Fatalf("t2 Put: %v", err)
	}
	mustCommit(t, t2)

	v, err := t1.Get("people", uint32(3))
	if err != nil {
		t.Fatalf("t1.Get: %v", err)
	}
	if !reflect.DeepEqual(v, map[string]interface{}{"name": "Bob"}) {
		t.Fatalf("t1.Get(3) = %v, want Bob doc", v)
	}

	pks, err := t1.Lookup("people", "name", "Boa", "Bod")
	if err != nil {
		t.Fatalf("t1.Lookup: %v", err)
	}
	assertPKs(t, pks, int64Slice(3))
}

// S4: blocked commit.
func TestBlockedCommit(t *testing.T) {
	db := newDB(t)
	txn := db.Begin()
	if err := txn.CreateCollection("people", "uint32", "string"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	txn.Put("people", uint32(1), "Bob", true, true)
	txn.Put("people", uint32(2), "Fred", true, true)
	mustCommit(t, txn)

	t1 := db.Begin()
	t2 := db.Begin()

	t1.Put("people", uint32(3), "Dave", true, true)
	r1 := mustCommit(t, t1)

	t2.Put("people", uint32(3), "Andy", true, true)
	t2.Put("people", uint32(1), "Jane", true, true)
	_, err := t2.Commit()
	conflictErr, ok := err.(*reprisedb.ConflictError)
	if !ok {
		t.Fatalf("t2.Commit() = %v, want *ConflictError", err)
	}
	found := false
	for _, c := range t2.Conflicts() {
		if c.Collection == "people" && c.PK == uint32(3) && c.Revision == r1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("conflicts = %v, want one for (people, 3, %d)", conflictErr.Conflicts, r1)
	}
}

// S5: non-blocking fast-forward.
func TestNonBlockingFastForward(t *testing.T) {
	db := newDB(t)
	txn := db.Begin()
	if err := txn.CreateCollection("people", "uint32", "string"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	txn.Put("people", uint32(1), "Bob", true, true)
	txn.Put("people", uint32(2), "Fred", true, true)
	mustCommit(t, txn)

	t1 := db.Begin()
	t2 := db.Begin()

	t1.Put("people", uint32(3), "Dave", true, true)
	mustCommit(t, t1)

	t2.Put("people", uint32(2), "Andy", true, true)
	t2.Put("people", uint32(1), "Jane", true, true)
	if _, err := t2.Commit(); err != nil {
		t.Fatalf("t2.Commit: %v", err)
	}

	fresh := db.Begin()
	v1, _ := fresh.Get("people", uint32(1))
	v2, _ := fresh.Get("people", uint32(2))
	v3, _ := fresh.Get("people", uint32(3))
	if v1 != "Jane" || v2 != "Andy" || v3 != "Dave" {
		t.Fatalf("got (%v,%v,%v), want (Jane,Andy,Dave)", v1, v2, v3)
	}
}

// S6: index under updates and deletes.
func TestIndexUnderUpdatesAndDeletes(t *testing.T) {
	db := newDB(t)
	seedPeopleWithNameIndex(t, db)

	txn := db.Begin()
	txn.Put("people", uint32(21), map[string]interface{}{"name": "Andrew"}, true, true)
	txn.Put("people", uint32(14), map[string]interface{}{"name": "Bruce"}, true, true)
	txn.Delete("people", uint32(23))
	mustCommit(t, txn)

	fresh := db.Begin()
	pks, err := fresh.Lookup("people", "name", "", "~")
	if err != nil {
		t.Fatalf("Lookup full: %v", err)
	}
	assertPKs(t, pks, int64Slice(21, 9, 3, 6, 14, 12))

	pks, err = fresh.Lookup("people", "name", "Br", "Bs")
	if err != nil {
		t.Fatalf("Lookup Br-Bs: %v", err)
	}
	assertPKs(t, pks, int64Slice(6, 14))
}

func TestAddIndexBackfillsHistory(t *testing.T) {
	db := newDB(t)

	txn := db.Begin()
	if err := txn.CreateCollection("people", "uint32", "dict"); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	txn.Put("people", uint32(1), map[string]interface{}{"name": "Bob"}, true, true)
	mustCommit(t, txn)

	txn2 := db.Begin()
	txn2.Put("people", uint32(1), map[string]interface{}{"name": "Robert"}, true, true)
	mustCommit(t, txn2)

	txn3 := db.Begin()
	if err := txn3.AddIndex("people", "name", "string"); err != nil {
		t.Fatalf("AddIndex: %v", err)
	}
	mustCommit(t, txn3)

	fresh := db.Begin()
	pks, err := fresh.Lookup("people", "Robert", nil)
	if err == nil {
		t.Fatalf("Lookup(people, Robert) unexpectedly succeeded against wrong accessor name: %v", pks)
	}

	pks, err = fresh.Lookup("people", "name", "Robert", nil)
	if err != nil {
		t.Fatalf("Lookup(name, Robert): %v", err)
	}
	assertPKs(t, pks, int64Slice(1))

	pks, err = fresh.Lookup("people", "name", "Bob", nil)
	if err != nil {
		t.Fatalf("Lookup(name, Bob): %v", err)
	}
	if len(pks) != 0 {
		t.Fatalf("Lookup(name, Bob) after update = %v, want empty", pks)
	}
}

func TestDropCollectionHidesData(t *testing.T) {
	db := newDB(t)
	txn := db.Begin()
	txn.CreateCollection("scratch", "uint32", "string")
	txn.Put("scratch", uint32(1), "x", true, true)
	mustCommit(t, txn)

	txn2 := db.Begin()
	if err := txn2.DropCollection("scratch"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}
	mustCommit(t, txn2)

	fresh := db.Begin()
	if _, err := fresh.Get("scratch", uint32(1)); err != reprisedb.ErrUnknownCollection {
		t.Fatalf("Get after drop = %v, want ErrUnknownCollection", err)
	}
}
