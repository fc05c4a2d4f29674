package reprisedb

import (
	"github.com/pkg/errors"

	"github.com/tf198/reprisedb/index"
)

// ErrNotFound is returned when a logical key is absent or hidden behind a
// tombstone; store.ErrNotFound is translated into it before a Transaction
// method returns. Absent collections and indexes are reported as
// ErrUnknownCollection and ErrUnknownIndex instead.
var ErrNotFound = errors.New("reprisedb: not found")

// ErrUnknownCollection is returned when a collection name has no metadata
// record, either because it was never created or because it was dropped.
var ErrUnknownCollection = errors.New("reprisedb: unknown collection")

// ErrUnknownIndex is returned when an accessor name has no index
// definition on the collection it was looked up against.
var ErrUnknownIndex = errors.New("reprisedb: unknown index")

// ErrDuplicateCollection is returned by CreateCollection when the name is
// already in use.
var ErrDuplicateCollection = errors.New("reprisedb: duplicate collection")

// ErrDuplicateIndex is returned by AddIndex when the accessor already has
// an index definition.
var ErrDuplicateIndex = errors.New("reprisedb: duplicate index")

// ErrBadMark is re-exported from the index package for callers that only
// import the top-level package.
var ErrBadMark = index.ErrBadMark

// Conflict describes one (collection, primary key) pair that a commit
// found had already been written by an intervening commit.
type Conflict struct {
	Collection string
	PK         interface{}
	Revision   uint32
}

// ConflictError is IntegrityError: a commit was preempted by one or more
// prior conflicting commits. Conflicts lists every (collection, pk,
// revision) triple responsible.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return errors.Errorf("reprisedb: commit conflicts with %d prior write(s)", len(e.Conflicts)).Error()
}

// RevisionStaleError is raised internally by Database.TryClaim when the
// caller's expected revision no longer matches current_commit; Transaction
// always catches this and resolves it via conflict detection before it
// ever reaches a caller.
type RevisionStaleError struct {
	Expected, Actual uint32
}

func (e *RevisionStaleError) Error() string {
	return errors.Errorf("reprisedb: expected revision %d, current is %d", e.Expected, e.Actual).Error()
}
