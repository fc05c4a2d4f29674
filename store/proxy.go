package store

import "bytes"

// ProxyStore merge-joins a stack of Stores into one ordered view, the way
// perkeep's sorted/buffer.Storage merges a buffered overlay over a backing
// KeyValue, generalized from two layers to an arbitrary stack. Stores
// earlier in the list take priority: when more than one store has a value
// for the same key, the result from the lowest-index store wins and the
// others are skipped for that key. This lets a transaction stack its
// uncommitted MemoryStore overlay (index 0) in front of the persistent
// RevisionStore (index 1), or stack several index generations in front of
// a base collection store.
type ProxyStore struct {
	stores []Store
}

func NewProxyStore(stores ...Store) *ProxyStore {
	return &ProxyStore{stores: stores}
}

// Store writes only to the first store in the stack (typically the
// MemoryStore overlay); the stores below it are never written. With an
// empty stack it returns ErrNotFound.
func (p *ProxyStore) Store(items []Item, revision uint32) error {
	if len(p.stores) == 0 {
		return ErrNotFound
	}
	return p.stores[0].Store(items, revision)
}

func (p *ProxyStore) GetItem(key []byte, endRevision, startRevision uint32) ([]byte, []byte, error) {
	for _, s := range p.stores {
		rev, val, err := s.GetItem(key, endRevision, startRevision)
		if err == nil {
			return rev, val, nil
		}
		if err != ErrNotFound {
			return nil, nil, err
		}
	}
	return nil, nil, ErrNotFound
}

func (p *ProxyStore) IterItems(startKey, endKey []byte, endRevision, startRevision uint32) Iterator {
	lanes := make([]Iterator, len(p.stores))
	for i, s := range p.stores {
		lanes[i] = s.IterItems(startKey, endKey, endRevision, startRevision)
	}
	return newMergeIterator(lanes)
}

// mergeIterator advances every lane whose current key matches the winning
// (lowest) key at each step, so duplicate keys across lanes are collapsed
// into a single emitted record, with the lowest-index lane's value
// winning, mirroring buffer.go's "buf wins ties over back" rule.
type mergeIterator struct {
	lanes []Iterator
	ready []bool

	key, rev, val []byte
	err           error
}

func newMergeIterator(lanes []Iterator) *mergeIterator {
	m := &mergeIterator{lanes: lanes, ready: make([]bool, len(lanes))}
	for i, l := range lanes {
		m.ready[i] = l.Next()
	}
	return m
}

func (m *mergeIterator) Next() bool {
	winner := -1
	for i, ok := range m.ready {
		if !ok {
			continue
		}
		if winner == -1 || bytes.Compare(m.lanes[i].Key(), m.lanes[winner].Key()) < 0 {
			winner = i
		}
	}
	if winner == -1 {
		return false
	}

	m.key = m.lanes[winner].Key()
	m.rev = m.lanes[winner].Revision()
	m.val = m.lanes[winner].Value()

	winKey := m.key
	for i, ok := range m.ready {
		if ok && bytes.Equal(m.lanes[i].Key(), winKey) {
			m.ready[i] = m.lanes[i].Next()
		}
	}
	return true
}

func (m *mergeIterator) Key() []byte      { return m.key }
func (m *mergeIterator) Revision() []byte { return m.rev }
func (m *mergeIterator) Value() []byte    { return m.val }
func (m *mergeIterator) Err() error       { return m.err }

func (m *mergeIterator) Close() error {
	var first error
	for _, l := range m.lanes {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
