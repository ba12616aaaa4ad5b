package storage

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryDB implements DB using an in-memory map. Transactions are
// serialized by a single lock, so Update never conflicts. Intended for
// tests.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte

	subMu   sync.Mutex
	subs    map[int]*memSub
	nextSub int
}

type memSub struct {
	prefix []byte
	fn     func(key, value []byte) error
	done   chan struct{}
	once   sync.Once
}

func (s *memSub) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
		subs: make(map[int]*memSub),
	}
}

// View runs fn against a read-only snapshot.
func (m *MemoryDB) View(fn func(Txn) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTxn{db: m, readOnly: true})
}

// Update runs fn against a buffered transaction and applies the writes on
// success. The write lock serializes transactions, so commits never
// conflict.
func (m *MemoryDB) Update(fn func(Txn) error) error {
	m.mu.Lock()
	txn := &memTxn{db: m, pending: make(map[string][]byte)}
	err := fn(txn)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	var written []struct{ k, v []byte }
	for k, v := range txn.pending {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
		written = append(written, struct{ k, v []byte }{[]byte(k), v})
	}
	m.mu.Unlock()

	m.notify(written)
	return nil
}

// notify delivers committed writes to matching subscribers, outside the
// data lock.
func (m *MemoryDB) notify(written []struct{ k, v []byte }) {
	if len(written) == 0 {
		return
	}
	sort.Slice(written, func(i, j int) bool {
		return bytes.Compare(written[i].k, written[j].k) < 0
	})
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, sub := range m.subs {
		for _, w := range written {
			if !bytes.HasPrefix(w.k, sub.prefix) {
				continue
			}
			if err := sub.fn(w.k, w.v); err != nil {
				sub.stop()
				delete(m.subs, id)
				break
			}
		}
	}
}

// Subscribe blocks until ctx is done or fn ends the subscription.
func (m *MemoryDB) Subscribe(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	sub := &memSub{prefix: p, fn: fn, done: make(chan struct{})}

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.subMu.Unlock()

	select {
	case <-ctx.Done():
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	case <-sub.done:
	}
	return nil
}

// Close closes the database and ends all subscriptions.
func (m *MemoryDB) Close() error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, sub := range m.subs {
		sub.stop()
		delete(m.subs, id)
	}
	return nil
}

// memTxn is a buffered transaction over a MemoryDB. Writes go to pending
// and become visible on commit; nil pending values mark deletions.
type memTxn struct {
	db       *MemoryDB
	pending  map[string][]byte
	readOnly bool
}

var errReadOnly = errors.New("storage: write in read-only transaction")

func (t *memTxn) Get(key []byte) ([]byte, error) {
	if t.pending != nil {
		if v, ok := t.pending[string(key)]; ok {
			if v == nil {
				return nil, ErrNotFound
			}
			return append([]byte(nil), v...), nil
		}
	}
	v, ok := t.db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTxn) Set(key, value []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	t.pending[string(key)] = append([]byte(nil), value...)
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	t.pending[string(key)] = nil
	return nil
}

func (t *memTxn) Has(key []byte) (bool, error) {
	_, err := t.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *memTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	p := string(prefix)
	for k, v := range t.db.data {
		if len(k) >= len(p) && k[:len(p)] == p {
			merged[k] = v
		}
	}
	for k, v := range t.pending {
		if len(k) >= len(p) && k[:len(p)] == p {
			if v == nil {
				delete(merged, k)
			} else {
				merged[k] = v
			}
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), append([]byte(nil), merged[k]...)); err != nil {
			return err
		}
	}
	return nil
}
