package storage

import "context"

// PrefixDB wraps a DB and prepends a fixed prefix to all keys. This
// isolates one module's keyspace within a shared wallet store.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

// prefixed returns key with the prefix prepended.
func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// View runs fn in a read-only transaction scoped to this namespace.
func (p *PrefixDB) View(fn func(Txn) error) error {
	return p.inner.View(func(txn Txn) error {
		return fn(&prefixTxn{inner: txn, db: p})
	})
}

// Update runs fn in a read-write transaction scoped to this namespace.
func (p *PrefixDB) Update(fn func(Txn) error) error {
	return p.inner.Update(func(txn Txn) error {
		return fn(&prefixTxn{inner: txn, db: p})
	})
}

// Subscribe delivers writes under this namespace, with keys presented in
// the namespace-local form.
func (p *PrefixDB) Subscribe(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.Subscribe(ctx, p.prefixed(prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// DeleteAll removes every key under this namespace in one transaction.
func (p *PrefixDB) DeleteAll() error {
	return p.inner.Update(func(txn Txn) error {
		var keys [][]byte
		err := txn.ForEach(p.prefix, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close is a no-op. The outer DB manages its own lifecycle.
func (p *PrefixDB) Close() error {
	return nil
}

// prefixTxn maps namespace-local keys onto the inner transaction.
type prefixTxn struct {
	inner Txn
	db    *PrefixDB
}

func (t *prefixTxn) Get(key []byte) ([]byte, error) {
	return t.inner.Get(t.db.prefixed(key))
}

func (t *prefixTxn) Set(key, value []byte) error {
	return t.inner.Set(t.db.prefixed(key), value)
}

func (t *prefixTxn) Delete(key []byte) error {
	return t.inner.Delete(t.db.prefixed(key))
}

func (t *prefixTxn) Has(key []byte) (bool, error) {
	return t.inner.Has(t.db.prefixed(key))
}

func (t *prefixTxn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	full := t.db.prefixed(prefix)
	return t.inner.ForEach(full, func(key, value []byte) error {
		return fn(key[len(t.db.prefix):], value)
	})
}
