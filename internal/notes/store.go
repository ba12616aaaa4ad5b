// Package notes implements the persistent note ledger: spendable note
// records and out-of-band spend cancellation markers.
package notes

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/types"
	"github.com/rs/zerolog"
)

// Key prefixes for the note ledger.
var (
	prefixNote      = []byte("n/") // n/<amount 8 BE><nonce 33> -> note JSON
	prefixCancelled = []byte("c/") // c/<operation id 32> -> empty (notify-on-write)
)

// commitAttempts bounds transaction retries on storage conflicts for the
// ledger's own single-record writes.
const commitAttempts = 8

// Store is the note ledger backed by a transactional DB.
type Store struct {
	db     storage.DB
	logger zerolog.Logger
}

// NewStore creates a note ledger backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db, logger: klog.Ledger}
}

// NoteKey builds the storage key for a note: "n/" + amount(8 BE) + nonce(33).
// Big-endian amounts keep prefix scans per denomination contiguous, and
// notes within a denomination sort by nonce.
func NoteKey(amount types.Amount, nonce types.Nonce) []byte {
	key := make([]byte, len(prefixNote)+8+types.NonceSize)
	copy(key, prefixNote)
	binary.BigEndian.PutUint64(key[len(prefixNote):], uint64(amount))
	copy(key[len(prefixNote)+8:], nonce[:])
	return key
}

// amountPrefix builds the scan prefix for all notes of one denomination.
func amountPrefix(amount types.Amount) []byte {
	prefix := make([]byte, len(prefixNote)+8)
	copy(prefix, prefixNote)
	binary.BigEndian.PutUint64(prefix[len(prefixNote):], uint64(amount))
	return prefix
}

// RecordNote stores a note. Idempotent: recording an already-present
// (amount, nonce) pair is a no-op returning nil, since both the
// issuance-confirmation path and the recovery path may record the same note.
func (s *Store) RecordNote(note types.Note) error {
	return storage.Retry(s.db, commitAttempts, func(txn storage.Txn) error {
		return RecordNoteTxn(txn, note)
	})
}

// RecordNoteTxn records a note inside a caller-owned transaction. Used by
// the recovery engine to commit notes and its checkpoint atomically.
func RecordNoteTxn(txn storage.Txn, note types.Note) error {
	key := NoteKey(note.Amount, note.Nonce)
	ok, err := txn.Has(key)
	if err != nil {
		return fmt.Errorf("note lookup: %w", err)
	}
	if ok {
		return nil
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("note marshal: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("note put: %w", err)
	}
	return nil
}

// RemoveNote deletes a note on confirmed spend. Removing an absent note is
// not an error; spend confirmations may be delivered more than once.
func (s *Store) RemoveNote(amount types.Amount, nonce types.Nonce) error {
	return storage.Retry(s.db, commitAttempts, func(txn storage.Txn) error {
		if err := txn.Delete(NoteKey(amount, nonce)); err != nil {
			return fmt.Errorf("note delete: %w", err)
		}
		return nil
	})
}

// HasNote checks whether a note is present in the ledger.
func (s *Store) HasNote(amount types.Amount, nonce types.Nonce) (bool, error) {
	var ok bool
	err := s.db.View(func(txn storage.Txn) error {
		var err error
		ok, err = txn.Has(NoteKey(amount, nonce))
		return err
	})
	return ok, err
}

// Note loads one note record. Returns storage.ErrNotFound (wrapped) when
// the note is absent.
func (s *Store) Note(amount types.Amount, nonce types.Nonce) (types.Note, error) {
	var note types.Note
	err := s.db.View(func(txn storage.Txn) error {
		value, err := txn.Get(NoteKey(amount, nonce))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(value, &note); err != nil {
			return fmt.Errorf("note unmarshal: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Note{}, fmt.Errorf("note %s/%s: %w", amount, nonce, err)
	}
	return note, nil
}

// ForEachNote iterates the notes of one denomination in nonce order. The
// scan is lazy over the underlying store and restartable by calling again.
func (s *Store) ForEachNote(amount types.Amount, fn func(types.Note) error) error {
	return s.db.View(func(txn storage.Txn) error {
		return txn.ForEach(amountPrefix(amount), func(_, value []byte) error {
			var note types.Note
			if err := json.Unmarshal(value, &note); err != nil {
				return fmt.Errorf("note unmarshal: %w", err)
			}
			return fn(note)
		})
	})
}

// ForEachNoteAll iterates every note across all denominations, ordered by
// denomination then nonce.
func (s *Store) ForEachNoteAll(fn func(types.Note) error) error {
	return s.db.View(func(txn storage.Txn) error {
		return txn.ForEach(prefixNote, func(_, value []byte) error {
			var note types.Note
			if err := json.Unmarshal(value, &note); err != nil {
				return fmt.Errorf("note unmarshal: %w", err)
			}
			return fn(note)
		})
	})
}

// Notes returns all notes of one denomination ordered by nonce.
func (s *Store) Notes(amount types.Amount) ([]types.Note, error) {
	var out []types.Note
	err := s.ForEachNote(amount, func(n types.Note) error {
		out = append(out, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TierCounts returns the number of stored notes per denomination.
func (s *Store) TierCounts() (map[types.Amount]uint64, error) {
	counts := make(map[types.Amount]uint64)
	err := s.db.View(func(txn storage.Txn) error {
		return txn.ForEach(prefixNote, func(key, _ []byte) error {
			if len(key) < len(prefixNote)+8 {
				return nil
			}
			amount := types.Amount(binary.BigEndian.Uint64(key[len(prefixNote):]))
			counts[amount]++
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan notes: %w", err)
	}
	return counts, nil
}

// Balance returns the total spendable value held in the ledger.
func (s *Store) Balance() (types.Amount, error) {
	counts, err := s.TierCounts()
	if err != nil {
		return 0, err
	}
	var total types.Amount
	for amount, n := range counts {
		total += amount * types.Amount(n)
	}
	return total, nil
}

// Empty reports whether the ledger holds no notes at all.
func (s *Store) Empty() (bool, error) {
	empty := true
	err := s.db.View(func(txn storage.Txn) error {
		return txn.ForEach(prefixNote, func(_, _ []byte) error {
			empty = false
			return storage.ErrStop
		})
	})
	if err != nil && !errors.Is(err, storage.ErrStop) {
		return false, err
	}
	return empty, nil
}
