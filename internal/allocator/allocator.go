// Package allocator maintains the per-denomination note index counters: the
// sole source of truth for which derivation indices have been handed out.
package allocator

import (
	"encoding/binary"
	"fmt"

	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/types"
	"github.com/rs/zerolog"
)

// Key prefixes for the allocator.
var (
	prefixCounter = []byte("i/") // i/<amount 8 BE> -> next free index (8 BE)
	prefixReused  = []byte("u/") // u/<amount 8 BE><index 8 BE> -> empty, append-only
)

// Allocator reserves deterministic derivation indices per denomination.
type Allocator struct {
	db     storage.DB
	logger zerolog.Logger
}

// New creates an allocator backed by the given database.
func New(db storage.DB) *Allocator {
	return &Allocator{db: db, logger: klog.Allocator}
}

// CounterKey builds the storage key for a denomination's index counter.
func CounterKey(amount types.Amount) []byte {
	key := make([]byte, len(prefixCounter)+8)
	copy(key, prefixCounter)
	binary.BigEndian.PutUint64(key[len(prefixCounter):], uint64(amount))
	return key
}

// reusedKey builds the storage key for a reused-index marker.
func reusedKey(amount types.Amount, index types.NoteIndex) []byte {
	key := make([]byte, len(prefixReused)+16)
	copy(key, prefixReused)
	binary.BigEndian.PutUint64(key[len(prefixReused):], uint64(amount))
	binary.BigEndian.PutUint64(key[len(prefixReused)+8:], uint64(index))
	return key
}

// NextIndexTxn reads the next free index for a denomination inside a
// transaction. A missing counter means index 0.
func NextIndexTxn(txn storage.Txn, amount types.Amount) (types.NoteIndex, error) {
	val, err := txn.Get(CounterKey(amount))
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter get: %w", err)
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("counter for %s has %d bytes, want 8", amount, len(val))
	}
	return types.NoteIndex(binary.BigEndian.Uint64(val)), nil
}

// setIndexTxn writes the next free index for a denomination.
func setIndexTxn(txn storage.Txn, amount types.Amount, next types.NoteIndex) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(next))
	if err := txn.Set(CounterKey(amount), val); err != nil {
		return fmt.Errorf("counter put: %w", err)
	}
	return nil
}

// ReserveNextIndex atomically reads the denomination's counter, advances it
// by one, and returns the pre-increment value. No index is ever handed out
// twice: concurrent callers are serialized by the storage transaction, and
// a commit conflict surfaces as storage.ErrConflict, in which case the
// reservation did not happen and the caller retries.
func (a *Allocator) ReserveNextIndex(amount types.Amount) (types.NoteIndex, error) {
	var index types.NoteIndex
	err := a.db.Update(func(txn storage.Txn) error {
		next, err := NextIndexTxn(txn, amount)
		if err != nil {
			return err
		}
		index = next
		return setIndexTxn(txn, amount, next+1)
	})
	if err != nil {
		return 0, err
	}
	a.logger.Debug().Str("amount", amount.String()).Uint64("index", uint64(index)).Msg("reserved note index")
	return index, nil
}

// PeekNextIndex returns the next free index without reserving it.
func (a *Allocator) PeekNextIndex(amount types.Amount) (types.NoteIndex, error) {
	var index types.NoteIndex
	err := a.db.View(func(txn storage.Txn) error {
		var err error
		index, err = NextIndexTxn(txn, amount)
		return err
	})
	return index, err
}

// AdvancePastTxn raises the denomination's counter to index+1 if it is
// currently lower, inside a caller-owned transaction. The counter never
// moves backward. The recovery engine calls this in its batch commit so
// live allocation continues after recovered notes, never overlapping them.
func AdvancePastTxn(txn storage.Txn, amount types.Amount, index types.NoteIndex) error {
	current, err := NextIndexTxn(txn, amount)
	if err != nil {
		return err
	}
	if current >= index+1 {
		return nil
	}
	return setIndexTxn(txn, amount, index+1)
}

// MarkReused records that a reserved index was abandoned (e.g. the
// federation rejected the issuance at that index) and will never carry a
// note. Markers are append-only and never deleted; recovery treats marked
// indices as intentional gaps.
func (a *Allocator) MarkReused(amount types.Amount, index types.NoteIndex) error {
	err := a.db.Update(func(txn storage.Txn) error {
		if err := txn.Set(reusedKey(amount, index), []byte{}); err != nil {
			return fmt.Errorf("reused marker put: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.Info().Str("amount", amount.String()).Uint64("index", uint64(index)).Msg("marked note index reused")
	return nil
}

// ReusedIndices returns all reused-index markers grouped by denomination.
func (a *Allocator) ReusedIndices() (map[types.Amount][]types.NoteIndex, error) {
	out := make(map[types.Amount][]types.NoteIndex)
	err := a.db.View(func(txn storage.Txn) error {
		return txn.ForEach(prefixReused, func(key, _ []byte) error {
			if len(key) != len(prefixReused)+16 {
				return nil // Malformed key, skip.
			}
			amount := types.Amount(binary.BigEndian.Uint64(key[len(prefixReused):]))
			index := types.NoteIndex(binary.BigEndian.Uint64(key[len(prefixReused)+8:]))
			out[amount] = append(out[amount], index)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan reused markers: %w", err)
	}
	return out, nil
}
