package recovery

import (
	"github.com/mintward/mintward/internal/keychain"
	"github.com/mintward/mintward/pkg/types"
)

// tierTracker matches history nonces for one denomination against the
// deterministic derivation sequence. It derives expected nonces forward
// from the last persisted cursor using only the keychain, never the live
// counter, which is what lets recovery run against an empty store.
//
// An index is "consumed" when its note is already in the ledger, when it
// carries a reused-index marker, or when it matches during this run. The
// tracker re-discovers consumed indices while extending its window, so a
// replay resumed after a crash reconstructs the same state an
// uninterrupted run would have reached.
type tierTracker struct {
	amount types.Amount
	kc     *keychain.KeyChain
	gap    types.NoteIndex

	// next is the lowest unconsumed index; high is one past the highest
	// consumed index, the value the live counter is advanced to.
	next types.NoteIndex
	high types.NoteIndex

	// window maps expected nonces to their indices: every unconsumed index
	// in [next, derived).
	window  map[types.Nonce]types.NoteIndex
	derived types.NoteIndex

	reused   map[types.NoteIndex]bool
	ledger   map[types.Nonce]bool
	consumed map[types.NoteIndex]bool
}

// newTierTracker builds a tracker resuming at next. ledgerNonces holds the
// nonces of this denomination already recorded in the ledger; reused holds
// the indices deliberately abandoned by the allocator.
func newTierTracker(kc *keychain.KeyChain, amount types.Amount, next types.NoteIndex, gap uint64,
	reused []types.NoteIndex, ledgerNonces map[types.Nonce]bool) (*tierTracker, error) {

	t := &tierTracker{
		amount:   amount,
		kc:       kc,
		gap:      types.NoteIndex(gap),
		next:     next,
		high:     next,
		window:   make(map[types.Nonce]types.NoteIndex),
		derived:  next,
		reused:   make(map[types.NoteIndex]bool),
		ledger:   ledgerNonces,
		consumed: make(map[types.NoteIndex]bool),
	}
	if t.ledger == nil {
		t.ledger = make(map[types.Nonce]bool)
	}
	for _, idx := range reused {
		t.reused[idx] = true
	}
	if err := t.extend(); err != nil {
		return nil, err
	}
	return t, nil
}

// consume marks an index as used and advances the cursors.
func (t *tierTracker) consume(idx types.NoteIndex) {
	t.consumed[idx] = true
	if idx+1 > t.high {
		t.high = idx + 1
	}
	for t.consumed[t.next] {
		t.next++
	}
}

// extend derives expected nonces until the window covers high+gap.
// Reused indices and notes already present in the ledger count as consumed
// immediately, which can push the target further out.
func (t *tierTracker) extend() error {
	for t.derived < t.high+t.gap {
		idx := t.derived
		t.derived++
		if t.reused[idx] {
			t.consume(idx)
			continue
		}
		nonce, err := t.kc.NonceAt(t.amount, idx)
		if err != nil {
			return err
		}
		if t.ledger[nonce] {
			t.consume(idx)
			continue
		}
		t.window[nonce] = idx
	}
	return nil
}

// match tests a history nonce against the expected window. On a hit it
// consumes the index, slides the window, and returns the matched index.
// A miss is not an error; the entry belongs to another client.
func (t *tierTracker) match(nonce types.Nonce) (types.NoteIndex, bool, error) {
	idx, ok := t.window[nonce]
	if !ok {
		return 0, false, nil
	}
	delete(t.window, nonce)
	t.consume(idx)
	if err := t.extend(); err != nil {
		return 0, true, err
	}
	return idx, true, nil
}

// recoveredUpTo returns one past the highest consumed index.
func (t *tierTracker) recoveredUpTo() types.NoteIndex {
	return t.high
}

// resumeAt returns the persisted cursor for this tier: the lowest index
// not yet consumed.
func (t *tierTracker) resumeAt() types.NoteIndex {
	return t.next
}
