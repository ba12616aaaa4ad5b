package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mintward/mintward/internal/allocator"
	"github.com/mintward/mintward/internal/keychain"
	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/notes"
	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/types"
	"github.com/rs/zerolog"
)

// State of the recovery engine.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateFinalized  State = "finalized"
)

// Status is the observable condition of a replay. Transient history-source
// failures are retried internally; Stalled is the only way they surface.
type Status struct {
	State          State      `json:"state"`
	Checkpoint     Checkpoint `json:"checkpoint"`
	NotesRecovered uint64     `json:"notes_recovered"`
	Stalled        bool       `json:"stalled"`
	LastError      string     `json:"last_error,omitempty"`
}

// Config controls the replay. Backoff policy and stall threshold are
// deliberately configuration, not constants.
type Config struct {
	// Tiers is the federation's denomination set.
	Tiers []types.Amount
	// Gap is the per-tier nonce lookahead window.
	Gap uint64
	// RetryInitial and RetryMax bound the fetch backoff.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// StallAfter is the number of consecutive fetch failures before the
	// engine reports a stalled status. It keeps retrying regardless.
	StallAfter int
	// CommitAttempts bounds batch-commit retries on storage conflicts.
	CommitAttempts int
}

// Default tuning. See config.DefaultRecovery for the user-facing defaults.
const (
	DefaultGap            = 20
	DefaultRetryInitial   = 250 * time.Millisecond
	DefaultRetryMax       = 30 * time.Second
	DefaultStallAfter     = 5
	DefaultCommitAttempts = 8
)

func (c Config) withDefaults() Config {
	if c.Gap == 0 {
		c.Gap = DefaultGap
	}
	if c.RetryInitial == 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax == 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.StallAfter == 0 {
		c.StallAfter = DefaultStallAfter
	}
	if c.CommitAttempts == 0 {
		c.CommitAttempts = DefaultCommitAttempts
	}
	return c
}

// Engine drives a checkpointed replay of the federation's issuance history
// and repopulates the note ledger and index counters.
type Engine struct {
	db     storage.DB
	kc     *keychain.KeyChain
	source HistorySource
	cfg    Config
	ledger *notes.Store
	alloc  *allocator.Allocator
	logger zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New creates a recovery engine. It performs no storage access until Run.
func New(db storage.DB, kc *keychain.KeyChain, source HistorySource, cfg Config) *Engine {
	return &Engine{
		db:     db,
		kc:     kc,
		source: source,
		cfg:    cfg.withDefaults(),
		ledger: notes.NewStore(db),
		alloc:  allocator.New(db),
		logger: klog.Recovery,
		status: Status{State: StateNotStarted},
	}
}

// Status returns a snapshot of the replay's observable condition.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatus(mutate func(*Status)) {
	e.mu.Lock()
	mutate(&e.status)
	e.mu.Unlock()
}

// NeedsRecovery reports whether a client opening this store should run a
// replay: either one is already in flight, or the store has never been
// recovered and holds no notes for the root secret to have produced.
func NeedsRecovery(db storage.DB) (bool, error) {
	done, err := Finalized(db)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	inflight, err := InProgress(db)
	if err != nil {
		return false, err
	}
	if inflight {
		return true, nil
	}
	empty, err := notes.NewStore(db).Empty()
	if err != nil {
		return false, err
	}
	return empty, nil
}

// Run drives the replay to completion or ctx cancellation. It is safe to
// call again after an interruption; the replay resumes from the last
// committed checkpoint. Returns nil immediately if recovery has already
// finalized.
func (e *Engine) Run(ctx context.Context) error {
	rec, done, err := e.loadState()
	if err != nil {
		return err
	}
	if done {
		e.setStatus(func(s *Status) { s.State = StateFinalized })
		return nil
	}

	trackers, err := e.buildTrackers(rec)
	if err != nil {
		return err
	}

	e.setStatus(func(s *Status) {
		s.State = StateInProgress
		s.Checkpoint = rec.Checkpoint
	})
	e.logger.Info().Uint64("checkpoint", uint64(rec.Checkpoint)).Msg("starting history replay")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := e.fetchWithRetry(ctx, rec.Checkpoint)
		if err != nil {
			return err
		}

		matched, err := e.processBatch(batch, trackers)
		if err != nil {
			return err
		}

		if err := e.commitBatch(batch, trackers, matched, rec); err != nil {
			return err
		}

		e.setStatus(func(s *Status) {
			s.Checkpoint = rec.Checkpoint
			s.NotesRecovered += uint64(len(matched))
		})

		if batch.EndOfLog {
			break
		}
	}

	if err := e.finalize(); err != nil {
		return err
	}
	e.setStatus(func(s *Status) { s.State = StateFinalized })
	e.logger.Info().
		Uint64("notes", e.Status().NotesRecovered).
		Msg("history replay finalized")
	return nil
}

// loadState reads the finalized flag and any persisted progress, creating
// an initial checkpoint at the start of the log when none exists.
func (e *Engine) loadState() (*progressRecord, bool, error) {
	var rec *progressRecord
	var done bool
	err := e.db.View(func(txn storage.Txn) error {
		var err error
		done, err = finalizedTxn(txn)
		if err != nil || done {
			return err
		}
		rec, err = loadProgressTxn(txn)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if done {
		return nil, true, nil
	}
	if rec == nil {
		rec = &progressRecord{Checkpoint: 0}
		err := storage.Retry(e.db, e.cfg.CommitAttempts, func(txn storage.Txn) error {
			return saveProgressTxn(txn, rec)
		})
		if err != nil {
			return nil, false, err
		}
	}
	return rec, false, nil
}

// buildTrackers constructs one nonce tracker per denomination tier,
// seeding each with the persisted cursor, the ledger's existing nonces and
// the allocator's reused-index markers.
func (e *Engine) buildTrackers(rec *progressRecord) (map[types.Amount]*tierTracker, error) {
	resume := make(map[types.Amount]types.NoteIndex)
	for _, tp := range rec.Tiers {
		resume[tp.Amount] = tp.Next
	}
	reused, err := e.alloc.ReusedIndices()
	if err != nil {
		return nil, err
	}

	trackers := make(map[types.Amount]*tierTracker, len(e.cfg.Tiers))
	for _, amount := range e.cfg.Tiers {
		ledgerNonces := make(map[types.Nonce]bool)
		err := e.ledger.ForEachNote(amount, func(n types.Note) error {
			ledgerNonces[n.Nonce] = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		t, err := newTierTracker(e.kc, amount, resume[amount], e.cfg.Gap, reused[amount], ledgerNonces)
		if err != nil {
			return nil, fmt.Errorf("tracker for %s: %w", amount, err)
		}
		trackers[amount] = t
	}
	return trackers, nil
}

// fetchWithRetry pulls the next history batch, absorbing transient source
// failures with bounded exponential backoff. Past StallAfter consecutive
// failures the stalled status is raised; fetching continues until ctx is
// done.
func (e *Engine) fetchWithRetry(ctx context.Context, from Checkpoint) (Batch, error) {
	backoff := e.cfg.RetryInitial
	failures := 0
	for {
		batch, err := e.source.FetchNextBatch(ctx, from)
		if err == nil {
			if failures >= e.cfg.StallAfter {
				e.logger.Info().Msg("history source recovered from stall")
			}
			e.setStatus(func(s *Status) {
				s.Stalled = false
				s.LastError = ""
			})
			return batch, nil
		}
		if ctx.Err() != nil {
			return Batch{}, ctx.Err()
		}

		failures++
		stalled := failures >= e.cfg.StallAfter
		e.setStatus(func(s *Status) {
			s.Stalled = stalled
			s.LastError = err.Error()
		})
		if stalled {
			e.logger.Warn().Err(err).Int("failures", failures).Msg("history source stalled")
		} else {
			e.logger.Debug().Err(err).Int("failures", failures).Msg("history fetch failed, retrying")
		}

		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.cfg.RetryMax {
			backoff = e.cfg.RetryMax
		}
	}
}

// processBatch decodes and matches each entry. Malformed entries are
// skipped and logged; unmatched entries belong to other clients.
func (e *Engine) processBatch(batch Batch, trackers map[types.Amount]*tierTracker) ([]types.Note, error) {
	var matched []types.Note
	for _, raw := range batch.Entries {
		entry, err := decodeEntry(raw)
		if err != nil {
			if errors.Is(err, ErrMalformedEntry) {
				e.logger.Warn().Err(err).Msg("skipping malformed history entry")
				continue
			}
			return nil, err
		}
		tracker, ok := trackers[entry.Amount]
		if !ok {
			continue
		}
		idx, hit, err := tracker.match(entry.Nonce)
		if err != nil {
			return nil, err
		}
		if !hit {
			continue
		}
		key, err := e.kc.SpendKeyAt(entry.Amount, idx)
		if err != nil {
			return nil, err
		}
		matched = append(matched, types.Note{
			Amount:    entry.Amount,
			Nonce:     entry.Nonce,
			SpendKey:  key.Serialize(),
			Signature: entry.Signature,
		})
		e.logger.Debug().
			Str("amount", entry.Amount.String()).
			Uint64("index", uint64(idx)).
			Msg("recovered note")
	}
	return matched, nil
}

// commitBatch persists a processed batch atomically: recovered notes, the
// advanced checkpoint, and the raised index counters all commit in one
// transaction. Replaying the same batch after a crash is harmless because
// note recording is idempotent and counters never move backward.
func (e *Engine) commitBatch(batch Batch, trackers map[types.Amount]*tierTracker, matched []types.Note, rec *progressRecord) error {
	rec.Checkpoint = batch.Next
	rec.Tiers = rec.Tiers[:0]
	for _, amount := range e.cfg.Tiers {
		rec.Tiers = append(rec.Tiers, tierProgress{
			Amount: amount,
			Next:   trackers[amount].resumeAt(),
		})
	}

	return storage.Retry(e.db, e.cfg.CommitAttempts, func(txn storage.Txn) error {
		for _, note := range matched {
			if err := notes.RecordNoteTxn(txn, note); err != nil {
				return err
			}
		}
		for _, amount := range e.cfg.Tiers {
			high := trackers[amount].recoveredUpTo()
			if high == 0 {
				continue
			}
			if err := allocator.AdvancePastTxn(txn, amount, high-1); err != nil {
				return err
			}
		}
		return saveProgressTxn(txn, rec)
	})
}

// finalize marks recovery complete and drops the replay state in one
// transaction. Once the flag is set, recovery never restarts on its own.
func (e *Engine) finalize() error {
	return storage.Retry(e.db, e.cfg.CommitAttempts, func(txn storage.Txn) error {
		if err := txn.Set(finalizedKey, []byte{1}); err != nil {
			return fmt.Errorf("finalized put: %w", err)
		}
		return DeleteProgressTxn(txn)
	})
}
