package notes

import (
	"context"
	"fmt"
	"time"

	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/types"
)

// cancelKey builds the storage key for an OOB cancellation marker.
func cancelKey(opID types.OperationID) []byte {
	key := make([]byte, len(prefixCancelled)+types.OperationIDSize)
	copy(key, prefixCancelled)
	copy(key[len(prefixCancelled):], opID[:])
	return key
}

// MarkOOBCancelled records that an out-of-band spend was cancelled before
// redemption. Idempotent: the marker is written only if absent, so
// subscribers observe exactly one notification per distinct operation ID.
// Markers are never deleted.
func (s *Store) MarkOOBCancelled(opID types.OperationID) error {
	written := false
	err := storage.Retry(s.db, commitAttempts, func(txn storage.Txn) error {
		written = false
		key := cancelKey(opID)
		ok, err := txn.Has(key)
		if err != nil {
			return fmt.Errorf("cancellation lookup: %w", err)
		}
		if ok {
			return nil
		}
		written = true
		if err := txn.Set(key, []byte{}); err != nil {
			return fmt.Errorf("cancellation put: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if written {
		s.logger.Info().Str("operation", opID.String()).Msg("OOB spend cancelled")
	}
	return nil
}

// IsOOBCancelled checks whether a cancellation marker exists for the
// operation.
func (s *Store) IsOOBCancelled(opID types.OperationID) (bool, error) {
	var ok bool
	err := s.db.View(func(txn storage.Txn) error {
		var err error
		ok, err = txn.Has(cancelKey(opID))
		return err
	})
	return ok, err
}

// awaitRecheck is the fallback re-read interval while waiting on a
// cancellation marker. The subscription wakes the waiter on write; the
// re-read only covers the window before the subscription is registered.
const awaitRecheck = 500 * time.Millisecond

// AwaitOOBCancellation blocks until a cancellation marker for the operation
// exists or ctx is done.
func (s *Store) AwaitOOBCancellation(ctx context.Context, opID types.OperationID) error {
	ok, err := s.IsOOBCancelled(opID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan struct{}, 1)
	go func() {
		s.db.Subscribe(subCtx, cancelKey(opID), func(_, _ []byte) error {
			select {
			case found <- struct{}{}:
			default:
			}
			return storage.ErrStop
		})
	}()

	ticker := time.NewTicker(awaitRecheck)
	defer ticker.Stop()
	for {
		select {
		case <-found:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok, err := s.IsOOBCancelled(opID)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
