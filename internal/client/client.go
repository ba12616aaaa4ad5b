// Package client assembles the custody engine over a single wallet store:
// schema migrations, keychain, note ledger, index allocator, recovery
// engine, and the capability dispatch surface.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/mintward/mintward/internal/allocator"
	"github.com/mintward/mintward/internal/dispatch"
	"github.com/mintward/mintward/internal/keychain"
	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/migrate"
	"github.com/mintward/mintward/internal/notes"
	"github.com/mintward/mintward/internal/recovery"
	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/crypto"
	"github.com/mintward/mintward/pkg/types"
	"github.com/rs/zerolog"
)

// mintKeyPrefix isolates the mint custody keyspace within the wallet store.
var mintKeyPrefix = []byte("mint/")

// Options configures a client open.
type Options struct {
	// HistorySource provides the federation's issuance history for
	// recovery. Nil disables recovery (tests, offline inspection).
	HistorySource recovery.HistorySource
	// Recovery tunes the replay; Tiers must list the federation's
	// denomination set when HistorySource is set.
	Recovery recovery.Config
	// ForceRecover starts a replay even when the store looks populated.
	ForceRecover bool
}

// IssuanceRequest is the deterministic material for requesting one new
// note from the federation. The caller blinds the nonce and drives the
// issuance protocol; both are outside this engine.
type IssuanceRequest struct {
	Amount types.Amount    `json:"amount"`
	Index  types.NoteIndex `json:"index"`
	Nonce  types.Nonce     `json:"nonce"`
}

// Client is an open wallet.
type Client struct {
	id       string
	db       storage.DB
	mintDB   *storage.PrefixDB
	kc       *keychain.KeyChain
	ledger   *notes.Store
	alloc    *allocator.Allocator
	engine   *recovery.Engine
	registry *dispatch.Registry
	logger   zerolog.Logger

	recoverMu     sync.Mutex // guards recoverCancel/recoverDone
	recoverCancel context.CancelFunc
	recoverDone   chan struct{}
	closeOnce     sync.Once
}

// Open assembles a client over the given store and root seed. Migrations
// run first; if one fails the store is not opened. Recovery starts in the
// background when the store needs it or opts.ForceRecover is set.
func Open(id string, db storage.DB, seed []byte, opts Options) (*Client, error) {
	mintDB := storage.NewPrefixDB(db, mintKeyPrefix)

	if err := migrate.NewRunner(mintDB, Migrations()).Run(); err != nil {
		return nil, fmt.Errorf("open wallet %q: %w", id, err)
	}

	kc, err := keychain.New(seed)
	if err != nil {
		return nil, fmt.Errorf("open wallet %q: %w", id, err)
	}

	c := &Client{
		id:       id,
		db:       db,
		mintDB:   mintDB,
		kc:       kc,
		ledger:   notes.NewStore(mintDB),
		alloc:    allocator.New(mintDB),
		registry: dispatch.NewRegistry(),
		logger:   klog.WithWallet(id),
	}
	if opts.HistorySource != nil {
		c.engine = recovery.New(mintDB, kc, opts.HistorySource, opts.Recovery)
	}
	c.registerCapabilities()

	if c.engine != nil {
		need := opts.ForceRecover
		if !need {
			need, err = recovery.NeedsRecovery(mintDB)
			if err != nil {
				return nil, fmt.Errorf("open wallet %q: %w", id, err)
			}
		}
		if need {
			c.startRecovery()
		}
	}

	return c, nil
}

// startRecovery launches the replay in the background. A replay that
// cannot make progress surfaces through the engine's status, never as an
// open failure. At most one replay runs at a time; starting while one is
// in flight is a no-op.
func (c *Client) startRecovery() {
	c.recoverMu.Lock()
	defer c.recoverMu.Unlock()
	if c.recoverDone != nil {
		select {
		case <-c.recoverDone:
		default:
			return // already running
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.recoverCancel = cancel
	done := make(chan struct{})
	c.recoverDone = done
	c.logger.Info().Msg("starting background recovery")
	go func() {
		defer close(done)
		if err := c.engine.Run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("recovery failed")
		}
	}()
}

// ID returns the wallet identity this client was opened for.
func (c *Client) ID() string {
	return c.id
}

// Dispatch returns the capability registry for this wallet.
func (c *Client) Dispatch() *dispatch.Registry {
	return c.registry
}

// RequestIssuance reserves the next derivation index for the denomination
// and returns the nonce to submit to the federation. The reservation is
// durable once this returns; an index abandoned later must go through
// AbandonIssuance.
func (c *Client) RequestIssuance(amount types.Amount) (IssuanceRequest, error) {
	index, err := c.alloc.ReserveNextIndex(amount)
	if err != nil {
		return IssuanceRequest{}, err
	}
	nonce, err := c.kc.NonceAt(amount, index)
	if err != nil {
		return IssuanceRequest{}, err
	}
	return IssuanceRequest{Amount: amount, Index: index, Nonce: nonce}, nil
}

// ConfirmIssuance records the note for a completed issuance. Idempotent.
func (c *Client) ConfirmIssuance(amount types.Amount, index types.NoteIndex, signature []byte) error {
	key, err := c.kc.SpendKeyAt(amount, index)
	if err != nil {
		return err
	}
	return c.ledger.RecordNote(types.Note{
		Amount:    amount,
		Nonce:     crypto.NonceFromPubKey(key.PublicKey()),
		SpendKey:  key.Serialize(),
		Signature: signature,
	})
}

// AbandonIssuance marks a reserved index as never-issued, e.g. after the
// federation rejected the request. Recovery treats the index as an
// intentional gap.
func (c *Client) AbandonIssuance(amount types.Amount, index types.NoteIndex) error {
	return c.alloc.MarkReused(amount, index)
}

// ConfirmSpend removes a note after the federation confirmed its
// redemption. Removing an absent note is not an error.
func (c *Client) ConfirmSpend(amount types.Amount, nonce types.Nonce) error {
	return c.ledger.RemoveNote(amount, nonce)
}

// ProveSpend signs a federation redemption challenge with the note's
// spend key, proving ownership of the nonce. The note must be present in
// the ledger. The challenge is hashed before signing, so callers pass the
// raw challenge bytes.
func (c *Client) ProveSpend(amount types.Amount, nonce types.Nonce, challenge []byte) ([]byte, error) {
	note, err := c.ledger.Note(amount, nonce)
	if err != nil {
		return nil, err
	}
	key, err := crypto.SpendKeyFromBytes(note.SpendKey)
	if err != nil {
		return nil, fmt.Errorf("note %s/%s spend key: %w", amount, nonce, err)
	}
	defer key.Zero()
	digest := crypto.Hash(challenge)
	return key.Sign(digest[:])
}

// CancelOOBSpend marks an out-of-band spend operation cancelled.
func (c *Client) CancelOOBSpend(opID types.OperationID) error {
	return c.ledger.MarkOOBCancelled(opID)
}

// AwaitOOBCancellation blocks until the operation is cancelled or ctx is
// done.
func (c *Client) AwaitOOBCancellation(ctx context.Context, opID types.OperationID) error {
	return c.ledger.AwaitOOBCancellation(ctx, opID)
}

// Notes lists the wallet's notes of one denomination, ordered by nonce.
func (c *Client) Notes(amount types.Amount) ([]types.Note, error) {
	return c.ledger.Notes(amount)
}

// Balance returns the total spendable value in the ledger.
func (c *Client) Balance() (types.Amount, error) {
	return c.ledger.Balance()
}

// RecoveryStatus reports the replay's observable condition.
func (c *Client) RecoveryStatus() recovery.Status {
	if c.engine == nil {
		return recovery.Status{State: recovery.StateNotStarted}
	}
	return c.engine.Status()
}

// StartRecovery explicitly launches a replay, regardless of what the
// store looks like. No-op when recovery has already finalized or no
// history source is configured.
func (c *Client) StartRecovery() error {
	if c.engine == nil {
		return fmt.Errorf("wallet %q has no history source", c.id)
	}
	c.startRecovery()
	return nil
}

// Close stops background work and closes the store.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.recoverMu.Lock()
		cancel, done := c.recoverCancel, c.recoverDone
		c.recoverMu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		err = c.db.Close()
		c.logger.Info().Msg("wallet closed")
	})
	return err
}
