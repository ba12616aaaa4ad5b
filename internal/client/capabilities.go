package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mintward/mintward/internal/dispatch"
	"github.com/mintward/mintward/internal/recovery"
	"github.com/mintward/mintward/pkg/types"
)

// Capability payload shapes. All fields use the hex encodings of pkg/types.

type issuanceParams struct {
	Amount types.Amount    `json:"amount"`
	Index  types.NoteIndex `json:"index"`
	Sig    []byte          `json:"signature,omitempty"`
}

type spendParams struct {
	Amount types.Amount `json:"amount"`
	Nonce  types.Nonce  `json:"nonce"`
}

type proveSpendParams struct {
	Amount    types.Amount `json:"amount"`
	Nonce     types.Nonce  `json:"nonce"`
	Challenge []byte       `json:"challenge"`
}

type proveSpendResult struct {
	Signature []byte `json:"signature"`
}

type amountParams struct {
	Amount types.Amount `json:"amount"`
}

type operationParams struct {
	Operation types.OperationID `json:"operation"`
}

type ackResult struct {
	OK bool `json:"ok"`
}

// recoveryPollInterval paces status snapshots on the streaming
// recovery.await method.
const recoveryPollInterval = 250 * time.Millisecond

// registerCapabilities wires the wallet's operations into the dispatch
// registry: the "mint" capability for ledger operations and "recovery"
// for replay control.
func (c *Client) registerCapabilities() {
	mint := dispatch.NewCapability("mint").
		Register("request_issuance", c.handleRequestIssuance).
		Register("confirm_issuance", c.handleConfirmIssuance).
		Register("abandon_issuance", c.handleAbandonIssuance).
		Register("confirm_spend", c.handleConfirmSpend).
		Register("prove_spend", c.handleProveSpend).
		Register("cancel_oob_spend", c.handleCancelOOB).
		Register("await_oob_cancelled", c.handleAwaitOOB).
		Register("list_notes", c.handleListNotes).
		Register("balance", c.handleBalance)
	c.registry.Register(mint)

	rec := dispatch.NewCapability("recovery").
		Register("status", c.handleRecoveryStatus).
		Register("start", c.handleRecoveryStart).
		Register("await", c.handleRecoveryAwait)
	c.registry.Register(rec)
}

func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("invalid payload: %w", err)
	}
	return v, nil
}

func (c *Client) handleRequestIssuance(_ context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[amountParams](payload)
	if err != nil {
		return err
	}
	req, err := c.RequestIssuance(p.Amount)
	if err != nil {
		return err
	}
	return emit(req)
}

func (c *Client) handleConfirmIssuance(_ context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[issuanceParams](payload)
	if err != nil {
		return err
	}
	if err := c.ConfirmIssuance(p.Amount, p.Index, p.Sig); err != nil {
		return err
	}
	return emit(ackResult{OK: true})
}

func (c *Client) handleAbandonIssuance(_ context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[issuanceParams](payload)
	if err != nil {
		return err
	}
	if err := c.AbandonIssuance(p.Amount, p.Index); err != nil {
		return err
	}
	return emit(ackResult{OK: true})
}

func (c *Client) handleConfirmSpend(_ context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[spendParams](payload)
	if err != nil {
		return err
	}
	if err := c.ConfirmSpend(p.Amount, p.Nonce); err != nil {
		return err
	}
	return emit(ackResult{OK: true})
}

func (c *Client) handleProveSpend(_ context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[proveSpendParams](payload)
	if err != nil {
		return err
	}
	sig, err := c.ProveSpend(p.Amount, p.Nonce, p.Challenge)
	if err != nil {
		return err
	}
	return emit(proveSpendResult{Signature: sig})
}

func (c *Client) handleCancelOOB(_ context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[operationParams](payload)
	if err != nil {
		return err
	}
	if err := c.CancelOOBSpend(p.Operation); err != nil {
		return err
	}
	return emit(ackResult{OK: true})
}

func (c *Client) handleAwaitOOB(ctx context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[operationParams](payload)
	if err != nil {
		return err
	}
	if err := c.AwaitOOBCancellation(ctx, p.Operation); err != nil {
		return err
	}
	return emit(ackResult{OK: true})
}

func (c *Client) handleListNotes(ctx context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	p, err := decode[amountParams](payload)
	if err != nil {
		return err
	}
	// Stream one item per note; emit checks cancellation at every item.
	// A zero amount lists every denomination.
	if p.Amount == 0 {
		return c.ledger.ForEachNoteAll(func(n types.Note) error {
			return emit(n)
		})
	}
	return c.ledger.ForEachNote(p.Amount, func(n types.Note) error {
		return emit(n)
	})
}

func (c *Client) handleBalance(_ context.Context, payload json.RawMessage, emit dispatch.Emit) error {
	total, err := c.Balance()
	if err != nil {
		return err
	}
	counts, err := c.ledger.TierCounts()
	if err != nil {
		return err
	}
	return emit(struct {
		Total types.Amount            `json:"total"`
		Tiers map[types.Amount]uint64 `json:"tiers"`
	}{Total: total, Tiers: counts})
}

func (c *Client) handleRecoveryStatus(_ context.Context, _ json.RawMessage, emit dispatch.Emit) error {
	return emit(c.RecoveryStatus())
}

func (c *Client) handleRecoveryStart(_ context.Context, _ json.RawMessage, emit dispatch.Emit) error {
	if err := c.StartRecovery(); err != nil {
		return err
	}
	return emit(ackResult{OK: true})
}

// handleRecoveryAwait streams status snapshots until the replay finalizes
// or the invocation is cancelled.
func (c *Client) handleRecoveryAwait(ctx context.Context, _ json.RawMessage, emit dispatch.Emit) error {
	if c.engine == nil {
		return fmt.Errorf("wallet %q has no history source", c.id)
	}
	ticker := time.NewTicker(recoveryPollInterval)
	defer ticker.Stop()
	last := recovery.Status{}
	for {
		status := c.RecoveryStatus()
		if status != last {
			if err := emit(status); err != nil {
				return err
			}
			last = status
		}
		if status.State == recovery.StateFinalized {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
