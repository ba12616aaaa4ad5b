// Package recovery reconstructs wallet state by replaying the federation's
// append-only issuance history, given only the root secret.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mintward/mintward/pkg/types"
)

// Checkpoint is a resumable cursor into the federation's history log.
type Checkpoint uint64

// Entry is one decoded issuance record from the history log.
type Entry struct {
	Amount    types.Amount `json:"amount"`
	Nonce     types.Nonce  `json:"nonce"`
	Signature []byte       `json:"signature,omitempty"`
}

// Batch is one page of the history log. Raw entries are decoded by the
// engine so that malformed records can be skipped individually.
type Batch struct {
	Entries  [][]byte
	Next     Checkpoint
	EndOfLog bool
}

// HistorySource pages through the federation's issuance history.
// Implementations talk to guardian endpoints; transient failures are the
// engine's problem, not the caller's.
type HistorySource interface {
	FetchNextBatch(ctx context.Context, from Checkpoint) (Batch, error)
}

// ErrMalformedEntry marks a history record this client cannot decode.
// Federations evolve entry formats; such records are skipped and logged,
// never fatal.
var ErrMalformedEntry = errors.New("recovery: malformed history entry")

// decodeEntry parses a raw history record.
func decodeEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if e.Amount == 0 || e.Nonce.IsZero() {
		return Entry{}, fmt.Errorf("%w: missing amount or nonce", ErrMalformedEntry)
	}
	return e, nil
}
