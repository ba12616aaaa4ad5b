package recovery

import (
	"encoding/json"
	"fmt"

	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/types"
)

// Recovery state keys.
var (
	progressKey  = []byte("r/") // in-flight replay state, absent unless recovering
	finalizedKey = []byte("f/") // set once recovery completed; never restarts after
)

// tierProgress is the per-denomination replay cursor.
type tierProgress struct {
	Amount types.Amount    `json:"amount"`
	Next   types.NoteIndex `json:"next_index"`
}

// progressRecord is the persisted checkpoint of an in-flight replay.
// It exists only while recovery is incomplete.
type progressRecord struct {
	Checkpoint Checkpoint     `json:"checkpoint"`
	Tiers      []tierProgress `json:"tiers"`
}

// loadProgressTxn reads the persisted progress, or nil if absent.
func loadProgressTxn(txn storage.Txn) (*progressRecord, error) {
	val, err := txn.Get(progressKey)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("progress get: %w", err)
	}
	var rec progressRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("progress unmarshal: %w", err)
	}
	return &rec, nil
}

// saveProgressTxn writes the replay checkpoint.
func saveProgressTxn(txn storage.Txn, rec *progressRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("progress marshal: %w", err)
	}
	if err := txn.Set(progressKey, data); err != nil {
		return fmt.Errorf("progress put: %w", err)
	}
	return nil
}

// DeleteProgressTxn removes any persisted replay state. Exposed for schema
// migrations whose policy is to drop an unreadable old-format record and
// let recovery restart cleanly from the beginning.
func DeleteProgressTxn(txn storage.Txn) error {
	if err := txn.Delete(progressKey); err != nil {
		return fmt.Errorf("progress delete: %w", err)
	}
	return nil
}

// finalizedTxn reports whether recovery has completed on this store.
func finalizedTxn(txn storage.Txn) (bool, error) {
	return txn.Has(finalizedKey)
}

// Finalized reports whether recovery has completed on this store.
func Finalized(db storage.DB) (bool, error) {
	var done bool
	err := db.View(func(txn storage.Txn) error {
		var err error
		done, err = finalizedTxn(txn)
		return err
	})
	return done, err
}

// InProgress reports whether a replay checkpoint is persisted.
func InProgress(db storage.DB) (bool, error) {
	var found bool
	err := db.View(func(txn storage.Txn) error {
		var err error
		found, err = txn.Has(progressKey)
		return err
	})
	return found, err
}
