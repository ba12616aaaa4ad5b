package client

import (
	"github.com/mintward/mintward/internal/migrate"
	"github.com/mintward/mintward/internal/recovery"
	"github.com/mintward/mintward/internal/storage"
)

// SchemaVersion is the store layout version this build writes.
const SchemaVersion = 1

// Migrations returns the ordered schema migration steps for a wallet
// store. They run at open, before any other component touches storage.
func Migrations() []migrate.Migration {
	return []migrate.Migration{
		{
			// v0 stores carry a replay checkpoint in the old format. Its
			// cursor cannot be reinterpreted safely, so it is dropped and
			// recovery restarts from the beginning of the history log; the
			// federation's history is the canonical source of the state
			// the record described.
			Version: 1,
			Apply: func(txn storage.Txn) error {
				return recovery.DeleteProgressTxn(txn)
			},
		},
	}
}
