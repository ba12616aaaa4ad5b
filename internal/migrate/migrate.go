// Package migrate applies versioned, one-time schema transformations to a
// wallet store before any other component touches it.
package migrate

import (
	"encoding/binary"
	"fmt"
	"sort"

	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/storage"
)

// versionKey holds the store's current schema version (8 bytes BE).
var versionKey = []byte("v")

// Migration is one schema transformation step. Apply runs inside a single
// transaction together with the version bump, so a step either fully
// happens or not at all.
type Migration struct {
	// Version is the schema version this step upgrades the store to.
	Version uint64
	Apply   func(storage.Txn) error
}

// Runner applies pending migrations in version order.
type Runner struct {
	db    storage.DB
	steps []Migration
}

// NewRunner creates a migration runner over the given steps.
func NewRunner(db storage.DB, steps []Migration) *Runner {
	sorted := make([]Migration, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Runner{db: db, steps: sorted}
}

// CurrentVersion reads the store's schema version. A fresh store is
// version 0.
func CurrentVersion(db storage.DB) (uint64, error) {
	var version uint64
	err := db.View(func(txn storage.Txn) error {
		val, err := txn.Get(versionKey)
		if err == storage.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("schema version has %d bytes, want 8", len(val))
		}
		version = binary.BigEndian.Uint64(val)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Run applies every step newer than the store's current version. Any
// failure aborts the open: the store must not be used in a half-migrated
// state.
func (r *Runner) Run() error {
	current, err := CurrentVersion(r.db)
	if err != nil {
		return err
	}

	for _, step := range r.steps {
		if step.Version <= current {
			continue
		}
		err := r.db.Update(func(txn storage.Txn) error {
			if err := step.Apply(txn); err != nil {
				return err
			}
			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, step.Version)
			return txn.Set(versionKey, val)
		})
		if err != nil {
			return fmt.Errorf("schema migration to v%d failed: %w", step.Version, err)
		}
		klog.Migrate.Info().Uint64("from", current).Uint64("to", step.Version).Msg("applied schema migration")
		current = step.Version
	}
	return nil
}
