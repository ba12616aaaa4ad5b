package migrate

import (
	"errors"
	"testing"

	"github.com/mintward/mintward/internal/storage"
)

func TestFreshStoreIsVersionZero(t *testing.T) {
	db := storage.NewMemory()
	version, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 0 {
		t.Fatalf("fresh store version = %d, want 0", version)
	}
}

func TestRunAppliesPendingSteps(t *testing.T) {
	db := storage.NewMemory()

	// Seed a record the migration will rewrite.
	err := db.Update(func(txn storage.Txn) error {
		return txn.Set([]byte("old"), []byte("1"))
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	steps := []Migration{
		{Version: 1, Apply: func(txn storage.Txn) error {
			val, err := txn.Get([]byte("old"))
			if err != nil {
				return err
			}
			if err := txn.Set([]byte("new"), val); err != nil {
				return err
			}
			return txn.Delete([]byte("old"))
		}},
	}
	if err := NewRunner(db, steps).Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	version, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}

	err = db.View(func(txn storage.Txn) error {
		if _, err := txn.Get([]byte("old")); err != storage.ErrNotFound {
			t.Fatal("old record survived migration")
		}
		val, err := txn.Get([]byte("new"))
		if err != nil {
			return err
		}
		if string(val) != "1" {
			t.Fatalf("migrated value = %q, want %q", val, "1")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRunIdempotent(t *testing.T) {
	db := storage.NewMemory()

	applied := 0
	steps := []Migration{
		{Version: 1, Apply: func(storage.Txn) error {
			applied++
			return nil
		}},
	}
	if err := NewRunner(db, steps).Run(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := NewRunner(db, steps).Run(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if applied != 1 {
		t.Fatalf("step applied %d times, want 1", applied)
	}
}

func TestRunOrdersSteps(t *testing.T) {
	db := storage.NewMemory()

	var order []uint64
	steps := []Migration{
		{Version: 3, Apply: func(storage.Txn) error { order = append(order, 3); return nil }},
		{Version: 1, Apply: func(storage.Txn) error { order = append(order, 1); return nil }},
		{Version: 2, Apply: func(storage.Txn) error { order = append(order, 2); return nil }},
	}
	if err := NewRunner(db, steps).Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("applied in order %v, want [1 2 3]", order)
	}
}

func TestFailedStepRollsBack(t *testing.T) {
	db := storage.NewMemory()

	boom := errors.New("boom")
	steps := []Migration{
		{Version: 1, Apply: func(txn storage.Txn) error {
			if err := txn.Set([]byte("partial"), []byte("x")); err != nil {
				return err
			}
			return boom
		}},
	}
	err := NewRunner(db, steps).Run()
	if !errors.Is(err, boom) {
		t.Fatalf("run error = %v, want wrapped boom", err)
	}

	// Neither the step's writes nor the version bump may land.
	version, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 0 {
		t.Fatalf("version after failed step = %d, want 0", version)
	}
	err = db.View(func(txn storage.Txn) error {
		_, err := txn.Get([]byte("partial"))
		return err
	})
	if err != storage.ErrNotFound {
		t.Fatal("partial write survived failed migration")
	}
}
