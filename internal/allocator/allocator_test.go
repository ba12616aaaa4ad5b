package allocator

import (
	"sort"
	"sync"
	"testing"

	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/types"
)

func TestReserveNextIndexSequential(t *testing.T) {
	a := New(storage.NewMemory())

	for want := types.NoteIndex(0); want < 5; want++ {
		got, err := a.ReserveNextIndex(1024)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if got != want {
			t.Fatalf("reserved index %d, want %d", got, want)
		}
	}

	// Counters are per denomination.
	got, err := a.ReserveNextIndex(512)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got != 0 {
		t.Fatalf("fresh denomination reserved %d, want 0", got)
	}
}

func TestReserveNextIndexConcurrent(t *testing.T) {
	a := New(storage.NewMemory())

	const n = 32
	indices := make([]types.NoteIndex, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for {
				idx, err := a.ReserveNextIndex(64)
				if err == storage.ErrConflict {
					continue
				}
				if err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				indices[slot] = idx
				return
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for i, idx := range indices {
		if idx != types.NoteIndex(i) {
			t.Fatalf("indices not a permutation of [0,%d): got %v", n, indices)
		}
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	a := New(storage.NewMemory())

	if _, err := a.ReserveNextIndex(8); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	for i := 0; i < 3; i++ {
		next, err := a.PeekNextIndex(8)
		if err != nil {
			t.Fatalf("peek: %v", err)
		}
		if next != 1 {
			t.Fatalf("peek = %d, want 1", next)
		}
	}
}

func TestAdvancePastRaiseOnly(t *testing.T) {
	db := storage.NewMemory()
	a := New(db)

	err := db.Update(func(txn storage.Txn) error {
		return AdvancePastTxn(txn, 16, 9)
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	next, err := a.PeekNextIndex(16)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if next != 10 {
		t.Fatalf("next = %d, want 10", next)
	}

	// Advancing past a lower index must not move the counter back.
	err = db.Update(func(txn storage.Txn) error {
		return AdvancePastTxn(txn, 16, 4)
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	next, err = a.PeekNextIndex(16)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if next != 10 {
		t.Fatalf("next after lower advance = %d, want 10", next)
	}
}

func TestReusedIndices(t *testing.T) {
	a := New(storage.NewMemory())

	if err := a.MarkReused(4, 7); err != nil {
		t.Fatalf("mark reused: %v", err)
	}
	if err := a.MarkReused(4, 2); err != nil {
		t.Fatalf("mark reused: %v", err)
	}
	if err := a.MarkReused(32, 0); err != nil {
		t.Fatalf("mark reused: %v", err)
	}
	// Marking the same index twice is harmless.
	if err := a.MarkReused(4, 7); err != nil {
		t.Fatalf("re-mark reused: %v", err)
	}

	reused, err := a.ReusedIndices()
	if err != nil {
		t.Fatalf("reused indices: %v", err)
	}
	if len(reused[4]) != 2 {
		t.Fatalf("denomination 4 has %d reused indices, want 2", len(reused[4]))
	}
	if len(reused[32]) != 1 {
		t.Fatalf("denomination 32 has %d reused indices, want 1", len(reused[32]))
	}
}
