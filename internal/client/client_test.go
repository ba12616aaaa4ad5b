package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mintward/mintward/internal/migrate"
	"github.com/mintward/mintward/internal/recovery"
	"github.com/mintward/mintward/internal/storage"
	"github.com/mintward/mintward/pkg/crypto"
	"github.com/mintward/mintward/pkg/types"
)

func testSeed() []byte {
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i + 3)
	}
	return seed
}

func openTestClient(t *testing.T, db storage.DB, opts Options) *Client {
	t.Helper()
	c, err := Open("test", db, testSeed(), opts)
	if err != nil {
		t.Fatalf("open client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenStampsSchemaVersion(t *testing.T) {
	db := storage.NewMemory()
	openTestClient(t, db, Options{})

	mintDB := storage.NewPrefixDB(db, mintKeyPrefix)
	version, err := migrate.CurrentVersion(mintDB)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestMigrationDropsLegacyReplayState(t *testing.T) {
	db := storage.NewMemory()

	// A v0 store left a replay checkpoint in the old format.
	mintDB := storage.NewPrefixDB(db, mintKeyPrefix)
	err := mintDB.Update(func(txn storage.Txn) error {
		return txn.Set([]byte("r/"), []byte("legacy-format"))
	})
	if err != nil {
		t.Fatalf("seed legacy state: %v", err)
	}

	openTestClient(t, db, Options{})

	inflight, err := recovery.InProgress(mintDB)
	if err != nil {
		t.Fatalf("in progress: %v", err)
	}
	if inflight {
		t.Fatal("legacy replay state survived migration")
	}
}

func TestIssuanceLifecycle(t *testing.T) {
	c := openTestClient(t, storage.NewMemory(), Options{})

	req, err := c.RequestIssuance(2048)
	if err != nil {
		t.Fatalf("request issuance: %v", err)
	}
	if req.Index != 0 {
		t.Fatalf("first index = %d, want 0", req.Index)
	}
	if req.Nonce.IsZero() {
		t.Fatal("issuance request has zero nonce")
	}

	// Reservations are durable; the next request gets a fresh index.
	req2, err := c.RequestIssuance(2048)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if req2.Index != 1 {
		t.Fatalf("second index = %d, want 1", req2.Index)
	}
	if req2.Nonce == req.Nonce {
		t.Fatal("distinct indices derived the same nonce")
	}

	if err := c.ConfirmIssuance(2048, req.Index, []byte("sig")); err != nil {
		t.Fatalf("confirm issuance: %v", err)
	}
	if err := c.AbandonIssuance(2048, req2.Index); err != nil {
		t.Fatalf("abandon issuance: %v", err)
	}

	bal, err := c.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 2048 {
		t.Fatalf("balance = %d, want 2048", bal)
	}

	got, err := c.Notes(2048)
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d notes, want 1", len(got))
	}
	if got[0].Nonce != req.Nonce {
		t.Fatal("recorded note nonce does not match the reservation")
	}
	if string(got[0].Signature) != "sig" {
		t.Fatal("recorded note lost its signature")
	}

	if err := c.ConfirmSpend(2048, req.Nonce); err != nil {
		t.Fatalf("confirm spend: %v", err)
	}
	bal, err = c.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 0 {
		t.Fatalf("balance after spend = %d, want 0", bal)
	}
}

func TestOOBCancellation(t *testing.T) {
	c := openTestClient(t, storage.NewMemory(), Options{})

	op := types.OperationID{7}
	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { done <- c.AwaitOOBCancellation(ctx, op) }()

	time.Sleep(20 * time.Millisecond)
	if err := c.CancelOOBSpend(op); err != nil {
		t.Fatalf("cancel oob spend: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("await: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("await did not observe cancellation")
	}
}

func TestProveSpend(t *testing.T) {
	c := openTestClient(t, storage.NewMemory(), Options{})

	req, err := c.RequestIssuance(1024)
	if err != nil {
		t.Fatalf("request issuance: %v", err)
	}
	if err := c.ConfirmIssuance(req.Amount, req.Index, []byte("blind-sig")); err != nil {
		t.Fatalf("confirm issuance: %v", err)
	}

	challenge := []byte("redeem for operation 7")
	proof, err := c.ProveSpend(req.Amount, req.Nonce, challenge)
	if err != nil {
		t.Fatalf("prove spend: %v", err)
	}

	// The nonce is the spend key's compressed public key, so the proof
	// verifies directly against it.
	digest := crypto.Hash(challenge)
	if !crypto.VerifySpendProof(digest[:], proof, req.Nonce.Bytes()) {
		t.Fatal("proof does not verify against the note nonce")
	}

	var absent types.Nonce
	absent[0] = 0x02
	if _, err := c.ProveSpend(req.Amount, absent, challenge); err == nil {
		t.Fatal("proving an absent note succeeded")
	}
}

func TestRecoveryStatusWithoutSource(t *testing.T) {
	c := openTestClient(t, storage.NewMemory(), Options{})

	status := c.RecoveryStatus()
	if status.State != recovery.StateNotStarted {
		t.Fatalf("state = %s, want not_started", status.State)
	}
	if err := c.StartRecovery(); err == nil {
		t.Fatal("expected error starting recovery without a history source")
	}
}

// emptySource reports an empty, already-complete history.
type emptySource struct{}

func (emptySource) FetchNextBatch(context.Context, recovery.Checkpoint) (recovery.Batch, error) {
	return recovery.Batch{EndOfLog: true}, nil
}

func TestOpenStartsRecoveryOnFreshStore(t *testing.T) {
	db := storage.NewMemory()
	c := openTestClient(t, db, Options{
		HistorySource: emptySource{},
		Recovery:      recovery.Config{Tiers: []types.Amount{1, 2, 4}},
	})

	deadline := time.After(5 * time.Second)
	for c.RecoveryStatus().State != recovery.StateFinalized {
		select {
		case <-deadline:
			t.Fatalf("recovery never finalized, state %s", c.RecoveryStatus().State)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mintDB := storage.NewPrefixDB(db, mintKeyPrefix)
	needs, err := recovery.NeedsRecovery(mintDB)
	if err != nil {
		t.Fatalf("needs recovery: %v", err)
	}
	if needs {
		t.Fatal("store still reports needing recovery after finalize")
	}
}

func TestRecoveryAwaitWithoutSource(t *testing.T) {
	c := openTestClient(t, storage.NewMemory(), Options{})

	call, err := c.Dispatch().Invoke(context.Background(), "recovery", "await", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	defer call.Cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-call.Results():
			if !ok {
				t.Fatal("stream closed without an error item")
			}
			if res.Err != "" {
				return
			}
			if res.End {
				t.Fatal("stream ended without an error item")
			}
		case <-deadline:
			t.Fatal("await without a history source did not fail")
		}
	}
}

// gateSource blocks every fetch until the replay is cancelled and records
// the highest number of fetches ever in flight at once.
type gateSource struct {
	mu        sync.Mutex
	active    int
	maxActive int
}

func (s *gateSource) FetchNextBatch(ctx context.Context, _ recovery.Checkpoint) (recovery.Batch, error) {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()
	<-ctx.Done()
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return recovery.Batch{}, ctx.Err()
}

func TestStartRecoverySingleRun(t *testing.T) {
	src := &gateSource{}
	c := openTestClient(t, storage.NewMemory(), Options{
		HistorySource: src,
		Recovery:      recovery.Config{Tiers: []types.Amount{1}},
	})

	// The fresh store already started one replay at open; concurrent
	// explicit starts must not add another.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.StartRecovery(); err != nil {
				t.Errorf("start recovery: %v", err)
			}
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	src.mu.Lock()
	max := src.maxActive
	src.mu.Unlock()
	if max != 1 {
		t.Fatalf("observed %d concurrent replays, want 1", max)
	}

	// Close cancels the replay and waits for it, leaving no orphaned
	// run driving storage afterwards.
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRegistryExclusiveOpen(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.CloseAll)

	if _, err := reg.Create("w", []byte("pw")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Open("w", []byte("pw"), Options{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := reg.Open("w", []byte("pw"), Options{}); err == nil {
		t.Fatal("second open of the same wallet succeeded")
	}

	// Closing releases the identity for reopening.
	if err := reg.Close("w"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := reg.Open("w", []byte("pw"), Options{}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestRegistryRejectsWrongPassword(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.Create("w", []byte("right")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := reg.Open("w", []byte("wrong"), Options{}); err == nil {
		t.Fatal("open with wrong password succeeded")
	}
}
