package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mintward/mintward/internal/client"
	klog "github.com/mintward/mintward/internal/log"
	"github.com/mintward/mintward/internal/rpc"
	"github.com/mintward/mintward/pkg/types"
)

type testEnv struct {
	client *Client
	wallet *client.Client
	server *rpc.Server
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	reg, err := client.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.Create("alice", []byte("correct horse")); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	w, err := reg.Open("alice", []byte("correct horse"), client.Options{})
	if err != nil {
		t.Fatalf("open wallet: %v", err)
	}
	t.Cleanup(func() { reg.CloseAll() })

	srv := rpc.New("127.0.0.1:0", reg, client.Options{})
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		client: New("http://" + srv.Addr()),
		wallet: w,
		server: srv,
	}
}

func TestIssuanceRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	var req client.IssuanceRequest
	err := env.client.Call(ctx, "alice", "mint", "request_issuance",
		map[string]interface{}{"amount": 1024}, &req)
	if err != nil {
		t.Fatalf("request_issuance: %v", err)
	}
	if req.Index != 0 {
		t.Fatalf("first index = %d, want 0", req.Index)
	}
	if req.Nonce == (types.Nonce{}) {
		t.Fatal("nonce is zero")
	}

	err = env.client.Call(ctx, "alice", "mint", "confirm_issuance",
		map[string]interface{}{"amount": 1024, "index": req.Index}, nil)
	if err != nil {
		t.Fatalf("confirm_issuance: %v", err)
	}

	var bal struct {
		Total types.Amount            `json:"total"`
		Tiers map[types.Amount]uint64 `json:"tiers"`
	}
	if err := env.client.Call(ctx, "alice", "mint", "balance", nil, &bal); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Total != 1024 {
		t.Fatalf("balance = %d, want 1024", bal.Total)
	}
	if bal.Tiers[1024] != 1 {
		t.Fatalf("tier count = %d, want 1", bal.Tiers[1024])
	}
}

func TestStreamListNotes(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req, err := env.wallet.RequestIssuance(64)
		if err != nil {
			t.Fatalf("request issuance %d: %v", i, err)
		}
		if err := env.wallet.ConfirmIssuance(64, req.Index, nil); err != nil {
			t.Fatalf("confirm issuance %d: %v", i, err)
		}
	}

	var notes []types.Note
	err := env.client.Stream(ctx, "alice", "mint", "list_notes",
		map[string]interface{}{"amount": 64}, func(data json.RawMessage) error {
			var n types.Note
			if err := json.Unmarshal(data, &n); err != nil {
				return err
			}
			notes = append(notes, n)
			return nil
		})
	if err != nil {
		t.Fatalf("list_notes: %v", err)
	}
	if len(notes) != 3 {
		t.Fatalf("got %d notes, want 3", len(notes))
	}
	for _, n := range notes {
		if n.Amount != 64 {
			t.Fatalf("note amount = %d, want 64", n.Amount)
		}
	}
}

func TestUnknownWallet(t *testing.T) {
	env := setupTestEnv(t)

	err := env.client.Call(context.Background(), "nobody", "mint", "balance", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Status != 404 {
		t.Fatalf("status = %d, want 404", rpcErr.Status)
	}
}

func TestUnknownMethod(t *testing.T) {
	env := setupTestEnv(t)

	err := env.client.Call(context.Background(), "alice", "mint", "no_such_method", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Status != 400 {
		t.Fatalf("status = %d, want 400", rpcErr.Status)
	}
}

func TestStreamCancellation(t *testing.T) {
	env := setupTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	op := types.OperationID{1, 2, 3}
	err := env.client.Call(ctx, "alice", "mint", "await_oob_cancelled",
		map[string]interface{}{"operation": op}, nil)
	if err == nil {
		t.Fatal("expected error from cancelled await")
	}
}
