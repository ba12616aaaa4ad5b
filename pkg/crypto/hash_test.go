package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/mintward/mintward/pkg/types"
)

func hexToHash(t *testing.T, s string) types.Hash {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	var h types.Hash
	copy(h[:], b)
	return h
}

func TestHash(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "empty input",
			input: []byte{},
			want:  "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
		},
		{
			name:  "hello",
			input: []byte("hello"),
			want:  "ea8f163db38682925e4491c5e58d4bb3506ef8c14eb78a86e908c5624a67200f",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hash(tt.input)
			want := hexToHash(t, tt.want)
			if got != want {
				t.Errorf("Hash(%q) = %x, want %x", tt.input, got, want)
			}
		})
	}
}

func TestHash_Deterministic(t *testing.T) {
	data := []byte("deterministic test input")
	h1 := Hash(data)
	h2 := Hash(data)
	if h1 != h2 {
		t.Errorf("Hash is not deterministic: %x != %x", h1, h2)
	}
}

func TestOperationIDFromBytes(t *testing.T) {
	a := OperationIDFromBytes([]byte("spend A"))
	b := OperationIDFromBytes([]byte("spend B"))
	if a == b {
		t.Error("different inputs produced the same operation ID")
	}
	if a != OperationIDFromBytes([]byte("spend A")) {
		t.Error("operation ID is not deterministic")
	}
}

func TestNonceFromPubKey(t *testing.T) {
	key, err := GenerateSpendKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub := key.PublicKey()
	nonce := NonceFromPubKey(pub)
	if nonce.IsZero() {
		t.Error("nonce from real key is zero")
	}
	if nonce != NonceFromPubKey(pub) {
		t.Error("nonce conversion is not deterministic")
	}
}

func TestNonceFromPubKey_PanicsOnBadLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for short key")
		}
	}()
	NonceFromPubKey(make([]byte, 32))
}

func TestHashUint64(t *testing.T) {
	h1 := HashUint64("tag", 1)
	h2 := HashUint64("tag", 2)
	if h1 == h2 {
		t.Error("different values produced the same hash")
	}
	// The tag is part of the input.
	if HashUint64("a", 1) == HashUint64("b", 1) {
		t.Error("different tags produced the same hash")
	}
	if h1 != HashUint64("tag", 1) {
		t.Error("HashUint64 is not deterministic")
	}
}
