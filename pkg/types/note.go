package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Amount is a note denomination tier in millisatoshis. Notes exist only in
// fixed tiers; each tier has its own independent derivation index sequence.
type Amount uint64

// NoteIndex is the position of a note in its denomination's deterministic
// derivation sequence.
type NoteIndex uint64

// NonceSize is the length of a note nonce: a compressed secp256k1 public key.
const NonceSize = 33

// Nonce is the single-use note identifier. It is the compressed public key
// of the note's spend keypair, blinded at issuance and revealed at
// redemption.
type Nonce [NonceSize]byte

// Note is an unspent blind-signed token owned by the wallet. The SpendKey is
// the serialized secp256k1 private key whose public key is the Nonce; the
// Signature is the federation's blind signature over the nonce, opaque to
// this client.
type Note struct {
	Amount    Amount `json:"amount"`
	Nonce     Nonce  `json:"nonce"`
	SpendKey  []byte `json:"spend_key"`
	Signature []byte `json:"signature,omitempty"`
}

// String formats the amount as millisatoshis.
func (a Amount) String() string {
	return fmt.Sprintf("%dmsat", uint64(a))
}

// IsZero returns true if the nonce is all zeros.
func (n Nonce) IsZero() bool {
	return n == Nonce{}
}

// String returns the hex-encoded nonce.
func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}

// Bytes returns a copy of the nonce as a byte slice.
func (n Nonce) Bytes() []byte {
	b := make([]byte, NonceSize)
	copy(b, n[:])
	return b
}

// MarshalJSON encodes the nonce as a hex string.
func (n Nonce) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

// UnmarshalJSON decodes a hex string into a nonce.
func (n *Nonce) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*n = Nonce{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(decoded) != NonceSize {
		return fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(decoded))
	}
	copy(n[:], decoded)
	return nil
}

// HexToNonce converts a hex string to a Nonce.
func HexToNonce(s string) (Nonce, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nonce{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != NonceSize {
		return Nonce{}, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(b))
	}
	var n Nonce
	copy(n[:], b)
	return n, nil
}
