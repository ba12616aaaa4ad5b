package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// SpendKey is the secp256k1 secret controlling a single note. Its
// compressed public key is the note's nonce; redemption proves ownership
// by Schnorr-signing a federation challenge with it.
type SpendKey struct {
	key *secp256k1.PrivateKey
}

// GenerateSpendKey creates a fresh random spend key. Wallet operation
// derives keys deterministically from the keychain; this exists for
// ephemeral material and tests.
func GenerateSpendKey() (*SpendKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate spend key: %w", err)
	}
	return &SpendKey{key: key}, nil
}

// SpendKeyFromBytes reconstructs a spend key from its 32-byte scalar,
// the form stored in ledger note records.
func SpendKeyFromBytes(b []byte) (*SpendKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("spend key must be 32 bytes, got %d", len(b))
	}
	return &SpendKey{key: secp256k1.PrivKeyFromBytes(b)}, nil
}

// Sign produces a Schnorr signature over a 32-byte challenge digest.
func (k *SpendKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("challenge digest must be 32 bytes, got %d", len(hash))
	}
	sig, err := schnorr.Sign(k.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the compressed 33-byte public key, which doubles as
// the note nonce.
func (k *SpendKey) PublicKey() []byte {
	return k.key.PubKey().SerializeCompressed()
}

// Serialize returns the 32-byte key scalar for ledger storage.
func (k *SpendKey) Serialize() []byte {
	return k.key.Serialize()
}

// Zero wipes the key material.
func (k *SpendKey) Zero() {
	k.key.Zero()
}

// VerifySpendProof checks a Schnorr ownership proof against a challenge
// digest and a note nonce (compressed public key). Returns false on any
// parse or verification failure.
func VerifySpendProof(hash, signature, nonce []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(nonce)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}
