// Package keychain derives the wallet's deterministic secret material from
// the root seed. Note spend keys and nonces are pure functions of
// (seed, denomination, index), which is what makes history-replay recovery
// possible with no local state beyond the seed itself.
package keychain

import (
	"encoding/binary"
	"fmt"

	"github.com/mintward/mintward/pkg/crypto"
	"github.com/mintward/mintward/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// Derivation path constants. Full path:
// m/purpose'/coin'/tier'/indexHi/indexLo
const (
	// PurposeMint is the hardened purpose field for e-cash note derivation.
	PurposeMint = bip32.FirstHardenedChild + 44

	// CoinTypeMintward is our coin type (hardened).
	CoinTypeMintward = bip32.FirstHardenedChild + 8920
)

// KeyChain derives per-note secrets from a BIP-32 master key.
type KeyChain struct {
	root *bip32.Key
}

// New creates a keychain from a 64-byte seed.
func New(seed []byte) (*KeyChain, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &KeyChain{root: master}, nil
}

// NewFromMnemonic creates a keychain from a BIP-39 mnemonic and optional
// passphrase.
func NewFromMnemonic(mnemonic, passphrase string) (*KeyChain, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return New(seed)
}

// tierChild maps a denomination tier onto a hardened child index.
// Denominations are sparse 64-bit values, so the tier is hashed down to the
// 31-bit child space rather than used directly.
func tierChild(amount types.Amount) uint32 {
	h := crypto.HashUint64("mintward/tier", uint64(amount))
	return bip32.FirstHardenedChild + (binary.BigEndian.Uint32(h[:4]) & 0x7fffffff)
}

// splitIndex splits a 64-bit note index across two non-hardened levels,
// since a single BIP-32 child index carries only 31 usable bits.
func splitIndex(index types.NoteIndex) (hi, lo uint32) {
	return uint32(uint64(index)>>31) & 0x7fffffff, uint32(uint64(index)) & 0x7fffffff
}

// SpendKeyAt derives the spend keypair for the note at (amount, index).
// Pure: no storage access. Live issuance and recovery both call this, so
// both paths agree on what index N means.
func (k *KeyChain) SpendKeyAt(amount types.Amount, index types.NoteIndex) (*crypto.SpendKey, error) {
	hi, lo := splitIndex(index)
	current := k.root
	for _, child := range []uint32{PurposeMint, CoinTypeMintward, tierChild(amount), hi, lo} {
		next, err := current.NewChildKey(child)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", child, err)
		}
		current = next
	}
	key, err := crypto.SpendKeyFromBytes(current.Key)
	if err != nil {
		return nil, fmt.Errorf("spend key at %s/%d: %w", amount, index, err)
	}
	return key, nil
}

// NonceAt derives the note nonce for (amount, index): the compressed public
// key of the spend keypair at that position.
func (k *KeyChain) NonceAt(amount types.Amount, index types.NoteIndex) (types.Nonce, error) {
	key, err := k.SpendKeyAt(amount, index)
	if err != nil {
		return types.Nonce{}, err
	}
	return crypto.NonceFromPubKey(key.PublicKey()), nil
}
