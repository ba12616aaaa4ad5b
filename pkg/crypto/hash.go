// Package crypto provides cryptographic primitives for mintward.
package crypto

import (
	"encoding/binary"

	"github.com/mintward/mintward/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// OperationIDFromBytes derives a deterministic operation ID from arbitrary
// input, e.g. the serialized notes of an out-of-band spend.
func OperationIDFromBytes(data []byte) types.OperationID {
	return types.OperationID(blake3.Sum256(data))
}

// NonceFromPubKey converts a compressed 33-byte spend public key into a
// note nonce. Panics if the key has the wrong length; callers pass keys
// produced by SpendKey.PublicKey.
func NonceFromPubKey(pubKey []byte) types.Nonce {
	if len(pubKey) != types.NonceSize {
		panic("nonce pubkey must be 33 bytes")
	}
	var n types.Nonce
	copy(n[:], pubKey)
	return n
}

// HashUint64 hashes a domain tag together with a 64-bit integer. Used to
// map sparse numeric spaces (denomination tiers) onto derivation indices.
func HashUint64(tag string, v uint64) types.Hash {
	buf := make([]byte, 0, len(tag)+8)
	buf = append(buf, tag...)
	buf = binary.BigEndian.AppendUint64(buf, v)
	return Hash(buf)
}
