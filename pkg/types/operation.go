package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// OperationIDSize is the length of an operation identifier in bytes.
const OperationIDSize = 32

// OperationID identifies a single wallet operation, such as an out-of-band
// spend awaiting cancellation or redemption.
type OperationID [OperationIDSize]byte

// IsZero returns true if the operation ID is all zeros.
func (o OperationID) IsZero() bool {
	return o == OperationID{}
}

// String returns the hex-encoded operation ID.
func (o OperationID) String() string {
	return hex.EncodeToString(o[:])
}

// Bytes returns a copy of the operation ID as a byte slice.
func (o OperationID) Bytes() []byte {
	b := make([]byte, OperationIDSize)
	copy(b, o[:])
	return b
}

// MarshalJSON encodes the operation ID as a hex string.
func (o OperationID) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes a hex string into an operation ID.
func (o *OperationID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*o = OperationID{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid operation id hex: %w", err)
	}
	if len(decoded) != OperationIDSize {
		return fmt.Errorf("operation id must be %d bytes, got %d", OperationIDSize, len(decoded))
	}
	copy(o[:], decoded)
	return nil
}

// HexToOperationID converts a hex string to an OperationID.
func HexToOperationID(s string) (OperationID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return OperationID{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != OperationIDSize {
		return OperationID{}, fmt.Errorf("operation id must be %d bytes, got %d", OperationIDSize, len(b))
	}
	var o OperationID
	copy(o[:], b)
	return o, nil
}
