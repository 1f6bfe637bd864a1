package ledger

import (
	"context"
	"errors"

	"github.com/btcsuite/btcutil/base58"
)

// ErrUnavailable marks a transient ledger failure. Callers skip the current
// cycle instead of treating it as fatal.
var ErrUnavailable = errors.New("ledger unavailable")

// Signature identifies a submitted transaction.
type Signature [64]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// DecodeSignature parses a base58-encoded signature string.
func DecodeSignature(raw string) (Signature, error) {
	decoded := base58.Decode(raw)
	var sig Signature
	if len(decoded) != 64 {
		return sig, errors.New("invalid signature encoding")
	}
	copy(sig[:], decoded)
	return sig, nil
}

// AccountInfo is the decoded view of an on-ledger account.
type AccountInfo struct {
	Address Address
	Owner   Address
	Balance uint64
	Data    []byte
}

// ProgramFilter selects program-owned accounts whose record tag matches.
type ProgramFilter struct {
	Program Address
	Tag     byte
}

// Reader is the read/submit surface the scheduler depends on. Absent accounts
// are reported as a nil AccountInfo with a nil error so callers can
// distinguish "missing" from "unreachable".
type Reader interface {
	GetSlot(ctx context.Context) (uint64, error)
	GetAccount(ctx context.Context, addr Address) (*AccountInfo, error)
	GetAccounts(ctx context.Context, addrs []Address) ([]*AccountInfo, error)
	GetProgramAccounts(ctx context.Context, filter ProgramFilter) ([]*AccountInfo, error)
	SubmitTransaction(ctx context.Context, raw []byte) (Signature, error)
	ConfirmTransaction(ctx context.Context, sig Signature) (bool, error)
}
