package ledger

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"lukechampine.com/blake3"
)

// Address is a 32-byte ledger account address rendered as base58.
type Address [32]byte

// NewAddress copies b into an Address. The slice must be exactly 32 bytes.
func NewAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != 32 {
		return addr, fmt.Errorf("address must be 32 bytes, got %d", len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// DecodeAddress parses a base58-encoded address string.
func DecodeAddress(s string) (Address, error) {
	decoded := base58.Decode(s)
	if len(decoded) != 32 {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return NewAddress(decoded)
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns the raw 32-byte representation.
func (a Address) Bytes() []byte {
	return a[:]
}

// IsZero reports whether the address is the all-zero sentinel.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Less imposes a total byte-wise order, used to keep per-cycle evaluation
// deterministic.
func (a Address) Less(b Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// DeriveAddress maps a program id plus seed byte strings to a deterministic
// record address. The derivation is a BLAKE3 hash over the program id and the
// length-prefixed seeds, so distinct seed lists never collide.
func DeriveAddress(program Address, seeds ...[]byte) Address {
	h := blake3.New(32, nil)
	h.Write(program[:])
	for _, seed := range seeds {
		var prefix [1]byte
		prefix[0] = byte(len(seed))
		h.Write(prefix[:])
		h.Write(seed)
	}
	var addr Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// BuiltinAddress derives the well-known address of a builtin program from its
// registered name.
func BuiltinAddress(name string) Address {
	sum := blake3.Sum256([]byte("builtin:" + name))
	return Address(sum)
}

// Builtin programs referenced when assembling transactions.
var (
	SystemProgram        = BuiltinAddress("system")
	ComputeBudgetProgram = BuiltinAddress("compute_budget")
	LookupTableProgram   = BuiltinAddress("lookup_table")
)
