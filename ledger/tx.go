package ledger

import (
	"encoding/binary"
	"fmt"
)

// AccountMeta names an account an instruction touches together with its
// access flags.
type AccountMeta struct {
	Address  Address
	Signer   bool
	Writable bool
}

// Instruction is one program invocation inside a transaction.
type Instruction struct {
	Program  Address
	Accounts []AccountMeta
	Data     []byte
}

// Transaction is an ordered instruction sequence submitted as one atomic
// unit. When Table is set the serialized form references table entries by
// index instead of embedding full addresses.
type Transaction struct {
	Payer        Address
	RecentSlot   uint64
	Instructions []Instruction
	Table        *TableRef
}

// TableRef points at an on-ledger lookup table and the entries it held when
// the transaction was assembled.
type TableRef struct {
	Address Address
	Entries []Address
}

const (
	txVersionLegacy      = 0x00
	txVersionAccelerated = 0x01

	refFull    = 0x00
	refCompact = 0x01
)

// Message serializes the unsigned transaction body. Addresses present in the
// table are encoded as two-byte indexes; everything else is embedded in full.
func (tx *Transaction) Message() ([]byte, error) {
	if len(tx.Instructions) == 0 {
		return nil, fmt.Errorf("transaction has no instructions")
	}
	version := byte(txVersionLegacy)
	index := map[Address]uint16{}
	if tx.Table != nil {
		version = txVersionAccelerated
		for i, entry := range tx.Table.Entries {
			if _, ok := index[entry]; !ok {
				index[entry] = uint16(i)
			}
		}
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, version)
	buf = append(buf, tx.Payer[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.RecentSlot)
	if version == txVersionAccelerated {
		buf = append(buf, tx.Table.Address[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Table.Entries)))
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Instructions)))
	for _, ins := range tx.Instructions {
		buf = appendAddressRef(buf, ins.Program, index)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ins.Accounts)))
		for _, meta := range ins.Accounts {
			buf = appendAddressRef(buf, meta.Address, index)
			var flags byte
			if meta.Signer {
				flags |= 0x01
			}
			if meta.Writable {
				flags |= 0x02
			}
			buf = append(buf, flags)
		}
		if len(ins.Data) > 0xffff {
			return nil, fmt.Errorf("instruction data too large: %d", len(ins.Data))
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ins.Data)))
		buf = append(buf, ins.Data...)
	}
	return buf, nil
}

func appendAddressRef(buf []byte, addr Address, index map[Address]uint16) []byte {
	if idx, ok := index[addr]; ok {
		buf = append(buf, refCompact)
		return binary.LittleEndian.AppendUint16(buf, idx)
	}
	buf = append(buf, refFull)
	return append(buf, addr[:]...)
}

// Seal signs the message with the payer key and returns the wire bytes.
func (tx *Transaction) Seal(signer *Signer) ([]byte, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer required")
	}
	msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	sig := signer.Sign(msg)
	out := make([]byte, 0, len(msg)+1+len(sig))
	out = append(out, 0x01)
	out = append(out, sig...)
	out = append(out, msg...)
	return out, nil
}
