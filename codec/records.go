// Package codec decodes the fixed-layout binary records the grid program
// stores on the ledger. Layouts are little-endian with a one-byte record tag
// at offset zero; offsets are named so layout changes stay reviewable.
package codec

import (
	"encoding/binary"
	"fmt"

	"griddeployer/ledger"
)

// Record tags distinguishing the program's account types.
const (
	TagDeployer byte = 0x01
	TagBoard    byte = 0x02
	TagMiner    byte = 0x03
)

// SquareCount is the number of stake targets in a round.
const SquareCount = 25

// UnboundedEndSlot is the sentinel end slot of a round that has not started.
const UnboundedEndSlot = ^uint64(0)

// DecodeError reports a malformed or mistagged record. It excludes the
// affected account for the cycle without aborting the run.
type DecodeError struct {
	Record string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s record: %s", e.Record, e.Reason)
}

// Deployer record layout.
const (
	deployerOffAuthority = 1
	deployerOffOwnerKey  = 33
	deployerOffFeeBps    = 65
	deployerOffFlatFee   = 67
	deployerSize         = 75
)

// Board record layout.
const (
	boardOffRoundID   = 1
	boardOffStartSlot = 9
	boardOffEndSlot   = 17
	boardSize         = 25
)

// Miner record layout.
const (
	minerOffAuthority    = 1
	minerOffSquareTotals = 33
	minerOffCheckpointID = 233
	minerOffRoundID      = 241
	minerOffPending      = 249
	minerSize            = 257
)

// DeployerRecord is the on-ledger registration of a managed deployer.
type DeployerRecord struct {
	Authority      ledger.Address
	OwnerKey       ledger.Address
	FeeBasisPoints uint16
	FlatFee        uint64
}

// BoardRecord tracks the shared round state.
type BoardRecord struct {
	RoundID   uint64
	StartSlot uint64
	EndSlot   uint64
}

// MinerRecord tracks a deployer's per-round stakes and checkpoint progress.
type MinerRecord struct {
	Authority      ledger.Address
	SquareTotals   [SquareCount]uint64
	CheckpointID   uint64
	RoundID        uint64
	PendingRewards uint64
}

func checkRecord(name string, data []byte, tag byte, size int) error {
	if len(data) < size {
		return &DecodeError{Record: name, Reason: fmt.Sprintf("need %d bytes, got %d", size, len(data))}
	}
	if data[0] != tag {
		return &DecodeError{Record: name, Reason: fmt.Sprintf("tag 0x%02x, want 0x%02x", data[0], tag)}
	}
	return nil
}

// DecodeDeployer parses a deployer record.
func DecodeDeployer(data []byte) (*DeployerRecord, error) {
	if err := checkRecord("deployer", data, TagDeployer, deployerSize); err != nil {
		return nil, err
	}
	authority, _ := ledger.NewAddress(data[deployerOffAuthority : deployerOffAuthority+32])
	ownerKey, _ := ledger.NewAddress(data[deployerOffOwnerKey : deployerOffOwnerKey+32])
	return &DeployerRecord{
		Authority:      authority,
		OwnerKey:       ownerKey,
		FeeBasisPoints: binary.LittleEndian.Uint16(data[deployerOffFeeBps:]),
		FlatFee:        binary.LittleEndian.Uint64(data[deployerOffFlatFee:]),
	}, nil
}

// DecodeBoard parses the board record.
func DecodeBoard(data []byte) (*BoardRecord, error) {
	if err := checkRecord("board", data, TagBoard, boardSize); err != nil {
		return nil, err
	}
	return &BoardRecord{
		RoundID:   binary.LittleEndian.Uint64(data[boardOffRoundID:]),
		StartSlot: binary.LittleEndian.Uint64(data[boardOffStartSlot:]),
		EndSlot:   binary.LittleEndian.Uint64(data[boardOffEndSlot:]),
	}, nil
}

// DecodeMiner parses a miner record.
func DecodeMiner(data []byte) (*MinerRecord, error) {
	if err := checkRecord("miner", data, TagMiner, minerSize); err != nil {
		return nil, err
	}
	record := &MinerRecord{
		CheckpointID:   binary.LittleEndian.Uint64(data[minerOffCheckpointID:]),
		RoundID:        binary.LittleEndian.Uint64(data[minerOffRoundID:]),
		PendingRewards: binary.LittleEndian.Uint64(data[minerOffPending:]),
	}
	record.Authority, _ = ledger.NewAddress(data[minerOffAuthority : minerOffAuthority+32])
	for i := 0; i < SquareCount; i++ {
		record.SquareTotals[i] = binary.LittleEndian.Uint64(data[minerOffSquareTotals+i*8:])
	}
	return record, nil
}

// EncodeDeployer renders a deployer record, used by tests and tooling.
func EncodeDeployer(rec *DeployerRecord) []byte {
	data := make([]byte, deployerSize)
	data[0] = TagDeployer
	copy(data[deployerOffAuthority:], rec.Authority[:])
	copy(data[deployerOffOwnerKey:], rec.OwnerKey[:])
	binary.LittleEndian.PutUint16(data[deployerOffFeeBps:], rec.FeeBasisPoints)
	binary.LittleEndian.PutUint64(data[deployerOffFlatFee:], rec.FlatFee)
	return data
}

// EncodeBoard renders a board record.
func EncodeBoard(rec *BoardRecord) []byte {
	data := make([]byte, boardSize)
	data[0] = TagBoard
	binary.LittleEndian.PutUint64(data[boardOffRoundID:], rec.RoundID)
	binary.LittleEndian.PutUint64(data[boardOffStartSlot:], rec.StartSlot)
	binary.LittleEndian.PutUint64(data[boardOffEndSlot:], rec.EndSlot)
	return data
}

// EncodeMiner renders a miner record.
func EncodeMiner(rec *MinerRecord) []byte {
	data := make([]byte, minerSize)
	data[0] = TagMiner
	copy(data[minerOffAuthority:], rec.Authority[:])
	for i, total := range rec.SquareTotals {
		binary.LittleEndian.PutUint64(data[minerOffSquareTotals+i*8:], total)
	}
	binary.LittleEndian.PutUint64(data[minerOffCheckpointID:], rec.CheckpointID)
	binary.LittleEndian.PutUint64(data[minerOffRoundID:], rec.RoundID)
	binary.LittleEndian.PutUint64(data[minerOffPending:], rec.PendingRewards)
	return data
}
