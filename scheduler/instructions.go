package scheduler

import (
	"encoding/binary"

	"griddeployer/ledger"
)

// Grid program opcodes.
const (
	opDeploy     byte = 0x01
	opCheckpoint byte = 0x02
	opReclaim    byte = 0x03
)

// Compute budget program opcodes.
const (
	opSetComputeUnits byte = 0x01
	opSetPriorityFee  byte = 0x02
)

// Lookup table program opcodes.
const (
	opTableCreate byte = 0x01
	opTableExtend byte = 0x02
)

func deployInstruction(program, board ledger.Address, intent Intent) ledger.Instruction {
	dep := intent.Deployer
	data := make([]byte, 0, 13)
	data = append(data, opDeploy)
	data = binary.LittleEndian.AppendUint64(data, intent.AmountPerSquare)
	data = binary.LittleEndian.AppendUint32(data, intent.SquaresMask)
	return ledger.Instruction{
		Program: program,
		Accounts: []ledger.AccountMeta{
			{Address: dep.Authority, Signer: false, Writable: true},
			{Address: dep.MinerAddress, Writable: true},
			{Address: dep.VaultAddress, Writable: true},
			{Address: board, Writable: true},
		},
		Data: data,
	}
}

func checkpointInstruction(program, board ledger.Address, dep *Deployer, roundID uint64) ledger.Instruction {
	data := make([]byte, 0, 9)
	data = append(data, opCheckpoint)
	data = binary.LittleEndian.AppendUint64(data, roundID)
	return ledger.Instruction{
		Program: program,
		Accounts: []ledger.AccountMeta{
			{Address: dep.MinerAddress, Writable: true},
			{Address: board},
		},
		Data: data,
	}
}

func reclaimInstruction(program ledger.Address, dep *Deployer) ledger.Instruction {
	return ledger.Instruction{
		Program: program,
		Accounts: []ledger.AccountMeta{
			{Address: dep.MinerAddress, Writable: true},
			{Address: dep.VaultAddress, Writable: true},
			{Address: dep.Authority, Writable: true},
		},
		Data: []byte{opReclaim},
	}
}

func computeBudgetInstruction(units uint32, priorityFee uint64) []ledger.Instruction {
	unitsData := make([]byte, 0, 5)
	unitsData = append(unitsData, opSetComputeUnits)
	unitsData = binary.LittleEndian.AppendUint32(unitsData, units)
	instructions := []ledger.Instruction{{
		Program: ledger.ComputeBudgetProgram,
		Data:    unitsData,
	}}
	if priorityFee > 0 {
		feeData := make([]byte, 0, 9)
		feeData = append(feeData, opSetPriorityFee)
		feeData = binary.LittleEndian.AppendUint64(feeData, priorityFee)
		instructions = append(instructions, ledger.Instruction{
			Program: ledger.ComputeBudgetProgram,
			Data:    feeData,
		})
	}
	return instructions
}

func tableCreateInstruction(table, payer ledger.Address, recentSlot uint64) ledger.Instruction {
	data := make([]byte, 0, 9)
	data = append(data, opTableCreate)
	data = binary.LittleEndian.AppendUint64(data, recentSlot)
	return ledger.Instruction{
		Program: ledger.LookupTableProgram,
		Accounts: []ledger.AccountMeta{
			{Address: table, Writable: true},
			{Address: payer, Signer: true, Writable: true},
			{Address: ledger.SystemProgram},
		},
		Data: data,
	}
}

func tableExtendInstruction(table, payer ledger.Address, addrs []ledger.Address) ledger.Instruction {
	data := make([]byte, 0, 3+32*len(addrs))
	data = append(data, opTableExtend)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(addrs)))
	for _, addr := range addrs {
		data = append(data, addr.Bytes()...)
	}
	return ledger.Instruction{
		Program: ledger.LookupTableProgram,
		Accounts: []ledger.AccountMeta{
			{Address: table, Writable: true},
			{Address: payer, Signer: true, Writable: true},
		},
		Data: data,
	}
}
