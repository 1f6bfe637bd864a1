package scheduler

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"griddeployer/ledger"
)

func batchFixture() *BatchBuilder {
	return NewBatchBuilder(addrWithByte(0xAA), addrWithByte(0xBB), addrWithByte(0xCC), 1)
}

func deployIntents(n int, needsCheckpoint bool) []Intent {
	intents := make([]Intent, 0, n)
	for i := 0; i < n; i++ {
		authority := addrWithByte(byte(0x10 + i))
		intents = append(intents, Intent{
			Deployer: &Deployer{
				Address:      addrWithByte(byte(0x01 + i)),
				Authority:    authority,
				MinerAddress: addrWithByte(byte(0x40 + i)),
				VaultAddress: addrWithByte(byte(0x70 + i)),
			},
			AmountPerSquare: 1_000,
			SquaresMask:     0x1F,
			NeedsCheckpoint: needsCheckpoint,
			CheckpointRound: 6,
		})
	}
	return intents
}

func TestBuildGroupSizes(t *testing.T) {
	builder := batchFixture()
	result := AdmissionResult{ToDeploy: deployIntents(5, false)}

	batches := builder.Build(result, 2, 100, nil)
	require.Len(t, batches, 3)
	sizes := []int{len(batches[0].Deployed), len(batches[1].Deployed), len(batches[2].Deployed)}
	require.Equal(t, []int{2, 2, 1}, sizes)

	total := 0
	for _, batch := range batches {
		require.LessOrEqual(t, len(batch.Deployed), 2)
		total += len(batch.Deployed)
	}
	require.Equal(t, len(result.ToDeploy), total)
}

func TestBuildLargerCeiling(t *testing.T) {
	builder := batchFixture()
	result := AdmissionResult{ToDeploy: deployIntents(5, false)}
	batches := builder.Build(result, 5, 100, nil)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Deployed, 5)
}

func TestBuildInstructionOrdering(t *testing.T) {
	builder := batchFixture()
	result := AdmissionResult{ToDeploy: deployIntents(2, true)}
	batches := builder.Build(result, 5, 100, nil)
	require.Len(t, batches, 1)

	instructions := batches[0].Tx.Instructions
	// Preamble: compute units plus priority fee, then per member
	// checkpoint, reclaim, deploy.
	require.Len(t, instructions, 2+2*3)
	require.Equal(t, ledger.ComputeBudgetProgram, instructions[0].Program)
	require.Equal(t, opSetComputeUnits, instructions[0].Data[0])
	require.Equal(t, opSetPriorityFee, instructions[1].Data[0])
	for i := 0; i < 2; i++ {
		base := 2 + i*3
		require.Equal(t, opCheckpoint, instructions[base].Data[0])
		require.Equal(t, opReclaim, instructions[base+1].Data[0])
		require.Equal(t, opDeploy, instructions[base+2].Data[0])
	}
}

func TestBuildCheckpointOnlyIsItsOwnTransaction(t *testing.T) {
	builder := batchFixture()
	intents := deployIntents(2, false)
	result := AdmissionResult{
		ToDeploy:         intents[:1],
		ToCheckpointOnly: []Intent{{Deployer: intents[1].Deployer, NeedsCheckpoint: true, CheckpointRound: 6}},
	}
	batches := builder.Build(result, 5, 100, nil)
	require.Len(t, batches, 2)

	checkpointBatch := batches[1]
	require.Empty(t, checkpointBatch.Deployed, "checkpoint-only members are not marked as deployed")
	var ops []byte
	for _, ins := range checkpointBatch.Tx.Instructions {
		if ins.Program == builder.program {
			ops = append(ops, ins.Data[0])
		}
	}
	require.Equal(t, []byte{opCheckpoint, opReclaim}, ops, "no deploy instruction present")
}

func TestPreambleScalesAndCaps(t *testing.T) {
	builder := batchFixture()

	units := func(members int) uint32 {
		ins := builder.preamble(members)
		return binary.LittleEndian.Uint32(ins[0].Data[1:])
	}
	require.Equal(t, uint32(defaultComputeBase+defaultComputePerMember), units(1))
	require.Equal(t, uint32(defaultComputeBase+5*defaultComputePerMember), units(5))
	require.Equal(t, uint32(defaultComputeCap), units(100), "preamble is capped")
}

func TestMemberAddressesCoverGroupAccounts(t *testing.T) {
	builder := batchFixture()
	intents := deployIntents(2, false)
	addrs := builder.MemberAddresses(intents)
	require.Len(t, addrs, 2*3+1)
	require.Contains(t, addrs, builder.board)
	require.Contains(t, addrs, intents[0].Deployer.MinerAddress)
	require.Contains(t, addrs, intents[1].Deployer.VaultAddress)
}
