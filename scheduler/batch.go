package scheduler

import (
	"griddeployer/ledger"
)

// Default compute-budget sizing for a batch.
const (
	defaultComputeBase      = 50_000
	defaultComputePerMember = 120_000
	defaultComputeCap       = 1_400_000
)

// Batch is one transaction plus the deployers whose deploy it carries.
// Deployed is what gets marked in the completion tracker after submission;
// checkpoint-only batches leave it empty.
type Batch struct {
	Tx       *ledger.Transaction
	Deployed []ledger.Address
}

// BatchBuilder expands admission results into transactions. The capacity
// ceiling is chosen once per cycle by the caller and never changes mid-cycle.
type BatchBuilder struct {
	program     ledger.Address
	board       ledger.Address
	payer       ledger.Address
	priorityFee uint64

	computeBase      uint32
	computePerMember uint32
	computeCap       uint32
}

// NewBatchBuilder constructs a builder for the grid program.
func NewBatchBuilder(program, board, payer ledger.Address, priorityFee uint64) *BatchBuilder {
	return &BatchBuilder{
		program:          program,
		board:            board,
		payer:            payer,
		priorityFee:      priorityFee,
		computeBase:      defaultComputeBase,
		computePerMember: defaultComputePerMember,
		computeCap:       defaultComputeCap,
	}
}

// Build partitions ToDeploy into consecutive groups of at most ceiling
// members and gives every checkpoint-only intent its own transaction.
func (b *BatchBuilder) Build(result AdmissionResult, ceiling int, recentSlot uint64, table *ledger.TableRef) []Batch {
	if ceiling < 1 {
		ceiling = 1
	}
	var batches []Batch
	for start := 0; start < len(result.ToDeploy); start += ceiling {
		end := start + ceiling
		if end > len(result.ToDeploy) {
			end = len(result.ToDeploy)
		}
		batches = append(batches, b.deployBatch(result.ToDeploy[start:end], recentSlot, table))
	}
	for _, intent := range result.ToCheckpointOnly {
		batches = append(batches, b.checkpointBatch(intent, recentSlot, table))
	}
	return batches
}

// MemberAddresses lists every account a deploy group touches, in group
// order. Used to size the lookup table before batches are assembled.
func (b *BatchBuilder) MemberAddresses(intents []Intent) []ledger.Address {
	addrs := make([]ledger.Address, 0, len(intents)*3+1)
	for _, intent := range intents {
		dep := intent.Deployer
		addrs = append(addrs, dep.Authority, dep.MinerAddress, dep.VaultAddress)
	}
	addrs = append(addrs, b.board)
	return addrs
}

func (b *BatchBuilder) deployBatch(group []Intent, recentSlot uint64, table *ledger.TableRef) Batch {
	instructions := b.preamble(len(group))
	deployed := make([]ledger.Address, 0, len(group))
	for _, intent := range group {
		if intent.NeedsCheckpoint {
			instructions = append(instructions,
				checkpointInstruction(b.program, b.board, intent.Deployer, intent.CheckpointRound),
				reclaimInstruction(b.program, intent.Deployer),
			)
		}
		instructions = append(instructions, deployInstruction(b.program, b.board, intent))
		deployed = append(deployed, intent.Deployer.Address)
	}
	return Batch{
		Tx: &ledger.Transaction{
			Payer:        b.payer,
			RecentSlot:   recentSlot,
			Instructions: instructions,
			Table:        table,
		},
		Deployed: deployed,
	}
}

func (b *BatchBuilder) checkpointBatch(intent Intent, recentSlot uint64, table *ledger.TableRef) Batch {
	instructions := b.preamble(1)
	instructions = append(instructions,
		checkpointInstruction(b.program, b.board, intent.Deployer, intent.CheckpointRound),
		reclaimInstruction(b.program, intent.Deployer),
	)
	return Batch{
		Tx: &ledger.Transaction{
			Payer:        b.payer,
			RecentSlot:   recentSlot,
			Instructions: instructions,
			Table:        table,
		},
	}
}

func (b *BatchBuilder) preamble(members int) []ledger.Instruction {
	units := b.computeBase + b.computePerMember*uint32(members)
	if units > b.computeCap {
		units = b.computeCap
	}
	return computeBudgetInstruction(units, b.priorityFee)
}
