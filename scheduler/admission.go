package scheduler

import (
	"sort"

	"griddeployer/codec"
)

// Candidate is a deployer together with its per-cycle ledger snapshot. Miner
// is nil when the record does not exist yet.
type Candidate struct {
	Deployer     *Deployer
	Miner        *codec.MinerRecord
	VaultBalance uint64
}

// AdmissionResult partitions the pool for one cycle. ToDeploy and
// ToCheckpointOnly are disjoint; Skipped carries a reason per entry.
type AdmissionResult struct {
	ToDeploy         []Intent
	ToCheckpointOnly []Intent
	Skipped          []Skip
}

// AdmissionController decides, per cycle, which deployers may act. It never
// admits a deployer twice for the same round.
type AdmissionController struct {
	calc    *BalanceCalculator
	tracker CompletionTracker
}

// NewAdmissionController wires the calculator and completion tracker.
func NewAdmissionController(calc *BalanceCalculator, tracker CompletionTracker) *AdmissionController {
	return &AdmissionController{calc: calc, tracker: tracker}
}

// Evaluate walks the candidates in stable address order and produces this
// cycle's actions. A deployer with an owed checkpoint but not enough balance
// for a full deploy gets a checkpoint-only action, freeing reserved funds for
// the next cycle.
func (a *AdmissionController) Evaluate(candidates []Candidate, roundID uint64, amountPerSquare uint64, mask uint32) AdmissionResult {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Deployer.Address.Less(ordered[j].Deployer.Address)
	})

	var result AdmissionResult
	for _, cand := range ordered {
		dep := cand.Deployer
		if a.tracker.Submitted(dep.Address, roundID) {
			result.Skipped = append(result.Skipped, Skip{Address: dep.Address, Reason: ReasonAlreadyDeployed})
			continue
		}

		checkpointOwed := false
		var checkpointRound uint64
		if cand.Miner != nil {
			a.calc.ObserveMiner(dep.MinerAddress)
			if cand.Miner.CheckpointID < cand.Miner.RoundID {
				checkpointOwed = true
				checkpointRound = cand.Miner.RoundID
			}
		}

		req := a.calc.RequiredReserve(dep, cand.VaultBalance, amountPerSquare, mask)
		switch {
		case req.Shortfall == 0:
			result.ToDeploy = append(result.ToDeploy, Intent{
				Deployer:        dep,
				AmountPerSquare: amountPerSquare,
				SquaresMask:     mask,
				CheckpointRound: checkpointRound,
				NeedsCheckpoint: checkpointOwed,
			})
		case checkpointOwed:
			result.ToCheckpointOnly = append(result.ToCheckpointOnly, Intent{
				Deployer:        dep,
				CheckpointRound: checkpointRound,
				NeedsCheckpoint: true,
			})
		default:
			result.Skipped = append(result.Skipped, Skip{Address: dep.Address, Reason: ReasonInsufficientBalance})
		}
	}
	return result
}
