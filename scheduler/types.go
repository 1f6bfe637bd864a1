// Package scheduler implements the unattended deploy loop: it watches the
// shared round, decides which managed deployers can afford to act, folds owed
// checkpoint bookkeeping ahead of new stakes, and submits the result in as
// few transactions as the capacity ceiling allows.
package scheduler

import (
	"griddeployer/ledger"
)

// Deployer is a managed account discovered at startup and kept for the
// process lifetime. CachedBalance is refreshed every cycle.
type Deployer struct {
	Address        ledger.Address
	Authority      ledger.Address
	OwnerKey       ledger.Address
	FeeBasisPoints uint16
	FlatFee        uint64
	CachedBalance  uint64

	// Derived once from the authority; stable for the process lifetime.
	MinerAddress ledger.Address
	VaultAddress ledger.Address
}

// ServiceFee computes the deployer's own fee on a deployed amount. It is
// informational here: the fee is drawn from a separate pool, never from the
// reserve this scheduler maintains.
func (d *Deployer) ServiceFee(amountDeployed uint64) uint64 {
	return addSat(mulSat(amountDeployed, uint64(d.FeeBasisPoints))/10000, d.FlatFee)
}

// SkipReason explains why a deployer was not admitted this cycle.
type SkipReason string

const (
	ReasonAlreadyDeployed     SkipReason = "already_deployed"
	ReasonInsufficientBalance SkipReason = "insufficient_balance"
	ReasonDecodeError         SkipReason = "decode_error"
	ReasonDataUnavailable     SkipReason = "data_unavailable"
)

// Intent is one deployer's planned action for the current cycle. Rebuilt
// every cycle, never persisted.
type Intent struct {
	Deployer        *Deployer
	AmountPerSquare uint64
	SquaresMask     uint32
	CheckpointRound uint64
	NeedsCheckpoint bool
}

// Skip pairs a deployer with the reason it sat the cycle out.
type Skip struct {
	Address ledger.Address
	Reason  SkipReason
}
