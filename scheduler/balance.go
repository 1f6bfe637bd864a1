package scheduler

import (
	"math/bits"

	"griddeployer/ledger"
)

// squaresMaskAll selects all 25 squares on the board.
const squaresMaskAll = uint32(1)<<25 - 1

// ReserveParams are the protocol constants that feed the reserve arithmetic.
type ReserveParams struct {
	RentExemptReserve uint64
	ProtocolFlatFee   uint64
	MinerCreationRent uint64
}

// Requirement is the outcome of a reserve calculation. All amounts are in
// smallest units; Shortfall is zero when the deployer can fund the deploy.
type Requirement struct {
	Required  uint64
	Shortfall uint64
}

// BalanceCalculator computes the reserve a deploy shape demands. Miner record
// existence is probed by the caller and remembered here: once a record has
// been seen on the ledger its creation rent is never charged again, even if
// a later read transiently misses it.
type BalanceCalculator struct {
	params     ReserveParams
	minerKnown map[ledger.Address]struct{}
}

// NewBalanceCalculator constructs a calculator with the supplied constants.
func NewBalanceCalculator(params ReserveParams) *BalanceCalculator {
	return &BalanceCalculator{
		params:     params,
		minerKnown: make(map[ledger.Address]struct{}),
	}
}

// ObserveMiner records that the miner account exists on the ledger.
func (c *BalanceCalculator) ObserveMiner(miner ledger.Address) {
	c.minerKnown[miner] = struct{}{}
}

// MinerKnown reports whether the miner account has ever been observed.
func (c *BalanceCalculator) MinerKnown(miner ledger.Address) bool {
	_, ok := c.minerKnown[miner]
	return ok
}

// RequiredReserve computes the top-up a full deploy needs given the current
// vault balance, and the shortfall against the deployer's cached balance.
// Saturating unsigned arithmetic throughout; no floats.
func (c *BalanceCalculator) RequiredReserve(dep *Deployer, vaultBalance uint64, amountPerSquare uint64, mask uint32) Requirement {
	squares := uint64(bits.OnesCount32(mask & squaresMaskAll))
	stake := mulSat(amountPerSquare, squares)

	required := addSat(c.params.RentExemptReserve, c.params.ProtocolFlatFee)
	required = addSat(required, stake)
	if !c.MinerKnown(dep.MinerAddress) {
		required = addSat(required, c.params.MinerCreationRent)
	}
	if vaultBalance >= required {
		required = 0
	} else {
		required -= vaultBalance
	}

	req := Requirement{Required: required}
	if required > dep.CachedBalance {
		req.Shortfall = required - dep.CachedBalance
	}
	return req
}

func addSat(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

func mulSat(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}
