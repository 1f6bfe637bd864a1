package scheduler

import (
	"griddeployer/ledger"
)

// Seed tags for the grid program's per-deployer accounts.
var (
	minerSeed = []byte("miner")
	vaultSeed = []byte("vault")
)

// DeriveMinerAddress returns the miner record address for an authority.
func DeriveMinerAddress(program, authority ledger.Address) ledger.Address {
	return ledger.DeriveAddress(program, minerSeed, authority.Bytes())
}

// DeriveVaultAddress returns the stake vault address for an authority.
func DeriveVaultAddress(program, authority ledger.Address) ledger.Address {
	return ledger.DeriveAddress(program, vaultSeed, authority.Bytes())
}
