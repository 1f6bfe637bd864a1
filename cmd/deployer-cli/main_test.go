package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"griddeployer/ledger"
	"griddeployer/scheduler"
)

type stubReader struct {
	infos []*ledger.AccountInfo
	err   error
}

func (r *stubReader) GetSlot(ctx context.Context) (uint64, error) { return 0, nil }

func (r *stubReader) GetAccount(ctx context.Context, addr ledger.Address) (*ledger.AccountInfo, error) {
	return nil, nil
}

func (r *stubReader) GetAccounts(ctx context.Context, addrs []ledger.Address) ([]*ledger.AccountInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.infos, nil
}

func (r *stubReader) GetProgramAccounts(ctx context.Context, filter ledger.ProgramFilter) ([]*ledger.AccountInfo, error) {
	return nil, nil
}

func (r *stubReader) SubmitTransaction(ctx context.Context, raw []byte) (ledger.Signature, error) {
	return ledger.Signature{}, nil
}

func (r *stubReader) ConfirmTransaction(ctx context.Context, sig ledger.Signature) (bool, error) {
	return false, nil
}

func testPool() []scheduler.Deployer {
	return []scheduler.Deployer{{
		Address:        ledger.Address{0x01},
		Authority:      ledger.Address{0x10},
		FeeBasisPoints: 500,
		FlatFee:        10,
	}}
}

func TestDeployerSummariesPropagatesReadError(t *testing.T) {
	_, err := deployerSummaries(context.Background(), testPool(), &stubReader{err: fmt.Errorf("node down")})
	require.ErrorContains(t, err, "node down")
}

func TestDeployerSummariesFillsBalances(t *testing.T) {
	reader := &stubReader{infos: []*ledger.AccountInfo{{Address: ledger.Address{0x10}, Balance: 42}}}
	summaries, err := deployerSummaries(context.Background(), testPool(), reader)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, uint64(42), summaries[0].Balance)
	require.Equal(t, uint16(500), summaries[0].FeeBasisPoints)
}
