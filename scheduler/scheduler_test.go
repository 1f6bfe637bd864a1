package scheduler

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"griddeployer/codec"
	"griddeployer/ledger"
)

// fakeLedger is an in-memory ledger.Reader shared by the scheduler tests.
type fakeLedger struct {
	slot            uint64
	accounts        map[ledger.Address]*ledger.AccountInfo
	programAccounts []*ledger.AccountInfo

	readErr   error
	submitErr error
	// submitErrAfter fails submissions once the count passes the threshold;
	// negative means never.
	submitErrAfter int

	submitted  [][]byte
	sigCounter uint64
	confirmed  map[ledger.Signature]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:       make(map[ledger.Address]*ledger.AccountInfo),
		confirmed:      make(map[ledger.Signature]bool),
		submitErrAfter: -1,
	}
}

func (f *fakeLedger) GetSlot(ctx context.Context) (uint64, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.slot, nil
}

func (f *fakeLedger) GetAccount(ctx context.Context, addr ledger.Address) (*ledger.AccountInfo, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.accounts[addr], nil
}

func (f *fakeLedger) GetAccounts(ctx context.Context, addrs []ledger.Address) ([]*ledger.AccountInfo, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	infos := make([]*ledger.AccountInfo, len(addrs))
	for i, addr := range addrs {
		infos[i] = f.accounts[addr]
	}
	return infos, nil
}

func (f *fakeLedger) GetProgramAccounts(ctx context.Context, filter ledger.ProgramFilter) ([]*ledger.AccountInfo, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.programAccounts, nil
}

func (f *fakeLedger) SubmitTransaction(ctx context.Context, raw []byte) (ledger.Signature, error) {
	if f.submitErr != nil {
		return ledger.Signature{}, f.submitErr
	}
	if f.submitErrAfter >= 0 && len(f.submitted) >= f.submitErrAfter {
		return ledger.Signature{}, fmt.Errorf("submit rejected")
	}
	f.submitted = append(f.submitted, raw)
	f.sigCounter++
	var sig ledger.Signature
	binary.LittleEndian.PutUint64(sig[:], f.sigCounter)
	f.confirmed[sig] = true
	return sig, nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, sig ledger.Signature) (bool, error) {
	return f.confirmed[sig], nil
}

func addrWithByte(b byte) ledger.Address {
	var addr ledger.Address
	addr[0] = b
	addr[31] = b
	return addr
}

func testSigner(t *testing.T) *ledger.Signer {
	t.Helper()
	signer, err := ledger.SignerFromHex("1111111111111111111111111111111111111111111111111111111111111111")
	require.NoError(t, err)
	return signer
}

type testEnv struct {
	fl     *fakeLedger
	signer *ledger.Signer
	cfg    Config
	sched  *Scheduler
}

// newTestEnv stands up a scheduler over a fake ledger with n funded
// deployers, a board in an active round, and the miner records present.
func newTestEnv(t *testing.T, n int, balance uint64) *testEnv {
	t.Helper()
	fl := newFakeLedger()
	signer := testSigner(t)
	program := addrWithByte(0xAA)
	board := addrWithByte(0xBB)

	fl.slot = 1_000
	fl.accounts[board] = &ledger.AccountInfo{
		Address: board,
		Data:    codec.EncodeBoard(&codec.BoardRecord{RoundID: 7, StartSlot: 900, EndSlot: 1_100}),
	}

	for i := 0; i < n; i++ {
		authority := addrWithByte(byte(0x10 + i))
		record := &codec.DeployerRecord{
			Authority:      authority,
			OwnerKey:       signer.Address(),
			FeeBasisPoints: 500,
			FlatFee:        10,
		}
		depAddr := addrWithByte(byte(0x60 + i))
		fl.programAccounts = append(fl.programAccounts, &ledger.AccountInfo{
			Address: depAddr,
			Data:    codec.EncodeDeployer(record),
		})
		fl.accounts[authority] = &ledger.AccountInfo{Address: authority, Balance: balance}
		miner := DeriveMinerAddress(program, authority)
		fl.accounts[miner] = &ledger.AccountInfo{
			Address: miner,
			Data:    codec.EncodeMiner(&codec.MinerRecord{Authority: authority, CheckpointID: 7, RoundID: 7}),
		}
	}

	cfg := Config{
		Program:            program,
		Board:              board,
		AmountPerSquare:    1_000,
		SquaresMask:        0x1F, // five squares
		PollInterval:       time.Second,
		IntermissionWindow: 35,
		Reserve: ReserveParams{
			RentExemptReserve: 39_000,
			ProtocolFlatFee:   1_000,
			MinerCreationRent: 2_000,
		},
	}
	sched, err := New(cfg, fl, signer)
	require.NoError(t, err)
	require.NoError(t, sched.Bootstrap(context.Background()))
	return &testEnv{fl: fl, signer: signer, cfg: cfg, sched: sched}
}

func TestRunCycleAdmitsOncePerRound(t *testing.T) {
	env := newTestEnv(t, 3, 50_000)

	summary, err := env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Admitted)
	require.Equal(t, 2, summary.Submitted) // ceiling 2: groups [2 1]
	require.Equal(t, 0, summary.Failed)

	// Repeated polls before confirmation must not reselect anyone.
	for i := 0; i < 3; i++ {
		summary, err = env.sched.RunCycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, summary.Admitted)
		require.Equal(t, 3, summary.SkipReasons[ReasonAlreadyDeployed])
	}
	require.Len(t, env.fl.submitted, 2)
}

func TestRunCycleRoundChangeClearsTracker(t *testing.T) {
	env := newTestEnv(t, 1, 50_000)

	summary, err := env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Submitted)

	// New round on the board; the deployer is admissible again.
	board := env.cfg.Board
	env.fl.accounts[board].Data = codec.EncodeBoard(&codec.BoardRecord{RoundID: 8, StartSlot: 1_000, EndSlot: 1_200})
	summary, err = env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), summary.RoundID)
	require.Equal(t, 1, summary.Admitted)
	require.Equal(t, 1, summary.Submitted)
}

func TestRunCycleLedgerUnavailableSkipsCycle(t *testing.T) {
	env := newTestEnv(t, 2, 50_000)
	env.fl.readErr = fmt.Errorf("%w: connection refused", ledger.ErrUnavailable)

	summary, err := env.sched.RunCycle(context.Background())
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	require.Equal(t, 0, summary.Submitted)
	require.Empty(t, env.fl.submitted)

	// A transient outage leaves no per-round state behind.
	env.fl.readErr = nil
	summary, err = env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Admitted)
}

func TestRunCycleBatchFailureDoesNotBlockOthers(t *testing.T) {
	env := newTestEnv(t, 5, 50_000)
	env.fl.submitErrAfter = 1 // first batch lands, the rest are rejected

	summary, err := env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, summary.Admitted)
	require.Equal(t, 1, summary.Submitted)
	require.Equal(t, 2, summary.Failed)

	// Only members of the successful batch are marked; the rest retry.
	env.fl.submitErrAfter = -1
	summary, err = env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Admitted)
	require.Equal(t, 2, summary.SkipReasons[ReasonAlreadyDeployed])
}

func TestRunCycleInactivePhaseDoesNothing(t *testing.T) {
	env := newTestEnv(t, 2, 50_000)
	env.fl.slot = 1_150 // past endSlot 1_100, inside the 35-slot window

	summary, err := env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseIntermission, summary.Phase)
	require.Equal(t, 0, summary.Admitted)
	require.Empty(t, env.fl.submitted)
}

func TestRunCycleDeployThresholdGate(t *testing.T) {
	env := newTestEnv(t, 1, 50_000)
	env.cfg.DeployThresholdSlots = 50
	sched, err := New(env.cfg, env.fl, env.signer)
	require.NoError(t, err)
	require.NoError(t, sched.Bootstrap(context.Background()))

	// 100 slots remain; outside the deploy window.
	summary, err := sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.Admitted)

	env.fl.slot = 1_060 // 40 slots remain
	summary, err = sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Admitted)
}

func TestRunCycleDecodeErrorExcludesOneDeployer(t *testing.T) {
	env := newTestEnv(t, 2, 50_000)
	// Corrupt the first deployer's miner record.
	authority := addrWithByte(0x10)
	miner := DeriveMinerAddress(env.cfg.Program, authority)
	env.fl.accounts[miner].Data = []byte{0xFF, 0x00}

	summary, err := env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Admitted)
	require.Equal(t, 1, summary.SkipReasons[ReasonDecodeError])
}

func TestRunCyclePaused(t *testing.T) {
	env := newTestEnv(t, 1, 50_000)
	env.sched.Pause()
	summary, err := env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.Admitted)
	require.Empty(t, env.fl.submitted)

	env.sched.Resume()
	summary, err = env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Admitted)
}

func TestRunCycleMissingAuthorityAccount(t *testing.T) {
	env := newTestEnv(t, 2, 50_000)
	delete(env.fl.accounts, addrWithByte(0x10))

	summary, err := env.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Admitted)
	require.Equal(t, 1, summary.SkipReasons[ReasonDataUnavailable])
}

func TestRunDrivesCyclesThroughInjectedSleep(t *testing.T) {
	env := newTestEnv(t, 1, 50_000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleeps := 0
	env.sched.sleep = func(ctx context.Context, d time.Duration) error {
		require.Equal(t, env.cfg.PollInterval, d)
		sleeps++
		if sleeps > 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	require.NoError(t, env.sched.Run(ctx))
	require.Equal(t, 4, sleeps)
	require.Len(t, env.fl.submitted, 1) // admitted once, then already-deployed
}

func TestDeployersReturnsDetachedCopies(t *testing.T) {
	env := newTestEnv(t, 1, 50_000)
	pool := env.sched.Deployers()
	require.Len(t, pool, 1)
	pool[0].CachedBalance = 999

	require.Zero(t, env.sched.Deployers()[0].CachedBalance)
}

// Hammers the admin read surface from a second goroutine while the loop runs
// full cycles, including a lookup-table extension. Meaningful under -race.
func TestAdminReadsConcurrentWithCycles(t *testing.T) {
	env := newTestEnv(t, 3, 50_000)
	table := addrWithByte(0xCC)
	env.fl.accounts[table] = tableAccount(table)
	require.NoError(t, env.sched.Lookup().Load(context.Background(), table))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			status := env.sched.Status()
			_ = status.CapacityCeiling
			_ = status.TableKnown
			for _, dep := range env.sched.Deployers() {
				_ = dep.CachedBalance
			}
		}
	}()

	for i := 0; i < 25; i++ {
		_, err := env.sched.RunCycle(context.Background())
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	require.True(t, env.sched.Status().TableLoaded)
	require.NotZero(t, env.sched.Status().TableKnown)
}

func TestBootstrapFiltersForeignOwners(t *testing.T) {
	env := newTestEnv(t, 2, 50_000)
	foreign := addrWithByte(0x77)
	env.fl.programAccounts = append(env.fl.programAccounts, &ledger.AccountInfo{
		Address: addrWithByte(0x78),
		Data: codec.EncodeDeployer(&codec.DeployerRecord{
			Authority: foreign,
			OwnerKey:  foreign, // not ours
		}),
	})
	sched, err := New(env.cfg, env.fl, env.signer)
	require.NoError(t, err)
	require.NoError(t, sched.Bootstrap(context.Background()))
	require.Len(t, sched.Deployers(), 2)
}
