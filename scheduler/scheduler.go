package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"griddeployer/codec"
	"griddeployer/ledger"
	"griddeployer/observability"
)

// Config carries the scheduler's startup parameters. Validation failures are
// fatal; everything after startup is skip-and-continue.
type Config struct {
	Program      ledger.Address
	Board        ledger.Address
	TableAddress ledger.Address

	AmountPerSquare uint64
	SquaresMask     uint32
	PriorityFee     uint64

	PollInterval         time.Duration
	DeployThresholdSlots uint64
	MinSlotsToAttempt    uint64
	IntermissionWindow   uint64

	Reserve ReserveParams
}

// Validate rejects configurations the loop cannot safely run with.
func (c Config) Validate() error {
	if c.Program.IsZero() {
		return fmt.Errorf("grid program address must be configured")
	}
	if c.Board.IsZero() {
		return fmt.Errorf("board address must be configured")
	}
	if c.AmountPerSquare == 0 {
		return fmt.Errorf("amount per square must be positive")
	}
	if c.SquaresMask == 0 || c.SquaresMask&^squaresMaskAll != 0 {
		return fmt.Errorf("squares mask must select between 1 and %d squares", codec.SquareCount)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

// CycleSummary is the user-visible outcome of one cycle. CycleID correlates
// the summary with the per-batch log lines it aggregates.
type CycleSummary struct {
	CycleID        string             `json:"cycle_id"`
	RoundID        uint64             `json:"round_id"`
	Phase          Phase              `json:"phase"`
	SlotsRemaining uint64             `json:"slots_remaining"`
	Admitted       int                `json:"admitted"`
	CheckpointOnly int                `json:"checkpoint_only"`
	Skipped        int                `json:"skipped"`
	Submitted      int                `json:"submitted"`
	Failed         int                `json:"failed"`
	SkipReasons    map[SkipReason]int `json:"skip_reasons,omitempty"`
}

// Scheduler owns all working state for one deployer pool: the discovered
// deployers, balance cache, completion tracker, and lookup-table cache. No
// hidden globals; independent instances coexist under test.
type Scheduler struct {
	cfg     Config
	reader  ledger.Reader
	signer  *ledger.Signer
	log     *slog.Logger
	metrics *observability.DeployerdMetrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	monitor   *RoundMonitor
	calc      *BalanceCalculator
	admission *AdmissionController
	tracker   CompletionTracker
	lookup    *LookupTableManager
	batcher   *BatchBuilder
	submitter *TransactionSubmitter

	deployers []*Deployer

	mu        sync.Mutex
	paused    bool
	lastCycle *CycleSummary
}

// Option customises a Scheduler instance.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithClock sets the time source, letting tests run without real sleeps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.DeployerdMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracker substitutes the completion tracker implementation.
func WithTracker(t CompletionTracker) Option {
	return func(s *Scheduler) { s.tracker = t }
}

// New constructs a scheduler over the supplied ledger reader and operator
// key. The configuration is validated here; a bad one is fatal.
func New(cfg Config, reader ledger.Reader, signer *ledger.Signer, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	if reader == nil {
		return nil, fmt.Errorf("scheduler config: ledger reader required")
	}
	if signer == nil {
		return nil, fmt.Errorf("scheduler config: signer required")
	}
	s := &Scheduler{
		cfg:     cfg,
		reader:  reader,
		signer:  signer,
		log:     slog.Default(),
		metrics: observability.Deployerd(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = NewMemoryTracker()
	}
	s.monitor = NewRoundMonitor(reader, cfg.Board, cfg.IntermissionWindow)
	s.calc = NewBalanceCalculator(cfg.Reserve)
	s.admission = NewAdmissionController(s.calc, s.tracker)
	s.submitter = NewTransactionSubmitter(reader, signer, s.log)
	s.lookup = NewLookupTableManager(reader, s.submitter, s.log)
	s.batcher = NewBatchBuilder(cfg.Program, cfg.Board, signer.Address(), cfg.PriorityFee)
	return s, nil
}

// Lookup exposes the lookup-table manager for one-shot tooling.
func (s *Scheduler) Lookup() *LookupTableManager {
	return s.lookup
}

// Deployers returns a snapshot of the discovered pool in evaluation order.
// The entries are copies; the loop keeps rewriting the live cached balances.
func (s *Scheduler) Deployers() []Deployer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Deployer, len(s.deployers))
	for i, dep := range s.deployers {
		out[i] = *dep
	}
	return out
}

// Bootstrap discovers the deployer pool with a tag-filtered program scan,
// keeping only records whose owner key matches the operator, and loads the
// acceleration index when one is configured. Deployers are never removed
// afterwards for the process lifetime.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	accounts, err := s.reader.GetProgramAccounts(ctx, ledger.ProgramFilter{
		Program: s.cfg.Program,
		Tag:     codec.TagDeployer,
	})
	if err != nil {
		return fmt.Errorf("discover deployers: %w", err)
	}
	operator := s.signer.Address()
	for _, account := range accounts {
		record, err := codec.DecodeDeployer(account.Data)
		if err != nil {
			s.log.Warn("skipping malformed deployer record", "account", account.Address.String(), "err", err)
			continue
		}
		if record.OwnerKey != operator {
			continue
		}
		s.deployers = append(s.deployers, &Deployer{
			Address:        account.Address,
			Authority:      record.Authority,
			OwnerKey:       record.OwnerKey,
			FeeBasisPoints: record.FeeBasisPoints,
			FlatFee:        record.FlatFee,
			MinerAddress:   DeriveMinerAddress(s.cfg.Program, record.Authority),
			VaultAddress:   DeriveVaultAddress(s.cfg.Program, record.Authority),
		})
	}
	sort.Slice(s.deployers, func(i, j int) bool {
		return s.deployers[i].Address.Less(s.deployers[j].Address)
	})
	s.log.Info("deployer pool discovered", "count", len(s.deployers))

	if !s.cfg.TableAddress.IsZero() {
		if err := s.lookup.Load(ctx, s.cfg.TableAddress); err != nil {
			// Unloaded is a valid terminal state; run with the smaller ceiling.
			s.log.Warn("acceleration index unavailable, running unloaded", "table", s.cfg.TableAddress.String(), "err", err)
		} else {
			s.metrics.RecordTableSize(len(s.lookup.KnownAddresses()))
		}
	}
	return nil
}

// Run executes cycles on the configured interval until the context is
// cancelled. In-flight work finishes; no new cycle starts after cancellation.
// The wait between cycles goes through the injectable sleep so tests drive
// the loop without real time.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return nil
		}
		summary, err := s.RunCycle(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.Warn("cycle skipped", "cycle_id", summary.CycleID, "err", err)
		}
	}
}

// RunCycle executes one full evaluation cycle. Transient ledger failures
// return an error and leave all per-round state untouched; per-deployer and
// per-batch failures are absorbed into the summary.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleSummary, error) {
	summary := CycleSummary{CycleID: uuid.NewString(), SkipReasons: map[SkipReason]int{}}
	start := s.now()
	defer func() {
		s.metrics.ObserveCycle(string(summary.Phase), s.now().Sub(start))
		s.setLastCycle(summary)
	}()

	if s.isPaused() {
		return summary, nil
	}

	state, err := s.monitor.Poll(ctx)
	if err != nil {
		return summary, err
	}
	summary.RoundID = state.RoundID
	summary.Phase = state.Phase
	summary.SlotsRemaining = state.SlotsRemaining
	if state.Reset {
		s.tracker.OnRoundChange(state.RoundID)
		s.log.Info("round changed", "cycle_id", summary.CycleID, "round", state.RoundID)
	}
	if state.Phase != PhaseActive {
		return summary, nil
	}
	if s.cfg.DeployThresholdSlots > 0 && state.SlotsRemaining > s.cfg.DeployThresholdSlots {
		return summary, nil
	}
	if state.SlotsRemaining < s.cfg.MinSlotsToAttempt {
		return summary, nil
	}

	candidates, skips, err := s.gatherCandidates(ctx)
	if err != nil {
		return summary, err
	}
	result := s.admission.Evaluate(candidates, state.RoundID, s.cfg.AmountPerSquare, s.cfg.SquaresMask)
	result.Skipped = append(result.Skipped, skips...)

	summary.Admitted = len(result.ToDeploy)
	summary.CheckpointOnly = len(result.ToCheckpointOnly)
	summary.Skipped = len(result.Skipped)
	for _, skip := range result.Skipped {
		summary.SkipReasons[skip.Reason]++
		s.metrics.RecordSkip(string(skip.Reason))
	}
	s.metrics.RecordAdmitted(summary.Admitted)

	// The ceiling is fixed for the whole cycle; a failed extension narrows
	// nothing, missing addresses are simply embedded in full.
	ceiling := s.lookup.CapacityCeiling()
	if s.lookup.Loaded() && len(result.ToDeploy) > 0 {
		missing := s.lookup.MissingAddresses(s.batcher.MemberAddresses(result.ToDeploy))
		if len(missing) > 0 {
			if err := s.lookup.Extend(ctx, missing); err != nil {
				s.log.Warn("lookup table extension incomplete", "cycle_id", summary.CycleID, "missing", len(missing), "err", err)
			}
			s.metrics.RecordTableSize(len(s.lookup.KnownAddresses()))
		}
	}

	batches := s.batcher.Build(result, ceiling, state.CurrentSlot, s.lookup.TableRef())
	for i, batch := range batches {
		sig, err := s.submitter.Submit(ctx, batch.Tx)
		if err != nil {
			summary.Failed++
			s.metrics.RecordBatch("failed")
			s.log.Error("batch rejected", "cycle_id", summary.CycleID, "batch", i, "members", len(batch.Deployed), "err", err)
			continue
		}
		summary.Submitted++
		s.metrics.RecordBatch("submitted")
		for _, addr := range batch.Deployed {
			s.tracker.MarkSubmitted(addr, state.RoundID)
		}
		s.log.Info("batch submitted", "cycle_id", summary.CycleID, "batch", i, "members", len(batch.Deployed), "signature", sig.String())
	}

	s.log.Info("cycle complete",
		"cycle_id", summary.CycleID,
		"round", summary.RoundID,
		"phase", string(summary.Phase),
		"admitted", summary.Admitted,
		"checkpoint_only", summary.CheckpointOnly,
		"skipped", summary.Skipped,
		"submitted", summary.Submitted,
		"failed", summary.Failed,
	)
	return summary, nil
}

// gatherCandidates refreshes balances and miner records with one batched
// read, producing an internally consistent snapshot for admission. A deployer
// whose authority account is absent or whose miner record fails to decode
// sits the cycle out.
func (s *Scheduler) gatherCandidates(ctx context.Context) ([]Candidate, []Skip, error) {
	if len(s.deployers) == 0 {
		return nil, nil, nil
	}
	addrs := make([]ledger.Address, 0, len(s.deployers)*3)
	for _, dep := range s.deployers {
		addrs = append(addrs, dep.Authority, dep.VaultAddress, dep.MinerAddress)
	}
	infos, err := s.reader.GetAccounts(ctx, addrs)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh balances: %w", err)
	}

	candidates := make([]Candidate, 0, len(s.deployers))
	var skips []Skip
	for i, dep := range s.deployers {
		authority := infos[i*3]
		vault := infos[i*3+1]
		miner := infos[i*3+2]

		if authority == nil {
			s.setCachedBalance(dep, 0)
			skips = append(skips, Skip{Address: dep.Address, Reason: ReasonDataUnavailable})
			s.log.Warn("authority account missing", "deployer", dep.Address.String(), "authority", dep.Authority.String())
			continue
		}
		s.setCachedBalance(dep, authority.Balance)
		s.metrics.RecordBalance(dep.Address.String(), authority.Balance)

		cand := Candidate{Deployer: dep}
		if vault != nil {
			cand.VaultBalance = vault.Balance
		}
		if miner != nil {
			record, err := codec.DecodeMiner(miner.Data)
			if err != nil {
				skips = append(skips, Skip{Address: dep.Address, Reason: ReasonDecodeError})
				s.log.Warn("miner record undecodable", "deployer", dep.Address.String(), "err", err)
				continue
			}
			cand.Miner = record
		}
		candidates = append(candidates, cand)
	}
	return candidates, skips, nil
}

// Pause halts new cycles; the current one finishes.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables cycle execution.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// setCachedBalance updates a deployer's balance under the mutex so admin
// snapshots taken mid-cycle never race the loop.
func (s *Scheduler) setCachedBalance(dep *Deployer, balance uint64) {
	s.mu.Lock()
	dep.CachedBalance = balance
	s.mu.Unlock()
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) setLastCycle(summary CycleSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycle = &summary
}

// Status summarises scheduler state for the admin surface.
type Status struct {
	Paused          bool          `json:"paused"`
	Deployers       int           `json:"deployers"`
	CapacityCeiling int           `json:"capacity_ceiling"`
	TableLoaded     bool          `json:"table_loaded"`
	TableKnown      int           `json:"table_known"`
	LastCycle       *CycleSummary `json:"last_cycle,omitempty"`
}

// Status reports the current snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Paused:          s.paused,
		Deployers:       len(s.deployers),
		CapacityCeiling: s.lookup.CapacityCeiling(),
		TableLoaded:     s.lookup.Loaded(),
		TableKnown:      len(s.lookup.KnownAddresses()),
		LastCycle:       s.lastCycle,
	}
}
