package scheduler

import (
	"context"
	"fmt"

	"griddeployer/codec"
	"griddeployer/ledger"
)

// Phase is the normalized state of the shared round.
type Phase string

const (
	PhaseWaiting       Phase = "waiting"
	PhaseActive        Phase = "active"
	PhaseIntermission  Phase = "intermission"
	PhaseAwaitingReset Phase = "awaiting_reset"
)

// RoundState is the monitor's per-poll snapshot. Reset is true the first
// time a new round id is observed; consumers clear per-round tracking on it.
type RoundState struct {
	RoundID        uint64
	Phase          Phase
	CurrentSlot    uint64
	SlotsRemaining uint64
	Reset          bool
}

// RoundMonitor polls the board account and derives the round phase.
type RoundMonitor struct {
	reader             ledger.Reader
	boardAddress       ledger.Address
	intermissionWindow uint64

	seeded    bool
	lastRound uint64
}

// NewRoundMonitor constructs a monitor for the supplied board account.
func NewRoundMonitor(reader ledger.Reader, board ledger.Address, intermissionWindow uint64) *RoundMonitor {
	return &RoundMonitor{
		reader:             reader,
		boardAddress:       board,
		intermissionWindow: intermissionWindow,
	}
}

// Poll reads the current slot and board record. Transport failures surface
// as ledger.ErrUnavailable so the caller skips the cycle.
func (m *RoundMonitor) Poll(ctx context.Context) (RoundState, error) {
	slot, err := m.reader.GetSlot(ctx)
	if err != nil {
		return RoundState{}, fmt.Errorf("poll slot: %w", err)
	}
	account, err := m.reader.GetAccount(ctx, m.boardAddress)
	if err != nil {
		return RoundState{}, fmt.Errorf("poll board: %w", err)
	}
	if account == nil {
		return RoundState{}, fmt.Errorf("%w: board account %s missing", ledger.ErrUnavailable, m.boardAddress)
	}
	board, err := codec.DecodeBoard(account.Data)
	if err != nil {
		return RoundState{}, fmt.Errorf("poll board: %w", err)
	}

	state := RoundState{
		RoundID:     board.RoundID,
		CurrentSlot: slot,
		Phase:       classifyPhase(slot, board.EndSlot, m.intermissionWindow),
	}
	if state.Phase == PhaseActive && board.EndSlot >= slot {
		state.SlotsRemaining = board.EndSlot - slot
	}
	if !m.seeded || board.RoundID != m.lastRound {
		state.Reset = m.seeded
		m.seeded = true
		m.lastRound = board.RoundID
	}
	return state, nil
}

func classifyPhase(slot, endSlot, intermissionWindow uint64) Phase {
	switch {
	case endSlot == codec.UnboundedEndSlot:
		return PhaseWaiting
	case slot <= endSlot:
		return PhaseActive
	case slot-endSlot <= intermissionWindow:
		return PhaseIntermission
	default:
		return PhaseAwaitingReset
	}
}
