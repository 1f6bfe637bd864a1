package scheduler

import (
	"griddeployer/ledger"
)

// CompletionTracker remembers which deployers have already acted in a round.
// The in-memory implementation is process-local and marks on submission, not
// confirmation: a restart or a second scheduler sharing the deployer set can
// double-submit. That behaviour is deliberate; a shared or confirmation-gated
// implementation can be substituted behind this interface.
type CompletionTracker interface {
	Submitted(addr ledger.Address, roundID uint64) bool
	MarkSubmitted(addr ledger.Address, roundID uint64)
	OnRoundChange(roundID uint64)
}

type completionKey struct {
	addr    ledger.Address
	roundID uint64
}

// MemoryTracker is the in-process CompletionTracker. It is mutated only on
// the scheduler loop goroutine and needs no locking.
type MemoryTracker struct {
	entries map[completionKey]struct{}
}

// NewMemoryTracker constructs an empty tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{entries: make(map[completionKey]struct{})}
}

// Submitted reports whether the deployer already acted in the round.
func (t *MemoryTracker) Submitted(addr ledger.Address, roundID uint64) bool {
	_, ok := t.entries[completionKey{addr: addr, roundID: roundID}]
	return ok
}

// MarkSubmitted records the (deployer, round) pair. Called immediately after
// submission so repeated polls before confirmation cannot reselect.
func (t *MemoryTracker) MarkSubmitted(addr ledger.Address, roundID uint64) {
	t.entries[completionKey{addr: addr, roundID: roundID}] = struct{}{}
}

// OnRoundChange drops every entry that does not belong to the new round.
func (t *MemoryTracker) OnRoundChange(roundID uint64) {
	for key := range t.entries {
		if key.roundID != roundID {
			delete(t.entries, key)
		}
	}
}
