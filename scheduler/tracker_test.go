package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerMarkAndQuery(t *testing.T) {
	tracker := NewMemoryTracker()
	a := addrWithByte(0x01)
	b := addrWithByte(0x02)

	require.False(t, tracker.Submitted(a, 7))
	tracker.MarkSubmitted(a, 7)
	require.True(t, tracker.Submitted(a, 7))
	require.False(t, tracker.Submitted(a, 8))
	require.False(t, tracker.Submitted(b, 7))
}

func TestMemoryTrackerRoundChange(t *testing.T) {
	tracker := NewMemoryTracker()
	a := addrWithByte(0x01)
	b := addrWithByte(0x02)
	tracker.MarkSubmitted(a, 7)
	tracker.MarkSubmitted(b, 7)
	tracker.MarkSubmitted(b, 8)

	tracker.OnRoundChange(8)
	require.False(t, tracker.Submitted(a, 7), "previous round entries cleared")
	require.False(t, tracker.Submitted(b, 7))
	require.True(t, tracker.Submitted(b, 8), "current round entries survive")
}
