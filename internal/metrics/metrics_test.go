package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.Increment(CounterMessagesReceived)
	c.Increment(CounterMessagesReceived)
	c.Increment(CounterReadingsWritten)

	require.Equal(t, int64(2), c.Counter(CounterMessagesReceived))
	require.Equal(t, int64(1), c.Counter(CounterReadingsWritten))
	require.Equal(t, int64(0), c.Counter(CounterAlertsFired))
}

func TestRecordDropCountsReasonAndTotal(t *testing.T) {
	c := NewCollector()

	c.RecordDrop(DropParseError)
	c.RecordDrop(DropParseError)
	c.RecordDrop(DropUnknownDevice)

	require.Equal(t, int64(3), c.Counter(CounterMessagesDropped))
	require.Equal(t, int64(2), c.Drops(DropParseError))
	require.Equal(t, int64(1), c.Drops(DropUnknownDevice))
	require.Equal(t, int64(0), c.Drops(DropQueueFull))
}

func TestSnapshotContainsCountersAndDrops(t *testing.T) {
	c := NewCollector()
	c.Increment(CounterAlertsFired)
	c.RecordDrop(DropWriteError)

	snap := c.Snapshot()

	counters, ok := snap["counters"].(map[string]int64)
	require.True(t, ok)
	require.Equal(t, int64(1), counters[CounterAlertsFired])

	drops, ok := snap["drops_by_reason"].(map[string]int64)
	require.True(t, ok)
	require.Equal(t, int64(1), drops[string(DropWriteError)])
}
