package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *Cursor) []int {
	var units []int
	for {
		u, ok := c.Next()
		if !ok {
			return units
		}
		units = append(units, u)
	}
}

func TestPartitionRoundRobin(t *testing.T) {
	cursors := Partition(7, 3)
	require.Len(t, cursors, 3)

	assert.Equal(t, []int{1, 4, 7}, drain(cursors[0]))
	assert.Equal(t, []int{2, 5}, drain(cursors[1]))
	assert.Equal(t, []int{3, 6}, drain(cursors[2]))
}

func TestPartitionCoversUnitsExactlyOnce(t *testing.T) {
	for _, tc := range []struct{ units, workers int }{
		{0, 1}, {1, 1}, {3, 2}, {10, 3}, {5, 8}, {100, 7},
	} {
		seen := make(map[int]int)
		for _, c := range Partition(tc.units, tc.workers) {
			for _, u := range drain(c) {
				seen[u]++
			}
		}

		require.Len(t, seen, tc.units, "units=%d workers=%d", tc.units, tc.workers)
		for u := 1; u <= tc.units; u++ {
			assert.Equal(t, 1, seen[u], "unit %d (units=%d workers=%d)", u, tc.units, tc.workers)
		}
	}
}

func TestPartitionZeroUnits(t *testing.T) {
	cursors := Partition(0, 4)
	for _, c := range cursors {
		_, ok := c.Next()
		assert.False(t, ok)
		assert.Equal(t, 0, c.Remaining())
	}
}

func TestPartitionClampsWorkerCount(t *testing.T) {
	cursors := Partition(3, 0)
	require.Len(t, cursors, 1)
	assert.Equal(t, []int{1, 2, 3}, drain(cursors[0]))
}

func TestCursorRemaining(t *testing.T) {
	c := Partition(10, 3)[0] // owns 1, 4, 7, 10
	assert.Equal(t, 4, c.Remaining())

	c.Next()
	assert.Equal(t, 3, c.Remaining())

	drain(c)
	assert.Equal(t, 0, c.Remaining())
}

func TestWorkerID(t *testing.T) {
	cursors := Partition(5, 2)
	assert.Equal(t, 1, cursors[0].WorkerID())
	assert.Equal(t, 2, cursors[1].WorkerID())
}
