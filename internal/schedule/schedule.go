// Package schedule partitions fetch work across parallel workers without
// shared bookkeeping: worker i owns the arithmetic progression
// {i, i+N, i+2N, ...}, so the union over all workers covers every unit
// exactly once by construction.
package schedule

// Cursor walks one worker's private sequence of unit numbers. Cursors are
// independent; no synchronization is needed between workers.
type Cursor struct {
	workerID int
	next     int
	stride   int
	limit    int
}

// Partition splits units 1..totalUnits across workerCount round-robin
// cursors. Worker IDs are 1-indexed. workerCount < 1 is treated as 1.
func Partition(totalUnits, workerCount int) []*Cursor {
	if workerCount < 1 {
		workerCount = 1
	}
	cursors := make([]*Cursor, workerCount)
	for i := 0; i < workerCount; i++ {
		cursors[i] = &Cursor{
			workerID: i + 1,
			next:     i + 1,
			stride:   workerCount,
			limit:    totalUnits,
		}
	}
	return cursors
}

// WorkerID returns the 1-indexed worker this cursor belongs to.
func (c *Cursor) WorkerID() int { return c.workerID }

// Next returns the worker's next unit. ok is false once the cursor is
// exhausted.
func (c *Cursor) Next() (unit int, ok bool) {
	if c.next > c.limit {
		return 0, false
	}
	unit = c.next
	c.next += c.stride
	return unit, true
}

// Remaining returns how many units the cursor has left.
func (c *Cursor) Remaining() int {
	if c.next > c.limit {
		return 0
	}
	return (c.limit-c.next)/c.stride + 1
}
