// Package retention deletes aged live and archive rows under a run budget,
// prunes exported cold files, and estimates storage use.
package retention

import (
	"math"
	"sync"
	"time"
)

// Budget bounds the work of one scheduled invocation by rows and by
// wall-clock time. A zero limit disables that bound.
//
// Budget is safe for concurrent use.
type Budget struct {
	mu sync.Mutex

	maxRows     int64
	maxDuration time.Duration
	started     time.Time
	spent       int64

	now func() time.Time
}

// NewBudget creates a budget whose clock starts now.
func NewBudget(maxRows int64, maxDuration time.Duration) *Budget {
	return newBudgetAt(maxRows, maxDuration, time.Now)
}

func newBudgetAt(maxRows int64, maxDuration time.Duration, now func() time.Time) *Budget {
	return &Budget{
		maxRows:     maxRows,
		maxDuration: maxDuration,
		started:     now(),
		now:         now,
	}
}

// Spend records n processed rows.
func (b *Budget) Spend(n int64) {
	b.mu.Lock()
	b.spent += n
	b.mu.Unlock()
}

// Spent returns the rows recorded so far.
func (b *Budget) Spent() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Remaining returns how many more rows may be processed.
func (b *Budget) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxRows <= 0 {
		return math.MaxInt64
	}
	return max(b.maxRows-b.spent, 0)
}

// Elapsed returns the time since the budget was created.
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.started)
}

// Exhausted reports whether either bound has been reached.
func (b *Budget) Exhausted() bool {
	if b.Remaining() == 0 {
		return true
	}
	return b.maxDuration > 0 && b.Elapsed() >= b.maxDuration
}

// BatchLimit caps batchSize by the remaining rows.
func (b *Budget) BatchLimit(batchSize int) int {
	remaining := b.Remaining()
	if batchSize <= 0 || int64(batchSize) > remaining {
		if remaining > math.MaxInt32 {
			return math.MaxInt32
		}
		return int(remaining)
	}
	return batchSize
}
