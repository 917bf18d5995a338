package scheduler

import "time"

const (
	DefaultLimit    = 10 * time.Millisecond
	DefaultMinSlice = time.Millisecond

	// The number of skipped units between two clock reads.
	SkipStride = 32
)

// Budget is the time a scheduler tick may spend running tasks.
type Budget struct {
	clock     Clock
	start     time.Time
	limit     time.Duration
	minSlice  time.Duration
	chunkSize int
	items     int
}

// NewBudget starts a budget at the current clock time.
func NewBudget(clock Clock, limit time.Duration, minSlice time.Duration, chunkSize int) *Budget {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Budget{
		clock:     clock,
		start:     clock.Now(),
		limit:     limit,
		minSlice:  minSlice,
		chunkSize: chunkSize,
	}
}

func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.start)
}

func (b *Budget) Exhausted() bool {
	return b.Elapsed() >= b.limit
}

// Items returns the number of work units done under the budget.
func (b *Budget) Items() int {
	return b.items
}

// Slice hands a share of the budget to one task step.
func (b *Budget) Slice() *Slice {
	return &Slice{
		budget: b,
		start:  b.clock.Now(),
	}
}

// Slice is the part of a budget given to one task step.
type Slice struct {
	budget *Budget
	start   time.Time
	items   int
	skipped int
}

// Done records one unit of work and reports whether the task must suspend.
// A task suspends when the tick budget is spent, or when a chunk of work ran
// for at least the minimum slice duration.
func (s *Slice) Done() bool {
	s.items++
	s.budget.items++

	now := s.budget.clock.Now()
	if now.Sub(s.budget.start) >= s.budget.limit {
		return true
	}

	return s.budget.chunkSize > 0 &&
		s.items >= s.budget.chunkSize &&
		now.Sub(s.start) >= s.budget.minSlice
}

// Skip records a unit that needed no work and reports whether the task must
// suspend. Skipped units are not counted as items and only check the tick
// budget every SkipStride units.
func (s *Slice) Skip() bool {
	s.skipped++
	if s.skipped%SkipStride != 0 {
		return false
	}
	return s.budget.clock.Now().Sub(s.budget.start) >= s.budget.limit
}

func (s *Slice) Skipped() int {
	return s.skipped
}

func (s *Slice) Items() int {
	return s.items
}

// Elapsed returns the time spent in the slice.
func (s *Slice) Elapsed() time.Duration {
	return s.budget.clock.Now().Sub(s.start)
}
