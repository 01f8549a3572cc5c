package program

import "errors"

// ErrComputeBudgetExceeded is returned when a transaction exhausts its
// compute unit allowance.
var ErrComputeBudgetExceeded = errors.New("compute budget exceeded")

// DefaultComputeUnits is the per-transaction compute allowance when no
// compute-budget instruction overrides it.
const DefaultComputeUnits = uint64(1_400_000)

// Meter tracks compute unit consumption for a single transaction.
// Execution is single-threaded, so no synchronization is needed.
type Meter struct {
	limit     uint64
	remaining uint64
}

// NewMeter creates a meter with the given unit limit.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit, remaining: limit}
}

// Consume debits units from the budget. Once the budget is exhausted the
// meter stays pinned at zero and every further call fails.
func (m *Meter) Consume(units uint64) error {
	if units > m.remaining {
		m.remaining = 0
		return ErrComputeBudgetExceeded
	}
	m.remaining -= units
	return nil
}

// Remaining returns the unconsumed units.
func (m *Meter) Remaining() uint64 {
	return m.remaining
}

// Consumed returns the units spent so far.
func (m *Meter) Consumed() uint64 {
	return m.limit - m.remaining
}

// Limit returns the budget the meter started with.
func (m *Meter) Limit() uint64 {
	return m.limit
}
