package litebank

import (
	"github.com/fortiblox/X1-Litebank/internal/types"
)

// TransactionResult is the metadata recorded for one processed
// transaction.
type TransactionResult struct {
	// Signature identifies the transaction.
	Signature types.Signature

	// Slot is the slot the transaction was processed in.
	Slot uint64

	// Err is nil on success. A non-nil Err with a history entry means the
	// transaction executed, failed and was rolled back (fee aside).
	Err *TransactionError

	// Logs holds the accumulated program log lines.
	Logs []string

	// ComputeUnitsConsumed is the total compute spent.
	ComputeUnitsConsumed uint64

	// ReturnData is the last return data set during execution.
	ReturnData []byte

	// FeeCharged is the fee actually deducted from the payer.
	FeeCharged uint64
}

// clone returns a copy whose slices do not alias the recorded entry, so
// callers cannot mutate history through a returned result.
func (r *TransactionResult) clone() *TransactionResult {
	out := *r
	if r.Logs != nil {
		out.Logs = append([]string(nil), r.Logs...)
	}
	if r.ReturnData != nil {
		out.ReturnData = append([]byte(nil), r.ReturnData...)
	}
	return &out
}

// history records processed transactions by signature. When a capacity is
// set the oldest entries are evicted first. Processing the same signature
// again is blocked by the replay check while the entry remains.
type history struct {
	capacity int
	entries  map[types.Signature]*TransactionResult
	order    []types.Signature
}

func newHistory(capacity int) *history {
	return &history{
		capacity: capacity,
		entries:  make(map[types.Signature]*TransactionResult),
	}
}

func (h *history) record(result *TransactionResult) {
	if _, exists := h.entries[result.Signature]; !exists {
		h.order = append(h.order, result.Signature)
	}
	h.entries[result.Signature] = result

	if h.capacity > 0 {
		for len(h.order) > h.capacity {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.entries, oldest)
		}
	}
}

func (h *history) get(sig types.Signature) (*TransactionResult, bool) {
	result, ok := h.entries[sig]
	return result, ok
}

func (h *history) contains(sig types.Signature) bool {
	_, ok := h.entries[sig]
	return ok
}

func (h *history) len() int {
	return len(h.entries)
}
