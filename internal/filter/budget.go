package filter

import "sync/atomic"

// AllocBudget bounds the backing-array allocations Bloom/Cuckoo make at
// construction, rehash and rebuild time. A budget of zero bytes is
// unlimited — the common case, where allocation can only fail the way
// the Go runtime itself fails (out of memory), which this tracker does
// not attempt to simulate.
//
// When a non-zero MemoryBudgetBytes is configured, reserve requests
// that would push cumulative usage past the ceiling are refused with
// AllocationFailure instead of being attempted, giving rehash/rebuild a
// deterministic, testable allocation failure mode.
//
// Exported so an owner composing several filters (the reputation
// Manager, which owns both a Bloom and a Cuckoo) can share one ceiling
// across them.
type AllocBudget struct {
	maxBytes uint64
	used     int64 // atomic
}

// NewBudget constructs an allocation budget. maxBytes == 0 means
// unlimited.
func NewBudget(maxBytes uint64) *AllocBudget {
	return &AllocBudget{maxBytes: maxBytes}
}

// reserve accounts for `bytes` of new backing-array storage. It returns
// an AllocationFailure *Error if the budget is exceeded; the caller's
// existing backing array is untouched in that case.
func (b *AllocBudget) reserve(operation string, bytes uint64) error {
	if b == nil || b.maxBytes == 0 {
		if b != nil {
			atomic.AddInt64(&b.used, int64(bytes))
		}
		return nil
	}

	for {
		current := atomic.LoadInt64(&b.used)
		next := current + int64(bytes)
		if uint64(next) > b.maxBytes {
			return newError(AllocationFailure, operation,
				"allocation would exceed configured memory budget", nil)
		}
		if atomic.CompareAndSwapInt64(&b.used, current, next) {
			return nil
		}
	}
}

// release returns `bytes` to the budget, e.g. when an old backing array
// is discarded after a successful rebuild/rehash swap.
func (b *AllocBudget) release(bytes uint64) {
	if b == nil {
		return
	}
	atomic.AddInt64(&b.used, -int64(bytes))
}

// UsedBytes reports current accounted usage.
func (b *AllocBudget) UsedBytes() uint64 {
	if b == nil {
		return 0
	}
	return uint64(atomic.LoadInt64(&b.used))
}
