package arena

import "sync/atomic"

// PerCPU is one CPU's claim on the arena: a lock-free cursor (next) into
// its current traceblock and the boundary (limit) at which that block
// is exhausted, mirroring kutrace_traceblock from the original module's
// get_claim/get_slow_claim pair. All fields are atomics so a reader on
// one goroutine and the rotating allocator on another never race, even
// though in steady state only the owning CPU ever advances next.
type PerCPU struct {
	next  atomic.Uint64 // word index of the next free slot
	limit atomic.Uint64 // word index one past this block's last usable slot
}

// fastResult is the outcome of one reserveFast attempt.
type fastResult int

const (
	fastClaimed  fastResult = iota // start/end is a valid reservation
	fastRetry                      // a block rotation raced us; try again
	fastOverflow                   // claim genuinely doesn't fit; go slow
)

// reserveFast attempts the lock-free fast path: atomically advance next
// by length words and check the claim still lands inside the current
// limit, rechecking limit before and after the advance to detect a
// block rotation raced in by another allocation.
func (p *PerCPU) reserveFast(length uint64) (start uint64, result fastResult) {
	limitBefore := p.limit.Load()
	if limitBefore == 0 {
		return 0, fastOverflow
	}
	end := p.next.Add(length)
	start = end - length
	limitAfter := p.limit.Load()
	if limitBefore == limitAfter {
		if end <= limitAfter {
			return start, fastClaimed
		}
		return 0, fastOverflow
	}
	// A block rotation happened concurrently. If our claim landed
	// inside the freshly published block, it is still good; otherwise
	// it fell at the tail of the old block and must be abandoned.
	if limitAfter >= BlockWords && start >= limitAfter-BlockWords && end <= limitAfter {
		return start, fastClaimed
	}
	return 0, fastRetry
}

// publish installs a freshly allocated block's bounds for this CPU,
// already reserving the first `length` words for the caller that
// triggered the rotation. entriesStart is the first word past the
// block's header/PID/name fields, not the block's own base address.
func (p *PerCPU) publish(entriesStart, blockLimit, length uint64) (start uint64) {
	p.next.Store(entriesStart + length)
	p.limit.Store(blockLimit)
	return entriesStart
}

// priorEntry returns the word index of the previously committed entry
// on this CPU, for fold matching, or ok=false if this CPU has never
// claimed a block or its current block is full (including after FLUSH).
func (p *PerCPU) priorEntry() (index uint64, ok bool) {
	next := p.next.Load()
	limit := p.limit.Load()
	if limit == 0 || next >= limit {
		return 0, false
	}
	return next - 1, true
}

// bounds returns this CPU's current [next, limit) range, or ok=false if
// it has never claimed a block.
func (p *PerCPU) bounds() (next, limit uint64, ok bool) {
	next = p.next.Load()
	limit = p.limit.Load()
	if limit == 0 {
		return 0, 0, false
	}
	return next, limit, true
}

// advanceToLimit marks this CPU's current block as fully consumed,
// matching do_flush's atomic64_set(tb->next, limit_item).
func (p *PerCPU) advanceToLimit() {
	limit := p.limit.Load()
	if limit != 0 {
		p.next.Store(limit)
	}
}
