package engine

import "github.com/kutrace/kutrace/wire"

// Trace1 records one single-word entry for event/arg on cpu, attempting
// the call/return fold when event is itself a return-class code and
// arg fits the signed-byte retval range; the Go analogue of
// kutrace_mod.c's trace_1. Returns the number of words written (0 if
// tracing is off, folded into a prior word, or the arena is full).
func (e *Engine) Trace1(cpu int, event, arg uint64) uint64 {
	if !e.arena.TracingOn() {
		return 0
	}
	if event&wire.EventReturnBit != 0 && wire.HasReturn(event) && wire.FitsSignedByte(arg) {
		return e.insert1RetOpt(cpu, event, arg)
	}
	return e.insert1(cpu, event, arg)
}

// Trace2 records a two-word entry: a Single1-shaped first word carrying
// event/arg1, and a raw second word carrying arg2 verbatim (used by
// double-word specials like PC_USER that need a full 64-bit payload).
func (e *Engine) Trace2(cpu int, event, arg1, arg2 uint64) uint64 {
	if !e.arena.TracingOn() {
		return 0
	}
	return e.insert2(cpu, event, arg1, arg2)
}

// TraceMany records a variable-length entry whose first word already
// carries its event-with-length code in words[0]'s event field and
// whose remaining words[1:] are raw payload, the Go analogue of
// trace_many/insert_n_krnl. Returns the number of words written.
func (e *Engine) TraceMany(cpu int, words []uint64) uint64 {
	if !e.arena.TracingOn() {
		return 0
	}
	return e.insertNKernel(cpu, words)
}

// reserveWithTSDelta claims space for a length-word entry on cpu,
// prefixing it with a TSDELTA preamble word when the gap since the
// CPU's previous entry is large enough to be mistaken for backward time
// on replay, matching get_claim_with_tsdelta. It returns the index of
// the entry itself (past any preamble) and the deltaCycles value to
// feed into the IPC sampler, which must use the same delta_cycles the
// TSDELTA check used.
func (e *Engine) reserveWithTSDelta(cpu int, now, length uint64) (entryStart uint64, deltaCycles uint64, ok bool) {
	deltaCycles, firstEver := e.deltaCyclesAndAdvance(cpu, now)
	needsPreamble := !firstEver && wire.NeedsTSDelta(deltaCycles)
	claimLen := length
	if needsPreamble {
		claimLen++
	}
	start, reserved := e.arena.Reserve(cpu, claimLen)
	if !reserved {
		return 0, deltaCycles, false
	}
	entryStart = start
	if needsPreamble {
		e.arena.Words()[start] = wire.TSDelta(uint32(now), uint32(deltaCycles))
		entryStart = start + 1
	}
	return entryStart, deltaCycles, true
}

// insert1 builds and commits a single-word entry unconditionally
// (tracing-on is the caller's responsibility), matching insert_1. The
// INSERT1 control-surface command goes through insert1Raw instead, which
// likewise never attempts Trace1's fold.
func (e *Engine) insert1(cpu int, event, arg uint64) uint64 {
	now := e.nowCyclesForCPU(cpu)
	start, deltaCycles, ok := e.reserveWithTSDelta(cpu, now, 1)
	if !ok {
		return 0
	}
	e.arena.Words()[start] = wire.Single1(uint32(now), event, arg)
	if e.ipcEnabled() {
		if bucket, ok := e.sampleIPC(cpu, deltaCycles); ok {
			e.writeIPCByte(start, bucket, false)
		}
	}
	return 1
}

// insert1Raw commits a single word whose event/delta/retval/arg0 fields
// are already packed by the caller (the control surface's INSERT1
// command passes its arg through exactly this way); only the timestamp
// is filled in here, matching insert_1(arg1) called directly from
// kutrace_control.
func (e *Engine) insert1Raw(cpu int, packed uint64) uint64 {
	now := e.nowCyclesForCPU(cpu)
	start, deltaCycles, ok := e.reserveWithTSDelta(cpu, now, 1)
	if !ok {
		return 0
	}
	e.arena.Words()[start] = packed | (uint64(uint32(now))&wire.TimestampMask)<<wire.TimestampShift
	if e.ipcEnabled() {
		if bucket, ok := e.sampleIPC(cpu, deltaCycles); ok {
			e.writeIPCByte(start, bucket, false)
		}
	}
	return 1
}

// insert1RetOpt attempts to fold a return event into the previously
// committed word on this CPU, falling back to insert1 when the prior
// word isn't a matching call or the fold otherwise doesn't fit,
// matching insert_1_retopt.
func (e *Engine) insert1RetOpt(cpu int, retEvent, arg uint64) uint64 {
	now := e.nowCyclesForCPU(cpu)
	if priorIdx, ok := e.arena.PriorEntry(cpu); ok {
		prior := e.arena.Words()[priorIdx]
		if folded, ok := wire.CanFold(prior, retEvent, uint32(now), arg); ok {
			e.arena.Words()[priorIdx] = folded
			if e.ipcEnabled() {
				// The fold's own Delta field is exactly the delta_t
				// do_ipc_calc is given in the original's retopt path.
				deltaCycles := uint64(wire.Unpack(folded).Delta)
				if bucket, ok := e.sampleIPC(cpu, deltaCycles); ok {
					e.writeIPCByte(priorIdx, bucket, true)
				}
			}
			return 0
		}
	}
	return e.insert1(cpu, retEvent, arg)
}

// insert2 is not given an IPC sample: the original module only samples
// IPC from insert_1/insert_1_retopt, never from insert_2 or the
// variable-length inserts.
func (e *Engine) insert2(cpu int, event, arg1, arg2 uint64) uint64 {
	now := e.nowCyclesForCPU(cpu)
	start, _, ok := e.reserveWithTSDelta(cpu, now, 2)
	if !ok {
		return 0
	}
	w := e.arena.Words()
	w[start] = wire.Single1(uint32(now), event, arg1)
	w[start+1] = arg2
	return 2
}

// insertNKernel commits a variable-length entry already formatted into
// words (words[0] carries the event-with-length code plus the first
// payload nibble field); it auto-disables tracing on a bad length,
// matching ErrBadLength's "considered memory corruption" policy.
func (e *Engine) insertNKernel(cpu int, words []uint64) uint64 {
	if len(words) == 0 {
		return 0
	}
	length := wire.EntryLen(wire.Unpack(words[0]).Event)
	if length < 1 || length > 8 || length > len(words) {
		e.arena.SetTracingOn(false)
		e.log.Warn("bad variable-length entry length, tracing auto-disabled", "len", length)
		return 0
	}
	now := e.nowCyclesForCPU(cpu)
	start, _, ok := e.reserveWithTSDelta(cpu, now, uint64(length))
	if !ok {
		return 0
	}
	w := e.arena.Words()
	w[start] = words[0] | (uint64(uint32(now))&wire.TimestampMask)<<wire.TimestampShift
	for i := 1; i < length; i++ {
		w[start+uint64(i)] = words[i]
	}
	return uint64(length)
}

// insertNUser is the INSERTN control-surface path: it first copies 8
// words from a caller-supplied source (standing in for
// raw_copy_from_user), then proceeds exactly like insertNKernel. copy
// returning false represents the original's CopyFault: no entry is
// emitted and insertNUser returns 0.
func (e *Engine) insertNUser(cpu int, copy func(dst []uint64) bool) uint64 {
	var temp [8]uint64
	if !copy(temp[:]) {
		return 0
	}
	return e.insertNKernel(cpu, temp[:])
}

// ipcEnabled reports whether the current run has DO_IPC set.
func (e *Engine) ipcEnabled() bool { return e.ipcOn }
