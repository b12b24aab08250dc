// Package arena implements the per-CPU traceblock allocator: a single
// large buffer of 8-byte trace words, carved top-down into 64KB
// traceblocks that CPUs claim one at a time, with a lock-free fast path
// for the common case and a mutex-guarded slow path for block rotation.
// It is the Go analogue of kutrace_mod.c's get_claim/get_slow_claim and
// really_get_slow_claim.
package arena

import (
	"sync"
	"sync/atomic"

	"github.com/kutrace/kutrace/wire"
)

// BlockWords is re-exported for readability in this package's own
// arithmetic; it is identical to wire.BlockWords.
const BlockWords = wire.BlockWords

// NamePID supplies the current process's PID and name at each
// traceblock rotation; the caller's stand-in for `current->pid` /
// `current->comm`.
type NamePID func() (pid uint64, name [wire.ProcessNameBytes]byte)

// Arena owns the whole trace buffer (traceblocks, allocated top-down
// from the high end) and the IPC sidecar bytes it is paired with,
// addressed by word index per spec.md §4.4. When IPC sampling is on,
// the low 1/8 of the trace word-index space is reserved and unusable
// for traceblocks, matching spec.md §3's capacity cost; the sidecar
// bytes themselves live in a separate byte array, not in that
// reserved range.
type Arena struct {
	words []uint64 // the whole buffer
	ipc   []byte   // separate byte array, one byte per trace word, the actual IPC sidecar storage

	ipcWords  uint64 // word count reserved out of words when IPC is on (spec.md §3's low 1/8)
	ipcLimit  uint64 // word index: low bound of the trace region; 0 unless IPC is on
	high      uint64 // word index: one past the top of the trace region
	wordCount uint64 // total words in the buffer (len(words))

	mu        sync.Mutex // guards next/didWrap/wrapOn transitions below
	next      uint64     // word index: top of the next block to hand out
	didWrap   bool
	wrapOn    bool
	ipcOn     bool
	tracingOn atomic.Bool
	cpus      []PerCPU

	namePID      NamePID
	onArenaFull  func()
	nowCycles    func(cpu int) uint64
	clearFilters func()
}

// New allocates an Arena sized for megaBytes of trace words plus its
// IPC sidecar, for the given number of logical CPUs.
//
//   - namePID supplies the PID/name stamped into each new traceblock.
//   - nowCycles supplies the cycle-counter reading stamped into each new
//     traceblock's header word (typically timesource.Source.NowCycles).
//   - onArenaFull is invoked synchronously from the slow path whenever a
//     non-wrapping arena fills up and tracing auto-disables; it must not
//     block.
//   - clearFilters is invoked whenever wraparound clears accumulated
//     per-run filter state (the PID filter bitmap, owned by engine).
func New(megaBytes, numCPUs int, namePID NamePID, nowCycles func(cpu int) uint64, onArenaFull, clearFilters func()) *Arena {
	totalWords := uint64(megaBytes) * 1024 * 1024 / 8
	ipcWords := totalWords / 8

	a := &Arena{
		words:        make([]uint64, totalWords),
		ipc:          make([]byte, ipcWords*8),
		ipcWords:     ipcWords,
		high:         totalWords,
		wordCount:    totalWords,
		cpus:         make([]PerCPU, numCPUs),
		namePID:      namePID,
		nowCycles:    nowCycles,
		onArenaFull:  onArenaFull,
		clearFilters: clearFilters,
	}
	if a.nowCycles == nil {
		a.nowCycles = func(int) uint64 { return 0 }
	}
	a.next = a.high
	return a
}

// Words exposes the raw backing buffer, e.g. for GETWORD/GET4KB-style
// bulk reads from the extract package.
func (a *Arena) Words() []uint64 { return a.words }

// IPCBytes exposes the IPC sidecar byte array.
func (a *Arena) IPCBytes() []byte { return a.ipc }

// TracingOn reports whether tracing is currently enabled.
func (a *Arena) TracingOn() bool { return a.tracingOn.Load() }

// SetTracingOn enables or disables tracing.
func (a *Arena) SetTracingOn(on bool) { a.tracingOn.Store(on) }

// DidWrap reports whether the arena has wrapped around at least once
// since the last Reset.
func (a *Arena) DidWrap() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.didWrap
}

// WordCount returns the total word count of the underlying buffer.
func (a *Arena) WordCount() uint64 { return a.wordCount }

// IPCLimit returns the word index separating the IPC sidecar region
// from the trace-block region.
func (a *Arena) IPCLimit() uint64 { return a.ipcLimit }

// High returns the word index one past the top of the trace region,
// the address the very first traceblock is carved from.
func (a *Arena) High() uint64 { return a.high }

// Reset reinitializes the arena for a new trace: clears wrap state,
// rewinds every CPU's cursor to empty, and records whether IPC sampling
// and wrap mode are enabled for this run (spec.md §4.5 RESET command).
func (a *Arena) Reset(doIPC, doWrap bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wrapOn = doWrap
	a.ipcOn = doIPC
	if doIPC {
		a.ipcLimit = a.ipcWords
	} else {
		a.ipcLimit = 0
	}
	a.didWrap = false
	a.next = a.high
	for i := range a.cpus {
		a.cpus[i] = PerCPU{}
	}
}

// CPUBounds returns cpu's current [next, limit) range within the
// shared words buffer, or ok=false if it has never claimed a block.
func (a *Arena) CPUBounds(cpu int) (next, limit uint64, ok bool) {
	return a.cpus[cpu].bounds()
}

// AdvanceToLimit marks cpu's current block as fully consumed, for the
// FLUSH control command.
func (a *Arena) AdvanceToLimit(cpu int) { a.cpus[cpu].advanceToLimit() }

// FilledWords returns the number of filled trace words, top-down from
// High, matching get_count's arithmetic (traceblock_high - next, or
// traceblock_high - traceblock_limit once full or wrapped).
func (a *Arena) FilledWords() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.didWrap || a.next < a.ipcLimit {
		return a.high - a.ipcLimit
	}
	return a.high - a.next
}

// FilledBlocks returns the number of filled traceblocks, matching
// do_stat.
func (a *Arena) FilledBlocks() uint64 {
	return a.FilledWords() / BlockWords
}

// WordAt reads one trace word by linear subscript, top-down from High,
// matching get_word. ok is false if subscr is out of range.
func (a *Arena) WordAt(subscr uint64) (word uint64, ok bool) {
	if subscr >= a.FilledWords() {
		return 0, false
	}
	idx := a.topDownIndex(subscr)
	return a.words[idx], true
}

// IPCWordAt packs 8 consecutive IPC sidecar bytes (corresponding to 8
// consecutive trace words, top-down from High) into one u64, matching
// get_ipc_word. ok is false if subscr is out of range.
func (a *Arena) IPCWordAt(subscr uint64) (word uint64, ok bool) {
	filled := a.FilledWords()
	if subscr*8 >= filled {
		return 0, false
	}
	var v uint64
	for i := uint64(0); i < 8; i++ {
		ts := subscr*8 + i
		if ts >= filled {
			break
		}
		idx := a.topDownIndex(ts)
		if idx >= uint64(len(a.ipc)) {
			continue
		}
		v |= uint64(a.ipc[idx]) << (8 * i)
	}
	return v, true
}

// topDownIndex maps a linear, top-down trace-word subscript (0 = first
// word of the topmost block, the very first one allocated) to its
// absolute index in words.
func (a *Arena) topDownIndex(subscr uint64) uint64 {
	blockNum := subscr / BlockWords
	within := subscr % BlockWords
	blockBase := a.high - (blockNum+1)*BlockWords
	return blockBase + within
}

// IPCByteAt reads one IPC sidecar byte by the same top-down linear
// trace-word subscript WordAt uses (the pointer-difference mapping of
// spec.md §4.4 makes ipc[idx] and words[idx] share the same absolute
// index). ok is false if subscr is out of range or falls in a block
// whose words lie below the sidecar itself (shouldn't happen for a
// correctly sized arena).
func (a *Arena) IPCByteAt(subscr uint64) (b byte, ok bool) {
	if subscr >= a.FilledWords() {
		return 0, false
	}
	idx := a.topDownIndex(subscr)
	if idx >= uint64(len(a.ipc)) {
		return 0, false
	}
	return a.ipc[idx], true
}

// BlockStart returns the absolute word index of the i'th traceblock in
// chronological (address-descending) order; i=0 is the very first
// block ever allocated (at High-BlockWords, the one carrying the
// start/stop anchors), i=1 the next one allocated below it, and so on.
// This is the extraction protocol's walk order (spec.md §4.6, "walks
// blocks from high to low"), the same top-down block order WordAt/GETWORD
// subscripts use. ok is false if i is beyond the number of filled blocks.
func (a *Arena) BlockStart(i uint64) (addr uint64, ok bool) {
	if i >= a.FilledBlocks() {
		return 0, false
	}
	return a.high - (i+1)*BlockWords, true
}

// Reserve claims length (1..9) consecutive words in cpu's current
// traceblock, returning the word index of the first claimed slot. It
// returns ok=false if the arena is full and wrap mode is off, in which
// case tracing has already been auto-disabled.
func (a *Arena) Reserve(cpu int, length uint64) (start uint64, ok bool) {
	p := &a.cpus[cpu]
	for {
		claimed, result := p.reserveFast(length)
		switch result {
		case fastClaimed:
			return claimed, true
		case fastRetry:
			continue
		case fastOverflow:
			return a.reserveSlow(cpu, length)
		}
	}
}

// PriorEntry returns the word index of cpu's previously committed entry
// in its current block, for fold matching by the engine package.
func (a *Arena) PriorEntry(cpu int) (index uint64, ok bool) {
	return a.cpus[cpu].priorEntry()
}

// reserveSlow is the mutex-guarded block-rotation path, mirroring
// get_slow_claim/really_get_slow_claim: recheck under the lock (another
// CPU's interrupt-equivalent goroutine may have already rotated this
// CPU's block), then allocate and initialize a fresh traceblock.
func (a *Arena) reserveSlow(cpu int, length uint64) (start uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := &a.cpus[cpu]
	if claimed, result := p.reserveFast(length); result == fastClaimed {
		return claimed, true
	}

	veryFirst := a.next == a.high

	if a.next < a.ipcLimit+BlockWords {
		// No whole block is left above ipcLimit.
		if !a.wrapOn {
			a.tracingOn.Store(false)
			if a.onArenaFull != nil {
				a.onArenaFull()
			}
			return 0, false
		}
		a.didWrap = true
		a.next = a.high - 2*BlockWords
		if a.clearFilters != nil {
			a.clearFilters()
		}
	} else {
		a.next -= BlockWords
	}

	blockStart := a.next
	a.initializeBlock(blockStart, veryFirst, cpu)
	entriesStart := blockStart + uint64(wire.EntriesOffset(veryFirst))
	return p.publish(entriesStart, blockStart+BlockWords, length), true
}

// initializeBlock writes a new traceblock's header (CPU/cycles, flags,
// pid+name, trailing NOPs, and, for the very first block, six
// reserved anchor slots), matching initialize_trace_block.
func (a *Arena) initializeBlock(blockStart uint64, veryFirst bool, cpu int) {
	w := a.words
	w[blockStart+0] = wire.HeaderWord0(uint8(cpu), a.nowCycles(cpu))
	w[blockStart+1] = wire.HeaderWord1(a.ipcOn, a.wrapOn, wire.Version)

	if veryFirst {
		for i := uint64(2); i < 8; i++ {
			w[blockStart+i] = 0
		}
	}

	pidOff := blockStart + uint64(wire.PIDOffset(veryFirst))
	nameOff := blockStart + uint64(wire.NameOffset(veryFirst))
	var pid uint64
	var name [wire.ProcessNameBytes]byte
	if a.namePID != nil {
		pid, name = a.namePID()
	}
	w[pidOff] = pid
	w[pidOff+1] = 0
	for i := 0; i < wire.ProcessNameBytes/8; i++ {
		var v uint64
		for b := 0; b < 8; b++ {
			v |= uint64(name[i*8+b]) << (8 * b)
		}
		w[nameOff+uint64(i)] = v
	}

	for i := uint64(0); i < wire.TrailingZeroWords; i++ {
		w[blockStart+BlockWords-1-i] = 0
	}
}
