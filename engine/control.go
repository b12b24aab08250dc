package engine

import "github.com/kutrace/kutrace/wire"

// Command numbers from spec.md §4.5, identical to the original
// module's KUTRACE_CMD_* constants.
type Command uint64

const (
	CmdOff        Command = 0
	CmdOn         Command = 1
	CmdFlush      Command = 2
	CmdReset      Command = 3
	CmdStat       Command = 4
	CmdGetCount   Command = 5
	CmdGetWord    Command = 6
	CmdInsert1    Command = 7
	CmdInsertN    Command = 8
	CmdGetIPCWord Command = 9
	CmdTest       Command = 10
	CmdVersion    Command = 11
	CmdSet4KB     Command = 12
	CmdGet4KB     Command = 13
	CmdGetIPC4KB  Command = 14
)

// Control dispatches one (cmd, arg) control-surface call. privileged
// reports whether the caller passed whatever privilege check the
// embedding program performs (e.g. root/CAP_SYS_ADMIN); it is ignored
// entirely when config.Check is false. Complemented INSERT1/INSERTN
// commands (cmd = ^CmdInsert1, ^CmdInsertN) bypass both the privilege
// check and the tracing-on gate, matching the original's escape hatch
// for initializing a trace file with tracing off. Every other command
// is gated behind the check, matching the original's single
// coarse-grained priv_check wrapped around the whole entry point.
func (e *Engine) Control(cpu int, cmd Command, arg uint64, privileged bool, copyIn func(dst []uint64) bool) uint64 {
	raw := uint64(cmd)

	if raw == ^uint64(CmdInsert1) {
		return e.insert1Raw(cpu, arg) // tracing-off escape hatch, see kutrace_control
	}
	if raw == ^uint64(CmdInsertN) {
		return e.insertNUser(cpu, copyIn)
	}

	if e.cfg.Check && !privileged {
		return Sentinel
	}

	switch cmd {
	case CmdOff:
		e.arena.SetTracingOn(false)
		return boolWord(e.arena.TracingOn())
	case CmdOn:
		e.arena.SetTracingOn(true)
		return boolWord(e.arena.TracingOn())
	case CmdFlush:
		return e.flush()
	case CmdReset:
		return e.reset(arg)
	case CmdStat:
		return e.stat()
	case CmdGetCount:
		count := e.count()
		if e.arena.DidWrap() {
			return ^count
		}
		return count
	case CmdGetWord:
		return e.getWord(arg)
	case CmdGetIPCWord:
		return e.getIPCWord(arg)
	case CmdInsert1:
		if !e.arena.TracingOn() {
			return 0
		}
		return e.insert1Raw(cpu, arg)
	case CmdInsertN:
		if !e.arena.TracingOn() {
			return 0
		}
		return e.insertNUser(cpu, copyIn)
	case CmdTest:
		return boolWord(e.arena.TracingOn())
	case CmdVersion:
		return wire.Version
	case CmdSet4KB, CmdGet4KB, CmdGetIPC4KB:
		// These bulk-copy commands are served by the extract package,
		// which has the destination buffer type the control surface
		// here deliberately doesn't know about.
		return Sentinel
	}
	return Sentinel
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// reset reinitializes the arena for a new trace, decoding DO_IPC/DO_WRAP
// from arg, matching do_reset.
func (e *Engine) reset(arg uint64) uint64 {
	e.arena.SetTracingOn(false)
	e.ipcOn = arg&0x1 != 0
	e.wrapOn = arg&0x2 != 0
	e.arena.Reset(e.ipcOn, e.wrapOn)
	e.filter.Clear()
	return 0
}

// flush zero-fills the unused tail of every CPU's current traceblock
// and reports the number of words zeroed, matching do_flush. Tracing
// must already be off; flush forces it off regardless.
func (e *Engine) flush() uint64 {
	e.arena.SetTracingOn(false)
	var zeroed uint64
	words := e.arena.Words()
	for cpu := 0; cpu < e.NumCPUs(); cpu++ {
		next, limit, ok := e.arena.CPUBounds(cpu)
		if !ok {
			continue
		}
		for i := next; i < limit; i++ {
			words[i] = 0
			zeroed++
		}
		e.arena.AdvanceToLimit(cpu)
	}
	return zeroed
}

// stat returns the number of filled traceblocks, matching do_stat.
func (e *Engine) stat() uint64 {
	return e.arena.FilledBlocks()
}

// count returns the number of filled trace words (without the
// wrap-indicating complement GetCount applies), matching get_count.
// Tracing is forced off as a side effect, as in the original.
func (e *Engine) count() uint64 {
	e.arena.SetTracingOn(false)
	return e.arena.FilledWords()
}

// getWord reads one trace word by linear subscript, top-down, matching
// get_word.
func (e *Engine) getWord(subscr uint64) uint64 {
	e.arena.SetTracingOn(false)
	word, ok := e.arena.WordAt(subscr)
	if !ok {
		return 0
	}
	return word
}

// getIPCWord reads 8 packed IPC bytes as one u64, top-down, matching
// get_ipc_word.
func (e *Engine) getIPCWord(subscr uint64) uint64 {
	e.arena.SetTracingOn(false)
	word, ok := e.arena.IPCWordAt(subscr)
	if !ok {
		return 0
	}
	return word
}
