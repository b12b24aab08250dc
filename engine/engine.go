// Package engine is the control-plane and hot-path tracer sitting on
// top of arena and wire: it owns the PID filter, the IPC sidecar, and
// the single (cmd, arg) -> u64 control surface, mirroring the dispatch
// shape of kutrace_mod.c's kutrace_control/insert_*/do_* functions.
package engine

import (
	"github.com/kutrace/kutrace/arena"
	"github.com/kutrace/kutrace/config"
	"github.com/kutrace/kutrace/internal/klog"
	"github.com/kutrace/kutrace/timesource"
)

// cpuState tracks, per CPU, the bookkeeping that persists across
// traceblock rotations (unlike arena.PerCPU's next/limit, which reset on
// every Reset): the previous sampled cycle count, used both to decide
// whether a TSDELTA preamble is needed and to compute the delta_cycles
// fed into the IPC granular mapping, and the previous instructions-
// retired sample. Mirrors kutrace_traceblock's prior_cycles/
// prior_inst_retired fields, which persist for the lifetime of the CPU
// rather than being reinitialized per block.
type cpuState struct {
	priorCycles uint64 // 0 until this CPU's first-ever insert
	priorInst   uint64
}

// Engine is one complete tracer instance: arena-backed storage, a
// logical-CPU time source per core, the PID filter, and IPC state.
type Engine struct {
	cfg     config.Config
	arena   *arena.Arena
	sources []timesource.Source
	filter  pidFilter
	cpu     []cpuState
	log     *klog.Logger
	ipcOn   bool
	wrapOn  bool
}

// New constructs an Engine. sources must have one entry per logical
// CPU the caller intends to trace from; namePID supplies the PID/name
// stamped into new traceblocks. A nil logger disables logging.
func New(cfg config.Config, sources []timesource.Source, namePID arena.NamePID, log *klog.Logger) *Engine {
	if log == nil {
		log = klog.Discard()
	}
	e := &Engine{
		cfg:     cfg,
		sources: sources,
		cpu:     make([]cpuState, len(sources)),
		log:     log,
	}
	e.arena = arena.New(cfg.TraceMB, len(sources), namePID, e.nowCyclesForCPU, e.onArenaFull, e.filter.Clear)
	return e
}

// deltaCyclesAndAdvance computes delta_cycles = now - prior_cycles for
// cpu and advances prior_cycles to now, mirroring insert_1's "this
// update must be after the first getclaim per CPU" ordering. firstEver
// reports whether this is this CPU's first-ever insert, in which case
// delta_cycles is meaningless noise and must never trigger a TSDELTA
// preamble (NOTE: tsdelta is bogus for very first entry per CPU).
func (e *Engine) deltaCyclesAndAdvance(cpu int, now uint64) (deltaCycles uint64, firstEver bool) {
	st := &e.cpu[cpu]
	firstEver = st.priorCycles == 0
	deltaCycles = now - st.priorCycles
	st.priorCycles = now
	return deltaCycles, firstEver
}

// NowCycles reads cpu's time source directly, the same read the hot
// path uses internally. An embedding program uses this (paired with its
// own gettimeofday read) to sample the start/stop anchors the extract
// package needs; the engine itself never calls gettimeofday (spec.md
// §1's "reconstructing wall-clock times" non-goal).
func (e *Engine) NowCycles(cpu int) uint64 { return e.nowCyclesForCPU(cpu) }

// nowCyclesForCPU reads cpu's time source, used both on the hot path
// and to stamp new traceblock headers.
func (e *Engine) nowCyclesForCPU(cpu int) uint64 {
	if cpu < 0 || cpu >= len(e.sources) || e.sources[cpu] == nil {
		return 0
	}
	return e.sources[cpu].NowCycles()
}

// onArenaFull logs the auto-disable that spec.md §7's ArenaFull error
// describes; the hot path itself never sees this as a Go error value.
func (e *Engine) onArenaFull() {
	e.log.Warn("arena full, tracing auto-disabled", "reason", "ArenaFull")
}

// NumCPUs returns the number of logical CPUs this engine was built for.
func (e *Engine) NumCPUs() int { return len(e.sources) }

// Arena exposes the underlying allocator, e.g. for the extract package.
func (e *Engine) Arena() *arena.Arena { return e.arena }
