// Package timesource adapts the three architecture-specific hardware
// reads the tracer needs onto a common interface: a cheap monotone cycle
// counter usable from any context, a per-core retired-instruction counter
// that must be enabled once per core before its first read, and a
// best-effort current core frequency sampled only at PC-sample time.
package timesource

// Source is the per-CPU hardware time adapter. Implementations must be
// safe to call from interrupt-like contexts for NowCycles. InstRetired is
// read on every IPC-sampled single-word insert when IPC sampling is on;
// CPUFreqMHz is not called on the insert path.
type Source interface {
	// NowCycles returns a monotone counter value shifted to a roughly
	// 16-32ns tick. Must be cheap enough to call on every traced event.
	NowCycles() uint64

	// InstRetired reads the CPU-local retired-instruction counter,
	// enabling it first if this is the first call on this core.
	InstRetired() (uint64, error)

	// CPUFreqMHz reads the current core frequency. Only ever sampled at
	// PC-sample points.
	CPUFreqMHz() (uint32, error)
}

// PerCore tracks, for one CPU, whether the retired-instruction counter
// has been enabled yet. A zero PerCore has never been used; the first
// call to Ensure enables the hardware counter and marks it initialized,
// mirroring the original module's ku_setup_inst_retired being called
// exactly once per core, on that core's first traceblock allocation.
type PerCore struct {
	enabled bool
	enable  func() error
}

// NewPerCore returns a PerCore whose hardware enable step is deferred to
// the first call to Ensure.
func NewPerCore(enable func() error) *PerCore {
	return &PerCore{enable: enable}
}

// Ensure performs the one-time per-core hardware enable if it has not
// run yet on this core. The enable is idempotent: calling Ensure again
// after a successful enable is a no-op.
func (p *PerCore) Ensure() error {
	if p.enabled {
		return nil
	}
	if p.enable != nil {
		if err := p.enable(); err != nil {
			return err
		}
	}
	p.enabled = true
	return nil
}
