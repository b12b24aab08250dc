//go:build !linux || !(amd64 || arm64)

package timesource

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by InstRetired and CPUFreqMHz on platforms
// with no wired hardware-counter access.
var ErrUnsupported = errors.New("timesource: hardware counters unsupported on this platform")

// genericSource provides NowCycles everywhere via the runtime clock, but
// has no route to a retired-instruction counter or a frequency read
// outside Linux's perf_event_open.
type genericSource struct {
	core *PerCore
}

// NewGenericSource returns a Source usable on any platform, with
// InstRetired and CPUFreqMHz always failing with ErrUnsupported.
func NewGenericSource() Source {
	return &genericSource{core: NewPerCore(nil)}
}

// New returns the platform's best available Source for the given
// logical CPU; outside Linux/amd64/arm64 this is always
// NewGenericSource, ignoring cpu (it has no CPU-local hardware counter
// to open).
func New(cpu int) Source {
	return NewGenericSource()
}

func (s *genericSource) NowCycles() uint64 {
	return uint64(time.Now().UnixNano()) >> nowCyclesShift
}

func (s *genericSource) InstRetired() (uint64, error) {
	if err := s.core.Ensure(); err != nil {
		return 0, err
	}
	return 0, ErrUnsupported
}

func (s *genericSource) CPUFreqMHz() (uint32, error) {
	return 0, ErrUnsupported
}

const nowCyclesShift = 4
