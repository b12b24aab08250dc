package engine

import (
	"github.com/kutrace/kutrace/config"
	"github.com/kutrace/kutrace/timesource"
)

// fakeSource is a deterministic, test-only timesource.Source: its cycle
// counter and instruction counter are whatever the test sets directly,
// with no real hardware underneath.
type fakeSource struct {
	cycles  uint64
	inst    uint64
	instErr error
}

func (f *fakeSource) NowCycles() uint64 { return f.cycles }

func (f *fakeSource) InstRetired() (uint64, error) { return f.inst, f.instErr }

func (f *fakeSource) CPUFreqMHz() (uint32, error) { return 2000, nil }

func testNamePID() (uint64, [16]byte) {
	var name [16]byte
	copy(name[:], "testproc")
	return 4242, name
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TraceMB = 1
	return cfg
}

func newTestEngine(numCPUs int) (*Engine, []*fakeSource) {
	sources := make([]*fakeSource, numCPUs)
	ts := make([]timesource.Source, numCPUs)
	for i := range sources {
		sources[i] = &fakeSource{}
		ts[i] = sources[i]
	}
	e := New(testConfig(), ts, testNamePID, nil)
	return e, sources
}
