//go:build linux

package timesource

// nowCyclesShift tunes the NowCycles nanosecond-clock stride on amd64
// (see timesource_linux.go); chosen to land near a 16ns tick on typical
// amd64 clock rates.
const nowCyclesShift = 4
