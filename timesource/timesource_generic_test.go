//go:build !linux || !(amd64 || arm64)

package timesource

import "testing"

func TestGenericSourceNowCyclesMonotonic(t *testing.T) {
	s := NewGenericSource()
	a := s.NowCycles()
	b := s.NowCycles()
	if b < a {
		t.Fatalf("NowCycles went backwards: %d then %d", a, b)
	}
}

func TestGenericSourceUnsupported(t *testing.T) {
	s := NewGenericSource()
	if _, err := s.InstRetired(); err != ErrUnsupported {
		t.Fatalf("InstRetired err = %v, want ErrUnsupported", err)
	}
	if _, err := s.CPUFreqMHz(); err != ErrUnsupported {
		t.Fatalf("CPUFreqMHz err = %v, want ErrUnsupported", err)
	}
}
