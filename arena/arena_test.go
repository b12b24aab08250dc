package arena

import (
	"testing"

	"github.com/kutrace/kutrace/wire"
)

func testNamePID() (uint64, [wire.ProcessNameBytes]byte) {
	var name [wire.ProcessNameBytes]byte
	copy(name[:], "testproc")
	return 42, name
}

func TestReserveWithinOneBlock(t *testing.T) {
	a := New(2, 1, testNamePID, nil, nil, nil)
	a.Reset(false, false)

	first, ok := a.Reserve(0, 1)
	if !ok {
		t.Fatal("expected first reservation to succeed")
	}
	second, ok := a.Reserve(0, 2)
	if !ok {
		t.Fatal("expected second reservation to succeed")
	}
	if second != first+1 {
		t.Fatalf("second claim = %d, want %d", second, first+1)
	}
}

func TestReserveRotatesBlocks(t *testing.T) {
	a := New(2, 1, testNamePID, nil, nil, nil)
	a.Reset(false, false)

	first, ok := a.Reserve(0, 1)
	if !ok {
		t.Fatal("first reservation failed")
	}
	firstBlockBase := first - first%BlockWords

	// Exhaust the rest of the first block.
	var last uint64
	for {
		idx, ok := a.Reserve(0, 1)
		if !ok {
			t.Fatal("reservation failed before rotation")
		}
		last = idx
		if idx/BlockWords != first/BlockWords {
			break
		}
	}
	if last/BlockWords == firstBlockBase/BlockWords {
		t.Fatal("expected rotation into a new block")
	}
	if last >= a.High() {
		t.Fatalf("claim %d falls outside the trace region (high=%d)", last, a.High())
	}
}

func TestReserveFailsWhenFullWithoutWrap(t *testing.T) {
	a := New(2, 1, testNamePID, nil, nil, nil)
	a.Reset(false, false)
	a.SetTracingOn(true)

	blocksAvailable := (a.High() - a.IPCLimit()) / BlockWords
	var ok bool
	// Consume every block.
	for b := uint64(0); b < blocksAvailable; b++ {
		for {
			var idx uint64
			idx, ok = a.Reserve(0, 1)
			if !ok {
				break
			}
			if idx%BlockWords == BlockWords-1 {
				break
			}
		}
	}
	if _, ok = a.Reserve(0, 1); ok {
		t.Fatal("expected arena-full reservation to fail")
	}
	if a.TracingOn() {
		t.Fatal("expected tracing to auto-disable when arena fills without wrap")
	}
}

func TestReserveWrapsWhenEnabled(t *testing.T) {
	onFullCalled := false
	a := New(2, 1, testNamePID, nil, func() { onFullCalled = true }, nil)
	a.Reset(false, true) // DO_WRAP

	blocksAvailable := (a.High() - a.IPCLimit()) / BlockWords
	for b := uint64(0); b < blocksAvailable+1; b++ {
		for {
			idx, ok := a.Reserve(0, 1)
			if !ok {
				t.Fatal("reservation should never fail in wrap mode")
			}
			if idx%BlockWords == BlockWords-1 {
				break
			}
		}
	}
	if !a.DidWrap() {
		t.Fatal("expected DidWrap to be true after exceeding capacity in wrap mode")
	}
	if onFullCalled {
		t.Fatal("onArenaFull must not fire in wrap mode")
	}
}

func TestClearFiltersCalledOnWrap(t *testing.T) {
	cleared := false
	a := New(2, 1, testNamePID, nil, nil, func() { cleared = true })
	a.Reset(false, true)

	blocksAvailable := (a.High() - a.IPCLimit()) / BlockWords
	for b := uint64(0); b < blocksAvailable+1; b++ {
		for {
			idx, ok := a.Reserve(0, 1)
			if !ok {
				t.Fatal("reservation should never fail in wrap mode")
			}
			if idx%BlockWords == BlockWords-1 {
				break
			}
		}
	}
	if !cleared {
		t.Fatal("expected clearFilters to be invoked on wraparound")
	}
}

func TestPriorEntryAdvancesWithReservations(t *testing.T) {
	a := New(2, 1, testNamePID, nil, nil, nil)
	a.Reset(false, false)

	if _, ok := a.PriorEntry(0); ok {
		t.Fatal("expected no prior entry before any reservation")
	}
	idx, ok := a.Reserve(0, 1)
	if !ok {
		t.Fatal("reservation failed")
	}
	prior, ok := a.PriorEntry(0)
	if !ok || prior != idx {
		t.Fatalf("PriorEntry = (%d, %v), want (%d, true)", prior, ok, idx)
	}
}

func TestReserveSkipsVeryFirstBlockHeader(t *testing.T) {
	a := New(2, 1, testNamePID, nil, nil, nil)
	a.Reset(false, false)

	idx, ok := a.Reserve(0, 1)
	if !ok {
		t.Fatal("reservation failed")
	}
	blockBase := idx - idx%BlockWords
	want := blockBase + uint64(wire.FirstBlockEntriesOffset)
	if idx != want {
		t.Fatalf("first claim in the arena's very first block = %#x, want %#x (past the header/PID/name fields)", idx, want)
	}
}

func TestReserveSkipsRotatedBlockHeader(t *testing.T) {
	a := New(2, 1, testNamePID, nil, nil, nil)
	a.Reset(false, false)

	// Exhaust the very first block to force a rotation into a second one.
	first, ok := a.Reserve(0, 1)
	if !ok {
		t.Fatal("first reservation failed")
	}
	var rotated uint64
	for {
		idx, ok := a.Reserve(0, 1)
		if !ok {
			t.Fatal("reservation failed before rotation")
		}
		if idx/BlockWords != first/BlockWords {
			rotated = idx
			break
		}
	}
	blockBase := rotated - rotated%BlockWords
	want := blockBase + uint64(wire.BlockEntriesOffset)
	if rotated != want {
		t.Fatalf("first claim in a rotated block = %#x, want %#x (past the header/PID/name fields)", rotated, want)
	}
}

func TestNewBlockHeaderInitialized(t *testing.T) {
	a := New(2, 1, testNamePID, func(int) uint64 { return 0xABCD }, nil, nil)
	a.Reset(true, false) // DO_IPC

	idx, ok := a.Reserve(0, 1)
	if !ok {
		t.Fatal("reservation failed")
	}
	blockBase := idx - idx%BlockWords
	w := a.Words()
	if got := wire.HeaderWord0(0, 0xABCD); w[blockBase] != got {
		t.Fatalf("header word0 = %#x, want %#x", w[blockBase], got)
	}
	flags := w[blockBase+1] >> wire.CPUNumberShift
	if flags&wire.FlagIPC == 0 {
		t.Fatal("expected IPC flag set in header word1")
	}
	if flags&wire.FlagVersionMask != wire.Version {
		t.Fatalf("version in header = %d, want %d", flags&wire.FlagVersionMask, wire.Version)
	}
	pidOff := blockBase + uint64(wire.FirstBlockPIDOffset)
	if w[pidOff] != 42 {
		t.Fatalf("pid = %d, want 42", w[pidOff])
	}
}
