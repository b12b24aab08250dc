package wire

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	e := Entry{Timestamp: 0x10000, Event: EventSyscall64, Delta: 5, Retval: 0x7F, Arg0: 0x1234}
	got := Unpack(e.Pack())
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestSingle1(t *testing.T) {
	word := Single1(0x10000, EventSyscall64, 0x1234)
	e := Unpack(word)
	if e.Timestamp != 0x10000 || e.Event != EventSyscall64 || e.Arg0 != 0x1234 || e.Delta != 0 || e.Retval != 0 {
		t.Fatalf("unexpected decode: %+v", e)
	}
}

func TestEventWithLengthAndEntryLen(t *testing.T) {
	ev := EventWithLength(NameMethodname, 2)
	if ev != 0x023 {
		t.Fatalf("EventWithLength(methodname, 2) = %#x, want 0x023", ev)
	}
	if got := EntryLen(ev); got != 2 {
		t.Fatalf("EntryLen(%#x) = %d, want 2", ev, got)
	}
	if got := NameKind(ev); got != NameMethodname {
		t.Fatalf("NameKind(%#x) = %#x, want %#x", ev, got, NameMethodname)
	}
	// Fixed single-word events outside the varlen range always decode
	// to length 1.
	if got := EntryLen(EventSyscall64); got != 1 {
		t.Fatalf("EntryLen(syscall64) = %d, want 1", got)
	}
}

func TestHasReturnAndMatchingCall(t *testing.T) {
	if !HasReturn(EventSyscall64) || !HasReturn(EventSysRet64) {
		t.Fatal("syscall64/sysret64 should carry returns")
	}
	if HasReturn(EventUserpid) {
		t.Fatal("userpid should not carry returns")
	}
	if !MatchingCall(EventSyscall64, EventSysRet64) {
		t.Fatal("syscall64/sysret64 should match as a call/return pair")
	}
	if MatchingCall(EventSyscall64, EventSyscall32) {
		t.Fatal("syscall64/syscall32 should not match")
	}
}

// S1 Fold: RESET(0); ON; insert1(event=0x800,arg=0x1234) at ts=0x10000;
// insert1(event=0xA00,arg=0x7F) at ts=0x10005 folds into one word.
func TestScenarioS1Fold(t *testing.T) {
	call := Single1(0x10000, EventSyscall64, 0x1234)
	folded, ok := CanFold(call, EventSysRet64, 0x10005, 0x7F)
	if !ok {
		t.Fatal("expected fold to succeed")
	}
	e := Unpack(folded)
	want := Entry{Timestamp: 0x10000, Event: EventSyscall64, Delta: 5, Retval: 0x7F, Arg0: 0x1234}
	if e != want {
		t.Fatalf("got %+v, want %+v", e, want)
	}
}

// S2 No-fold on overflow: second arg=0x180 doesn't fit signed 8-bit, so no
// fold happens and two words must be written by the caller instead.
func TestScenarioS2NoFoldOnRetvalOverflow(t *testing.T) {
	call := Single1(0x10000, EventSyscall64, 0x1234)
	if _, ok := CanFold(call, EventSysRet64, 0x10005, 0x180); ok {
		t.Fatal("arg 0x180 does not fit a signed byte and must not fold")
	}
}

func TestScenarioS2bNonMatchingEventNeverFolds(t *testing.T) {
	call := Single1(0x10000, EventSyscall64, 0x1234)
	if _, ok := CanFold(call, EventSyscall32, 0x10005, 0x7F); ok {
		t.Fatal("non-matching event must not fold")
	}
}

func TestFitsSignedByte(t *testing.T) {
	cases := []struct {
		v    uint64
		want bool
	}{
		{0x00, true},
		{0x7F, true},
		{0x80, false},
		{0x180, false},
		{0xFFFFFFFFFFFFFFFF, true},  // -1
		{0xFFFFFFFFFFFFFF80, true},  // -128
		{0xFFFFFFFFFFFFFF7F, false}, // -129
	}
	for _, c := range cases {
		if got := FitsSignedByte(c.v); got != c.want {
			t.Errorf("FitsSignedByte(%#x) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestScenarioS3TSDelta(t *testing.T) {
	word := TSDelta(uint32(0xE0200&TimestampMask), 0xE0100)
	e := Unpack(word)
	if e.Event != EventTSDelta {
		t.Fatalf("unexpected TSDELTA event: %+v", e)
	}
	if got := TSDeltaArg(word); got != 0xE0100 {
		t.Fatalf("TSDeltaArg = %#x, want 0xE0100", got)
	}
}
