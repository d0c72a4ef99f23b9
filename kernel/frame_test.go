package kernel

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

func TestTCBStackPointerAtOffsetZero(t *testing.T) {
	if off := unsafe.Offsetof(TCB{}.SP); off != 0 {
		t.Fatalf("TCB.SP offset = %d, want 0", off)
	}
}

func TestFrameOffsets(t *testing.T) {
	cases := []struct {
		name string
		off  int
		want int
	}{
		{"a0", ctxA0, 0x00},
		{"a1", ctxA1, 0x04},
		{"a2", ctxA2, 0x08},
		{"a3", ctxA3, 0x0C},
		{"ps", ctxPS, 0x40},
		{"sar", ctxSAR, 0x44},
		{"epc1", ctxEPC1, 0x48},
		{"pad", ctxPad, 0x4C},
	}
	for _, tc := range cases {
		if tc.off != tc.want {
			t.Errorf("%s offset = %#x, want %#x", tc.name, tc.off, tc.want)
		}
	}
	if FrameSize != 80 {
		t.Errorf("FrameSize = %d, want 80", FrameSize)
	}
}

func TestMakeInitialFrame(t *testing.T) {
	slab := make([]byte, 2048)
	for i := range slab {
		slab[i] = 0xAA
	}

	const base, size = 512, 1536
	sp := makeInitialFrame(slab, base, size, 7, 9)

	top := uint32(base+size) &^ 0xF
	if want := top - FrameSize; sp != want {
		t.Fatalf("sp = %#x, want %#x", sp, want)
	}
	if sp < base || sp+FrameSize > base+size {
		t.Fatalf("frame [%#x,%#x) outside stack [%#x,%#x)", sp, sp+FrameSize, base, base+size)
	}

	get := func(off int) uint32 {
		return binary.LittleEndian.Uint32(slab[int(sp)+off:])
	}
	if got := get(ctxEPC1); got != trampolinePC {
		t.Errorf("EPC1 = %#x, want trampoline %#x", got, trampolinePC)
	}
	if got := get(ctxA2); got != 7 {
		t.Errorf("a2 = %d, want entry handle 7", got)
	}
	if got := get(ctxA3); got != 9 {
		t.Errorf("a3 = %d, want arg handle 9", got)
	}
	if got := get(ctxA1); got != sp+FrameSize {
		t.Errorf("a1 = %#x, want %#x", got, sp+FrameSize)
	}
	if got := get(ctxPS); got != psInitial {
		t.Errorf("PS = %#x, want %#x", got, psInitial)
	}
	for _, off := range []int{ctxA0, ctxSAR, ctxPad} {
		if got := get(off); got != 0 {
			t.Errorf("word at %#x = %#x, want 0", off, got)
		}
	}
}

func TestSaveFrameRoundTrip(t *testing.T) {
	k := New(Config{})
	tcb := &k.tasks[idleTaskID]

	k.saveFrame(tcb)

	if tcb.SP < tcb.StackBase || tcb.SP+FrameSize > tcb.StackBase+tcb.StackSize {
		t.Fatalf("saved SP %#x outside stack region", tcb.SP)
	}
	if got := frameWord(k.stacks, tcb.SP, ctxEPC1); got != tcb.resumePC {
		t.Errorf("EPC1 = %#x, want resume token %#x", got, tcb.resumePC)
	}
	if got := frameWord(k.stacks, tcb.SP, ctxA1); got != tcb.SP+FrameSize {
		t.Errorf("a1 = %#x, want %#x", got, tcb.SP+FrameSize)
	}

	first := tcb.resumePC
	k.saveFrame(tcb)
	if tcb.resumePC == first {
		t.Errorf("resume token did not advance across saves")
	}
}
