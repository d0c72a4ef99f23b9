package kernel

import "encoding/binary"

// Context frame layout on a task's stack. The frame is a plain byte record
// at fixed offsets; both the save and the restore path read it with these
// constants, so the layout is load-bearing, not documentation.
//
//	0x00..0x3C  a0..a15
//	0x40        PS
//	0x44        SAR
//	0x48        EPC1 (resume address)
//	0x4C        pad
const (
	ctxA0   = 0x00
	ctxA1   = 0x04
	ctxA2   = 0x08
	ctxA3   = 0x0C
	ctxPS   = 0x40
	ctxSAR  = 0x44
	ctxEPC1 = 0x48
	ctxPad  = 0x4C

	// FrameSize is the context frame size: 20 words.
	FrameSize = 80
)

// psInitial is the PS word synthesised into a new task's frame: user mode
// with the exception-mask bit set, so the exception-return that dispatches
// the task clears it.
const psInitial = 0x00000030

// trampolinePC is the EPC1 value of a never-run task: the resume address
// "is" the entry trampoline. Resume tokens of suspended tasks are allocated
// above resumePCBase so the two ranges can never collide.
const (
	trampolinePC = 0x40100010
	resumePCBase = 0x40200000
)

func frameWord(slab []byte, sp uint32, off int) uint32 {
	return binary.LittleEndian.Uint32(slab[int(sp)+off:])
}

func setFrameWord(slab []byte, sp uint32, off int, v uint32) {
	binary.LittleEndian.PutUint32(slab[int(sp)+off:], v)
}

// makeInitialFrame synthesises the first context frame for a task whose
// stack occupies [base, base+size) in the slab. entry and arg are handle
// words the trampoline reads back out of a2/a3. Returns the saved SP.
func makeInitialFrame(slab []byte, base, size, entry, arg uint32) uint32 {
	sp := (base + size) &^ 0xF
	sp -= FrameSize

	frame := slab[sp : sp+FrameSize]
	for i := range frame {
		frame[i] = 0
	}

	setFrameWord(slab, sp, ctxEPC1, trampolinePC)
	setFrameWord(slab, sp, ctxA2, entry)
	setFrameWord(slab, sp, ctxA3, arg)
	setFrameWord(slab, sp, ctxA1, sp+FrameSize)
	setFrameWord(slab, sp, ctxPS, psInitial)
	return sp
}

// saveFrame deposits t's context at the top of its stack and records the
// resulting stack pointer in the TCB (offset 0).
func (k *Kernel) saveFrame(t *TCB) {
	sp := (t.StackBase + t.StackSize) &^ 0xF
	sp -= FrameSize

	k.switchSeq++
	token := resumePCBase + k.switchSeq

	setFrameWord(k.stacks, sp, ctxA0, t.resumePC)
	setFrameWord(k.stacks, sp, ctxA1, sp+FrameSize)
	for off := ctxA2; off <= 0x3C; off += 4 {
		setFrameWord(k.stacks, sp, off, 0)
	}
	setFrameWord(k.stacks, sp, ctxPS, psInitial)
	setFrameWord(k.stacks, sp, ctxSAR, 0)
	setFrameWord(k.stacks, sp, ctxEPC1, token)
	setFrameWord(k.stacks, sp, ctxPad, 0)

	t.resumePC = token
	t.SP = sp
}

// restoreFrame validates the frame the task was suspended with. A mismatch
// means the stack region was overwritten while the task slept.
func (k *Kernel) restoreFrame(t *TCB) {
	epc := frameWord(k.stacks, t.SP, ctxEPC1)
	a1 := frameWord(k.stacks, t.SP, ctxA1)
	if epc != t.resumePC || a1 != t.SP+FrameSize {
		k.logf("sched: task '" + t.Name + "' resumed with corrupt frame")
	}
}

// trampolineLoad decodes a never-run task's initial frame: checks EPC1 is
// the trampoline and returns the entry/arg handles from a2/a3.
func (k *Kernel) trampolineLoad(t *TCB) (entry, arg uint32, ok bool) {
	if frameWord(k.stacks, t.SP, ctxEPC1) != trampolinePC {
		return 0, 0, false
	}
	return frameWord(k.stacks, t.SP, ctxA2), frameWord(k.stacks, t.SP, ctxA3), true
}
