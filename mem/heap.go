package mem

import "encoding/binary"

// Heap block layout: [header (4B)][data ...]. The header word carries the
// total block size (header + data, always 4-byte aligned) in bits [31:2]
// and a used flag in bit 0. Blocks are contiguous, so the next header is
// always at offset + size; there is no free list. Allocation scans
// first-fit, merging runs of free blocks on the way (eager forward
// coalescing), and splits oversized blocks when the remainder can hold a
// header plus the minimum payload.

const (
	hdrSize = 4
	minData = 4
	usedBit = 1
)

func word(b []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func putWord(b []byte, off, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

// Heap is a variable-size first-fit allocator over a single byte region.
// Data offsets returned by Alloc are never zero, so zero doubles as the
// null sentinel.
type Heap struct {
	irq IRQ
	mem []byte
}

// NewHeap returns a heap of size bytes (rounded down to a whole word),
// initialised as one free block spanning the region.
func NewHeap(size uint32, irq IRQ) *Heap {
	if irq == nil {
		irq = nopIRQ{}
	}
	size &^= 3
	if size < hdrSize+minData {
		size = hdrSize + minData
	}
	h := &Heap{irq: irq, mem: make([]byte, size)}
	putWord(h.mem, 0, size) // single free block, used bit clear
	return h
}

func (h *Heap) size() uint32 { return uint32(len(h.mem)) }

func blkSize(info uint32) uint32 { return info &^ 3 }
func blkUsed(info uint32) bool   { return info&usedBit != 0 }

// Alloc returns the data offset of a block with at least size bytes, or 0
// when no fit exists.
func (h *Heap) Alloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}

	need := align4(size) + hdrSize
	if need < hdrSize+minData {
		need = hdrSize + minData
	}

	ps := h.irq.Save()
	defer h.irq.Restore(ps)

	var at uint32
	for at < h.size() {
		info := word(h.mem, at)
		if blkUsed(info) {
			at += blkSize(info)
			continue
		}

		// Forward coalesce: fold consecutive free blocks into this one.
		for {
			next := at + blkSize(word(h.mem, at))
			if next >= h.size() || blkUsed(word(h.mem, next)) {
				break
			}
			putWord(h.mem, at, word(h.mem, at)+blkSize(word(h.mem, next)))
		}

		bsz := blkSize(word(h.mem, at))
		if bsz >= need {
			if bsz-need >= hdrSize+minData {
				putWord(h.mem, at+need, bsz-need) // free remainder
				putWord(h.mem, at, need|usedBit)  // used, exact size
			} else {
				putWord(h.mem, at, bsz|usedBit) // use whole block
			}
			return at + hdrSize
		}

		at += bsz
	}

	return 0 // out of memory
}

// Free releases the block whose data starts at off. Offsets outside the
// region, and blocks whose used bit is already clear, are ignored; the
// latter makes a double free harmless instead of list-corrupting.
func (h *Heap) Free(off uint32) {
	if off == 0 {
		return
	}
	if off < hdrSize || off >= h.size() {
		return
	}
	at := off - hdrSize

	ps := h.irq.Save()
	defer h.irq.Restore(ps)

	info := word(h.mem, at)
	if !blkUsed(info) {
		return
	}
	putWord(h.mem, at, info&^usedBit)

	for {
		next := at + blkSize(word(h.mem, at))
		if next >= h.size() || blkUsed(word(h.mem, next)) {
			break
		}
		putWord(h.mem, at, word(h.mem, at)+blkSize(word(h.mem, next)))
	}
}

// Data returns n bytes of an allocation's backing store.
func (h *Heap) Data(off, n uint32) []byte {
	if off < hdrSize || off+n > h.size() {
		return nil
	}
	return h.mem[off : off+n]
}

// walk visits every block header.
func (h *Heap) walk(fn func(at, size uint32, used bool)) {
	var at uint32
	for at < h.size() {
		info := word(h.mem, at)
		fn(at, blkSize(info), blkUsed(info))
		at += blkSize(info)
	}
}

// FreeTotal returns the free payload bytes.
func (h *Heap) FreeTotal() uint32 {
	ps := h.irq.Save()
	defer h.irq.Restore(ps)
	var total uint32
	h.walk(func(_, size uint32, used bool) {
		if !used {
			total += size - hdrSize
		}
	})
	return total
}

// UsedTotal returns the allocated payload bytes.
func (h *Heap) UsedTotal() uint32 {
	ps := h.irq.Save()
	defer h.irq.Restore(ps)
	var total uint32
	h.walk(func(_, size uint32, used bool) {
		if used {
			total += size - hdrSize
		}
	})
	return total
}

// LargestFree returns the biggest single free payload.
func (h *Heap) LargestFree() uint32 {
	ps := h.irq.Save()
	defer h.irq.Restore(ps)
	var largest uint32
	h.walk(func(_, size uint32, used bool) {
		if !used && size-hdrSize > largest {
			largest = size - hdrSize
		}
	})
	return largest
}

// FragCount returns the number of free fragments.
func (h *Heap) FragCount() uint32 {
	ps := h.irq.Save()
	defer h.irq.Restore(ps)
	var count uint32
	h.walk(func(_, _ uint32, used bool) {
		if !used {
			count++
		}
	})
	return count
}

// Size returns the heap region size in bytes.
func (h *Heap) Size() uint32 { return h.size() }
