// Package mem provides the kernel's two allocators: a fixed-size block
// pool with O(1) alloc/free and a variable-size first-fit heap. Both run
// over plain byte slabs addressed by uint32 offsets, with interrupts
// masked so they are safe against ISR callers.
package mem

// IRQ is the interrupt mask the allocators take around their critical
// sections. The kernel's controller satisfies it; tests may pass nil for
// an unmasked allocator.
type IRQ interface {
	Save() uint32
	Restore(ps uint32)
}

type nopIRQ struct{}

func (nopIRQ) Save() uint32    { return 0 }
func (nopIRQ) Restore(_ uint32) {}

// NilBlock is the pool's "no block" sentinel offset.
const NilBlock = ^uint32(0)

// Pool is a fixed-size block allocator over an intrusive free list: the
// first word of each free block holds the offset of the next free block.
type Pool struct {
	irq       IRQ
	mem       []byte
	blockSize uint32
	numBlocks uint32
	freeHead  uint32
	freeCnt   uint32
	usedCnt   uint32
}

// NewPool returns a pool of numBlocks blocks of blockSize bytes each.
// blockSize must be at least one word to hold the free-list link.
func NewPool(blockSize, numBlocks uint32, irq IRQ) *Pool {
	if blockSize < 4 {
		blockSize = 4
	}
	if irq == nil {
		irq = nopIRQ{}
	}
	p := &Pool{
		irq:       irq,
		mem:       make([]byte, blockSize*numBlocks),
		blockSize: blockSize,
		numBlocks: numBlocks,
	}
	p.initFreeList()
	return p
}

// initFreeList chains every block onto the list, last to first, so the
// list comes out in address order.
func (p *Pool) initFreeList() {
	p.freeHead = NilBlock
	p.freeCnt = p.numBlocks
	p.usedCnt = 0
	for i := int(p.numBlocks) - 1; i >= 0; i-- {
		off := uint32(i) * p.blockSize
		putWord(p.mem, off, p.freeHead)
		p.freeHead = off
	}
}

// Alloc pops a block off the free list and zero-fills it. Returns
// (NilBlock, false) when the pool is exhausted.
func (p *Pool) Alloc() (uint32, bool) {
	ps := p.irq.Save()

	if p.freeHead == NilBlock {
		p.irq.Restore(ps)
		return NilBlock, false
	}

	off := p.freeHead
	p.freeHead = word(p.mem, off)
	p.freeCnt--
	p.usedCnt++

	p.irq.Restore(ps)

	blk := p.mem[off : off+p.blockSize]
	for i := range blk {
		blk[i] = 0
	}
	return off, true
}

// Free pushes the block back onto the free list. Offsets outside the pool
// region are silently ignored.
func (p *Pool) Free(off uint32) {
	if off == NilBlock {
		return
	}
	if off >= p.blockSize*p.numBlocks {
		return
	}

	ps := p.irq.Save()
	putWord(p.mem, off, p.freeHead)
	p.freeHead = off
	p.freeCnt++
	p.usedCnt--
	p.irq.Restore(ps)
}

// Block returns the backing bytes of an allocated block.
func (p *Pool) Block(off uint32) []byte {
	if off >= p.blockSize*p.numBlocks {
		return nil
	}
	return p.mem[off : off+p.blockSize]
}

// BlockSize returns the fixed block size in bytes.
func (p *Pool) BlockSize() uint32 { return p.blockSize }

// FreeCount returns the number of free blocks.
func (p *Pool) FreeCount() uint32 {
	ps := p.irq.Save()
	n := p.freeCnt
	p.irq.Restore(ps)
	return n
}

// UsedCount returns the number of allocated blocks.
func (p *Pool) UsedCount() uint32 {
	ps := p.irq.Save()
	n := p.usedCnt
	p.irq.Restore(ps)
	return n
}
