// Package uart implements the interrupt side of the serial console: a
// hardware RX FIFO model, the ISR that drains it into a ring buffer, and
// the task-side reader.
package uart

import (
	"io"
	"sync"
)

// RingSize is the RX ring capacity. One slot is sacrificed to tell full
// from empty, so RingSize-1 bytes can be buffered.
const RingSize = 64

// IRQ is the interrupt mask taken around the task-side index updates.
type IRQ interface {
	Save() uint32
	Restore(ps uint32)
}

type nopIRQ struct{}

func (nopIRQ) Save() uint32     { return 0 }
func (nopIRQ) Restore(_ uint32) {}

// Ring is the single-producer single-consumer RX ring. The ISR writes at
// head; the task reads at tail. When the ring is full the producer drops
// the byte: an ISR never blocks.
type Ring struct {
	buf  [RingSize]byte
	head uint8
	tail uint8
}

// Put appends one byte from the producer side. Reports false (byte
// dropped, head unchanged) when the ring is full.
func (r *Ring) Put(b byte) bool {
	next := (r.head + 1) % RingSize
	if next == r.tail {
		return false
	}
	r.buf[r.head] = b
	r.head = next
	return true
}

// get removes one byte from the consumer side.
func (r *Ring) get() (byte, bool) {
	if r.head == r.tail {
		return 0, false
	}
	b := r.buf[r.tail]
	r.tail = (r.tail + 1) % RingSize
	return b, true
}

// Empty reports whether no bytes are buffered. Safe without masking: both
// indices are single bytes written by exactly one side.
func (r *Ring) Empty() bool { return r.head == r.tail }

// Port is one UART: a TX writer, the RX FIFO fed by the transport pump,
// and the RX ring the ISR drains it into.
type Port struct {
	irq IRQ
	w   io.Writer

	fifoMu  sync.Mutex // models the peripheral's FIFO register
	fifo    []byte
	ring    Ring
	dropped uint32
}

// NewPort returns a port transmitting on w.
func NewPort(w io.Writer, irq IRQ) *Port {
	if irq == nil {
		irq = nopIRQ{}
	}
	return &Port{irq: irq, w: w}
}

// PushFIFO appends received bytes to the hardware FIFO model. The caller
// (the serial pump) raises the UART interrupt afterwards.
func (p *Port) PushFIFO(b []byte) {
	p.fifoMu.Lock()
	p.fifo = append(p.fifo, b...)
	p.fifoMu.Unlock()
}

// ISR drains the RX FIFO into the ring, dropping bytes when the ring is
// full. Called by the exception dispatcher with interrupts masked.
func (p *Port) ISR() {
	p.fifoMu.Lock()
	for _, b := range p.fifo {
		if !p.ring.Put(b) {
			p.dropped++
		}
	}
	p.fifo = p.fifo[:0]
	p.fifoMu.Unlock()
}

// Getc returns the next received byte, or -1 when the ring is empty. The
// empty check runs unmasked; the load+advance of tail is masked so it is
// atomic against the ISR.
func (p *Port) Getc() int {
	if p.ring.Empty() {
		return -1
	}
	ps := p.irq.Save()
	b, ok := p.ring.get()
	p.irq.Restore(ps)
	if !ok {
		return -1
	}
	return int(b)
}

// Available reports whether a byte is waiting.
func (p *Port) Available() bool { return !p.ring.Empty() }

// Dropped returns how many RX bytes were discarded on ring overflow.
func (p *Port) Dropped() uint32 {
	ps := p.irq.Save()
	n := p.dropped
	p.irq.Restore(ps)
	return n
}

// Putc transmits one byte.
func (p *Port) Putc(b byte) {
	if p.w != nil {
		p.w.Write([]byte{b})
	}
}

// WriteString transmits a string.
func (p *Port) WriteString(s string) {
	if p.w != nil {
		io.WriteString(p.w, s)
	}
}

// Write implements io.Writer for the TX side.
func (p *Port) Write(b []byte) (int, error) {
	if p.w == nil {
		return len(b), nil
	}
	return p.w.Write(b)
}
