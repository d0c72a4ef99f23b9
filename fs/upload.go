package fs

import "fmt"

// Uplink is what the upload protocol needs from its caller: the UART byte
// stream, the tick clock for the inter-byte timeout, and a way to give up
// the CPU while the line is idle. The shell implements it over the
// console port and the kernel; tests script it.
type Uplink interface {
	// ReadByte returns the next received byte, or -1 when none is
	// waiting.
	ReadByte() int
	WriteByte(b byte)
	WriteString(s string)
	// Ticks returns the current kernel tick count.
	Ticks() uint32
	// Yield gives up the CPU while waiting for more bytes.
	Yield()
}

// uploadTimeoutSecs is the inter-byte timeout.
const uploadTimeoutSecs = 10

// Upload receives totalSize bytes over the uplink into a new file,
// sector by sector:
//
//	device: READY\n
//	host:   totalSize payload bytes
//	device: one '#' per committed sector, then \nOK 0x%08x\n with the
//	        CRC-16/CCITT of the payload
//
// The table entry is committed before any data arrives so the sectors
// cannot be claimed by a concurrent operation. A 10-second gap in the
// payload aborts the transfer, deletes the partial file and emits
// "ERR timeout". An existing file of the same name is replaced.
func (f *FS) Upload(name string, totalSize uint32, up Uplink) (uint16, error) {
	if !f.mounted {
		return 0, ErrNotMounted
	}
	if name == "" || totalSize == 0 {
		return 0, ErrInvalid
	}

	ps := f.cfg.IRQ.Save()

	// Replace an existing file of the same name.
	f.readTable()
	if oldIdx := f.findFile(name); oldIdx >= 0 {
		f.clearEntry(oldIdx)
		f.writeTable()
		f.bumpFileCount(-1)
		// writeSuper reused secBuf: reload the table.
		f.readTable()
	}

	slot := f.findFreeSlot()
	if slot < 0 {
		f.cfg.IRQ.Restore(ps)
		f.logf("fs: file table full")
		return 0, ErrTableFull
	}

	nsec := uint16((totalSize + SectorSize - 1) / SectorSize)
	bmap := f.buildBitmap()
	start := f.allocSectors(bmap, uint32(nsec))
	if start < 0 {
		f.cfg.IRQ.Restore(ps)
		f.logf("fs: no space")
		return 0, ErrNoSpace
	}

	// Reserve the sectors now: commit the entry before receiving.
	var e entry
	e.setName(name)
	e.size = totalSize
	e.startSector = uint16(start)
	e.sectorCount = nsec
	f.putEntry(slot, e)
	f.writeTable()
	f.bumpFileCount(1)

	f.cfg.IRQ.Restore(ps)

	up.WriteString("READY\n")

	crc := uint16(0xFFFF)
	received := uint32(0)
	timeout := uint32(uploadTimeoutSecs * f.cfg.TickHz)

	for sec := uint16(0); sec < nsec; sec++ {
		chunk := totalSize - received
		if chunk > SectorSize {
			chunk = SectorSize
		}

		got := uint32(0)
		lastByte := up.Ticks()
		for got < chunk {
			c := up.ReadByte()
			if c >= 0 {
				f.secBuf[got] = byte(c)
				got++
				lastByte = up.Ticks()
				continue
			}
			up.Yield()
			if up.Ticks()-lastByte > timeout {
				_ = f.Delete(name)
				up.WriteString("ERR timeout\n")
				return 0, ErrTimeout
			}
		}

		crc = crc16Update(crc, f.secBuf[:got])
		received += got

		// Pad the sector tail to erased-flash bytes.
		for i := got; i < SectorSize; i++ {
			f.secBuf[i] = 0xFF
		}

		addr := f.dataAddr(uint32(start) + uint32(sec))
		f.flashEraseSector(addr)
		f.flashWrite(addr, f.secBuf[:])

		// Per-sector ACK: the host waits for '#' before the next chunk.
		up.WriteByte('#')
	}

	up.WriteString(fmt.Sprintf("\nOK 0x%08x\n", crc))
	return crc, nil
}
