// Package fs implements OsitoFS, a flat filesystem on NOR flash in the
// spirit of the BBC Micro's DFS: no directories, contiguous allocation,
// a single superblock and a single fixed-size file table.
//
// Flash layout from the configured base:
//
//	sector 0   superblock (magic, version, stats)
//	sector 1   file table (128 entries x 32 bytes)
//	sector 2+  data area
package fs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"tinygo.org/x/tinyfs"

	"ositok/hal"
)

const (
	// SectorSize is the flash erase unit.
	SectorSize = 4096
	// MaxFiles is the file table capacity.
	MaxFiles = 128
	// NameLen is the file name field size including the terminator.
	NameLen = 24
	// EntrySize is one packed file table entry.
	EntrySize = 32

	// Magic is "OSFT" little-endian.
	Magic   = 0x4F534654
	Version = 1
)

var (
	ErrNotMounted = errors.New("fs: not mounted")
	ErrNotFound   = errors.New("fs: file not found")
	ErrExists     = errors.New("fs: file exists")
	ErrInvalid    = errors.New("fs: invalid name or size")
	ErrTableFull  = errors.New("fs: file table full")
	ErrNoSpace    = errors.New("fs: no space")
	ErrTooLong    = errors.New("fs: append won't fit in allocated sectors")
	ErrTimeout    = errors.New("fs: upload timeout")
)

// IRQ is the interrupt mask held across multi-step table operations, so
// the shared sector buffer is never observed mid-update.
type IRQ interface {
	Save() uint32
	Restore(ps uint32)
}

type nopIRQ struct{}

func (nopIRQ) Save() uint32     { return 0 }
func (nopIRQ) Restore(_ uint32) {}

// Config places the filesystem on its device.
type Config struct {
	// Base is the flash byte offset of the superblock sector. Must be
	// erase-block aligned.
	Base uint32
	// TickHz is the kernel tick rate; the upload timeout is measured
	// in ticks.
	TickHz int
	IRQ    IRQ
	Log    hal.Logger
}

// entry is a decoded file table entry.
type entry struct {
	name        [NameLen]byte
	size        uint32
	startSector uint16
	sectorCount uint16
}

func (e *entry) free() bool {
	return e.name[0] == 0x00 || e.name[0] == 0xFF
}

func (e *entry) nameString() string {
	n := 0
	for n < NameLen && e.name[n] != 0 {
		n++
	}
	return string(e.name[:n])
}

func (e *entry) setName(name string) {
	for i := range e.name {
		e.name[i] = 0
	}
	copy(e.name[:NameLen-1], name)
}

// super is the decoded superblock.
type super struct {
	magic        uint32
	version      uint32
	totalSectors uint32
	fileCount    uint32
}

// FS is one mounted OsitoFS instance.
//
// The sector-sized secBuf is shared by table reads, superblock writes,
// upload reception and overwrite padding. It is not reentrant: every
// multi-step path masks interrupts for the duration, and re-reads the
// table before any step that depends on it, because a nested superblock
// write clobbers the buffer.
type FS struct {
	dev         tinyfs.BlockDevice
	cfg         Config
	dataSectors uint32
	mounted     bool

	secBuf [SectorSize]byte
}

// New places a filesystem on dev at cfg.Base. The data area is everything
// from base + two sectors to the end of the device.
func New(dev tinyfs.BlockDevice, cfg Config) *FS {
	if cfg.IRQ == nil {
		cfg.IRQ = nopIRQ{}
	}
	if cfg.TickHz <= 0 {
		cfg.TickHz = 100
	}
	f := &FS{dev: dev, cfg: cfg}
	if total := uint32(dev.Size()); total > cfg.Base+2*SectorSize {
		f.dataSectors = (total - cfg.Base - 2*SectorSize) / SectorSize
	}
	return f
}

func (f *FS) logf(format string, args ...any) {
	if f.cfg.Log != nil {
		f.cfg.Log.WriteLineString(fmt.Sprintf(format, args...))
	}
}

// ====== Low-level flash helpers ======

func (f *FS) superAddr() uint32 { return f.cfg.Base }
func (f *FS) tableAddr() uint32 { return f.cfg.Base + SectorSize }
func (f *FS) dataAddr(sector uint32) uint32 {
	return f.cfg.Base + 2*SectorSize + sector*SectorSize
}

func (f *FS) flashRead(addr uint32, dst []byte) {
	_, _ = f.dev.ReadAt(dst, int64(addr))
}

func (f *FS) flashEraseSector(addr uint32) {
	_ = f.dev.EraseBlocks(int64(addr)/SectorSize, 1)
}

// flashWrite writes p at addr, padding the tail with 0xFF up to a whole
// word for the part's write alignment.
func (f *FS) flashWrite(addr uint32, p []byte) {
	n := len(p) &^ 3
	if n > 0 {
		_, _ = f.dev.WriteAt(p[:n], int64(addr))
	}
	if rem := len(p) - n; rem > 0 {
		var tail [4]byte
		copy(tail[:], p[n:])
		for i := rem; i < 4; i++ {
			tail[i] = 0xFF
		}
		_, _ = f.dev.WriteAt(tail[:], int64(addr)+int64(n))
	}
}

// ====== File table operations (secBuf holds the table) ======

func (f *FS) readTable() {
	f.flashRead(f.tableAddr(), f.secBuf[:])
}

func (f *FS) writeTable() {
	f.flashEraseSector(f.tableAddr())
	f.flashWrite(f.tableAddr(), f.secBuf[:])
}

func (f *FS) tableEntry(i int) entry {
	var e entry
	b := f.secBuf[i*EntrySize:]
	copy(e.name[:], b[:NameLen])
	e.size = binary.LittleEndian.Uint32(b[NameLen:])
	e.startSector = binary.LittleEndian.Uint16(b[NameLen+4:])
	e.sectorCount = binary.LittleEndian.Uint16(b[NameLen+6:])
	return e
}

func (f *FS) putEntry(i int, e entry) {
	b := f.secBuf[i*EntrySize : (i+1)*EntrySize]
	copy(b[:NameLen], e.name[:])
	binary.LittleEndian.PutUint32(b[NameLen:], e.size)
	binary.LittleEndian.PutUint16(b[NameLen+4:], e.startSector)
	binary.LittleEndian.PutUint16(b[NameLen+6:], e.sectorCount)
}

func (f *FS) clearEntry(i int) {
	b := f.secBuf[i*EntrySize : (i+1)*EntrySize]
	for j := range b {
		b[j] = 0
	}
}

// findFile returns the table index of name, or -1. secBuf must hold the
// table.
func (f *FS) findFile(name string) int {
	for i := 0; i < MaxFiles; i++ {
		e := f.tableEntry(i)
		if !e.free() && e.nameString() == name {
			return i
		}
	}
	return -1
}

func (f *FS) findFreeSlot() int {
	for i := 0; i < MaxFiles; i++ {
		e := f.tableEntry(i)
		if e.free() {
			return i
		}
	}
	return -1
}

// ====== Sector allocation (bitmap-based) ======

// buildBitmap marks the [start, start+count) run of every in-use entry.
// secBuf must hold the table.
func (f *FS) buildBitmap() []byte {
	bmap := make([]byte, (f.dataSectors+7)/8)
	for i := 0; i < MaxFiles; i++ {
		e := f.tableEntry(i)
		if e.free() {
			continue
		}
		for s := uint32(0); s < uint32(e.sectorCount); s++ {
			bit := uint32(e.startSector) + s
			if bit < f.dataSectors {
				bmap[bit/8] |= 1 << (bit % 8)
			}
		}
	}
	return bmap
}

// allocSectors finds the first run of count clear bits. Returns -1 when
// no contiguous run exists.
func (f *FS) allocSectors(bmap []byte, count uint32) int {
	run := uint32(0)
	start := uint32(0)
	for i := uint32(0); i < f.dataSectors; i++ {
		if bmap[i/8]&(1<<(i%8)) != 0 {
			run = 0
			start = i + 1
		} else {
			run++
			if run >= count {
				return int(start)
			}
		}
	}
	return -1
}

func (f *FS) countFree(bmap []byte) uint32 {
	var free uint32
	for i := uint32(0); i < f.dataSectors; i++ {
		if bmap[i/8]&(1<<(i%8)) == 0 {
			free++
		}
	}
	return free
}

// ====== Superblock ======

func (f *FS) readSuper() super {
	var b [16]byte
	f.flashRead(f.superAddr(), b[:])
	return super{
		magic:        binary.LittleEndian.Uint32(b[0:]),
		version:      binary.LittleEndian.Uint32(b[4:]),
		totalSectors: binary.LittleEndian.Uint32(b[8:]),
		fileCount:    binary.LittleEndian.Uint32(b[12:]),
	}
}

// writeSuper reuses secBuf, clobbering whatever it held.
func (f *FS) writeSuper(sb super) {
	for i := range f.secBuf {
		f.secBuf[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(f.secBuf[0:], sb.magic)
	binary.LittleEndian.PutUint32(f.secBuf[4:], sb.version)
	binary.LittleEndian.PutUint32(f.secBuf[8:], sb.totalSectors)
	binary.LittleEndian.PutUint32(f.secBuf[12:], sb.fileCount)
	f.flashEraseSector(f.superAddr())
	f.flashWrite(f.superAddr(), f.secBuf[:])
}

func (f *FS) bumpFileCount(delta int32) {
	sb := f.readSuper()
	if delta > 0 {
		sb.fileCount += uint32(delta)
	} else if sb.fileCount > 0 {
		sb.fileCount--
	}
	f.writeSuper(sb)
}

// ====== Public API ======

// Mount validates the superblock. On a magic or version mismatch the
// filesystem stays unmounted; Format is still allowed.
func (f *FS) Mount() error {
	sb := f.readSuper()
	if sb.magic != Magic || sb.version != Version {
		f.logf("fs: no filesystem found (use 'fs format')")
		f.mounted = false
		return ErrNotMounted
	}
	f.mounted = true
	f.logf("fs: mounted, %d files, %d sectors", sb.fileCount, sb.totalSectors)
	return nil
}

// Mounted reports whether a valid filesystem is mounted.
func (f *FS) Mounted() bool { return f.mounted }

// DataSectors returns the number of data sectors the device holds.
func (f *FS) DataSectors() uint32 { return f.dataSectors }

// Format erases the metadata sectors and writes a fresh filesystem. The
// file table is explicitly zero-filled: erased flash reads 0xFF, and 0xFF
// must never appear as a valid first name byte.
func (f *FS) Format() error {
	f.logf("fs: formatting...")

	ps := f.cfg.IRQ.Save()
	f.flashEraseSector(f.superAddr())
	f.flashEraseSector(f.tableAddr())

	for i := range f.secBuf {
		f.secBuf[i] = 0
	}
	f.flashWrite(f.tableAddr(), f.secBuf[:])

	f.writeSuper(super{
		magic:        Magic,
		version:      Version,
		totalSectors: f.dataSectors,
	})
	f.mounted = true
	f.cfg.IRQ.Restore(ps)

	f.logf("fs: formatted, %d sectors (%d KB) available",
		f.dataSectors, f.dataSectors*SectorSize/1024)
	return nil
}

// writeData streams data into count sectors starting at start, erasing
// each sector first.
func (f *FS) writeData(start uint32, count uint16, data []byte) {
	remaining := data
	for s := uint32(0); s < uint32(count); s++ {
		addr := f.dataAddr(start + s)
		f.flashEraseSector(addr)
		chunk := len(remaining)
		if chunk > SectorSize {
			chunk = SectorSize
		}
		f.flashWrite(addr, remaining[:chunk])
		remaining = remaining[chunk:]
	}
}

// Create writes a new file. Empty names, zero sizes and duplicate names
// are rejected.
func (f *FS) Create(name string, data []byte) error {
	if !f.mounted {
		return ErrNotMounted
	}
	if name == "" || len(data) == 0 {
		return ErrInvalid
	}

	ps := f.cfg.IRQ.Save()
	f.readTable()

	if f.findFile(name) >= 0 {
		f.cfg.IRQ.Restore(ps)
		f.logf("fs: file exists")
		return ErrExists
	}

	slot := f.findFreeSlot()
	if slot < 0 {
		f.cfg.IRQ.Restore(ps)
		f.logf("fs: file table full")
		return ErrTableFull
	}

	nsec := uint16((uint32(len(data)) + SectorSize - 1) / SectorSize)
	bmap := f.buildBitmap()
	start := f.allocSectors(bmap, uint32(nsec))
	if start < 0 {
		f.cfg.IRQ.Restore(ps)
		f.logf("fs: no space")
		return ErrNoSpace
	}

	f.writeData(uint32(start), nsec, data)

	// Commit: table entry first, then the superblock count. secBuf still
	// holds the table because writeData bypasses it.
	var e entry
	e.setName(name)
	e.size = uint32(len(data))
	e.startSector = uint16(start)
	e.sectorCount = nsec
	f.putEntry(slot, e)
	f.writeTable()

	f.bumpFileCount(1)

	f.cfg.IRQ.Restore(ps)
	return nil
}

// Read copies the file into buf. Returns the number of bytes read, capped
// at the file size and at len(buf).
func (f *FS) Read(name string, buf []byte) (int, error) {
	if !f.mounted {
		return -1, ErrNotMounted
	}

	f.readTable()
	idx := f.findFile(name)
	if idx < 0 {
		return -1, ErrNotFound
	}

	e := f.tableEntry(idx)
	toRead := e.size
	if toRead > uint32(len(buf)) {
		toRead = uint32(len(buf))
	}

	// Word-aligned read length when the caller's buffer allows it.
	readLen := align4(toRead)
	if readLen > uint32(len(buf)) {
		readLen = toRead
	}
	f.flashRead(f.dataAddr(uint32(e.startSector)), buf[:readLen])
	return int(toRead), nil
}

// Delete clears the table entry. Data sectors become free by being
// unclaimed; they are not erased eagerly.
func (f *FS) Delete(name string) error {
	if !f.mounted {
		return ErrNotMounted
	}

	ps := f.cfg.IRQ.Save()
	f.readTable()

	idx := f.findFile(name)
	if idx < 0 {
		f.cfg.IRQ.Restore(ps)
		return ErrNotFound
	}

	f.clearEntry(idx)
	f.writeTable()
	f.bumpFileCount(-1)

	f.cfg.IRQ.Restore(ps)
	return nil
}

// Stat returns the file size, or -1 with ErrNotFound.
func (f *FS) Stat(name string) (int, error) {
	if !f.mounted {
		return -1, ErrNotMounted
	}
	f.readTable()
	idx := f.findFile(name)
	if idx < 0 {
		return -1, ErrNotFound
	}
	e := f.tableEntry(idx)
	return int(e.size), nil
}

// FileInfo describes one file for listings.
type FileInfo struct {
	Name        string
	Size        uint32
	StartSector uint16
	SectorCount uint16
}

// List returns every file in table order.
func (f *FS) List() ([]FileInfo, error) {
	if !f.mounted {
		return nil, ErrNotMounted
	}
	f.readTable()
	var out []FileInfo
	for i := 0; i < MaxFiles; i++ {
		e := f.tableEntry(i)
		if e.free() {
			continue
		}
		out = append(out, FileInfo{
			Name:        e.nameString(),
			Size:        e.size,
			StartSector: e.startSector,
			SectorCount: e.sectorCount,
		})
	}
	return out, nil
}

// FreeBytes returns the unclaimed data-area capacity.
func (f *FS) FreeBytes() uint32 {
	if !f.mounted {
		return 0
	}
	f.readTable()
	return f.countFree(f.buildBitmap()) * SectorSize
}

// FileCount returns the superblock's file counter.
func (f *FS) FileCount() uint32 {
	if !f.mounted {
		return 0
	}
	return f.readSuper().fileCount
}

// Overwrite replaces a file's contents. When the new size fits the
// existing sector run the rewrite happens in place and the start sector
// is preserved; otherwise the file moves to a new run found while its old
// run is still claimed. Only when no such run exists is the file deleted
// and recreated, which may reuse its old sectors. A missing file is
// created.
func (f *FS) Overwrite(name string, data []byte) error {
	if !f.mounted {
		return ErrNotMounted
	}
	if name == "" || len(data) == 0 {
		return ErrInvalid
	}

	ps := f.cfg.IRQ.Save()
	f.readTable()

	idx := f.findFile(name)
	if idx < 0 {
		f.cfg.IRQ.Restore(ps)
		return f.Create(name, data)
	}

	e := f.tableEntry(idx)
	newNsec := uint16((uint32(len(data)) + SectorSize - 1) / SectorSize)

	if newNsec <= e.sectorCount {
		// Erase the whole old run, then rewrite in place.
		for s := uint32(0); s < uint32(e.sectorCount); s++ {
			f.flashEraseSector(f.dataAddr(uint32(e.startSector) + s))
		}
		remaining := data
		for s := uint32(0); s < uint32(newNsec); s++ {
			chunk := len(remaining)
			if chunk > SectorSize {
				chunk = SectorSize
			}
			f.flashWrite(f.dataAddr(uint32(e.startSector)+s), remaining[:chunk])
			remaining = remaining[chunk:]
		}

		e.size = uint32(len(data))
		e.sectorCount = newNsec
		f.putEntry(idx, e)
		f.writeTable()

		f.cfg.IRQ.Restore(ps)
		return nil
	}

	// Doesn't fit: relocate to a run outside the old one, which is still
	// marked in the bitmap. secBuf still holds the table.
	if start := f.allocSectors(f.buildBitmap(), uint32(newNsec)); start >= 0 {
		f.writeData(uint32(start), newNsec, data)
		e.size = uint32(len(data))
		e.startSector = uint16(start)
		e.sectorCount = newNsec
		f.putEntry(idx, e)
		f.writeTable()
		f.cfg.IRQ.Restore(ps)
		return nil
	}

	// No room beside the old run: delete and recreate.
	f.clearEntry(idx)
	f.writeTable()
	f.bumpFileCount(-1)

	f.cfg.IRQ.Restore(ps)
	return f.Create(name, data)
}

// Append extends a file in place. Valid only while the grown size still
// fits the allocated sector run; there is no reallocation. A partial last
// sector is handled by read-modify-erase-write through the shared buffer.
func (f *FS) Append(name string, data []byte) error {
	if !f.mounted {
		return ErrNotMounted
	}
	if len(data) == 0 {
		return ErrInvalid
	}

	ps := f.cfg.IRQ.Save()
	f.readTable()

	idx := f.findFile(name)
	if idx < 0 {
		f.cfg.IRQ.Restore(ps)
		return ErrNotFound
	}

	e := f.tableEntry(idx)
	oldSize := e.size
	newTotal := oldSize + uint32(len(data))

	needNsec := uint16((newTotal + SectorSize - 1) / SectorSize)
	if needNsec > e.sectorCount {
		f.cfg.IRQ.Restore(ps)
		f.logf("fs: append won't fit in allocated sectors")
		return ErrTooLong
	}

	src := data
	writePos := oldSize

	// Partial last sector: read-modify-write through secBuf.
	if off := writePos % SectorSize; off != 0 {
		secIdx := writePos / SectorSize
		addr := f.dataAddr(uint32(e.startSector) + secIdx)

		f.flashRead(addr, f.secBuf[:])
		chunk := SectorSize - off
		if uint32(len(src)) < chunk {
			chunk = uint32(len(src))
		}
		copy(f.secBuf[off:], src[:chunk])

		f.flashEraseSector(addr)
		f.flashWrite(addr, f.secBuf[:])

		src = src[chunk:]
		writePos += chunk
	}

	// Remaining full sectors go straight from the caller's buffer.
	for len(src) > 0 {
		secIdx := writePos / SectorSize
		addr := f.dataAddr(uint32(e.startSector) + secIdx)
		chunk := len(src)
		if chunk > SectorSize {
			chunk = SectorSize
		}
		f.flashEraseSector(addr)
		f.flashWrite(addr, src[:chunk])
		src = src[chunk:]
		writePos += uint32(chunk)
	}

	// secBuf was reused for data: reload the table before updating it.
	f.readTable()
	e = f.tableEntry(idx)
	e.size = newTotal
	f.putEntry(idx, e)
	f.writeTable()

	f.cfg.IRQ.Restore(ps)
	return nil
}

// Rename changes a file's name in place. The target name must not exist.
func (f *FS) Rename(oldName, newName string) error {
	if !f.mounted {
		return ErrNotMounted
	}
	if oldName == "" || newName == "" {
		return ErrInvalid
	}

	ps := f.cfg.IRQ.Save()
	f.readTable()

	idx := f.findFile(oldName)
	if idx < 0 {
		f.cfg.IRQ.Restore(ps)
		return ErrNotFound
	}
	if f.findFile(newName) >= 0 {
		f.cfg.IRQ.Restore(ps)
		f.logf("fs: target name exists")
		return ErrExists
	}

	e := f.tableEntry(idx)
	e.setName(newName)
	f.putEntry(idx, e)
	f.writeTable()

	f.cfg.IRQ.Restore(ps)
	return nil
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }
