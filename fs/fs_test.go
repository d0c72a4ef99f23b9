package fs

import (
	"bytes"
	"testing"

	"ositok/hal"
)

const testFlashSize = 64 * SectorSize // 62 data sectors after metadata

func newTestFS(t *testing.T) *FS {
	t.Helper()
	f := New(hal.NewMemFlash(testFlashSize), Config{})
	if err := f.Format(); err != nil {
		t.Fatalf("Format() error: %v", err)
	}
	return f
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestMountRejectsBlankFlash(t *testing.T) {
	f := New(hal.NewMemFlash(testFlashSize), Config{})
	if err := f.Mount(); err != ErrNotMounted {
		t.Fatalf("Mount() on blank flash = %v, want ErrNotMounted", err)
	}
	if f.Mounted() {
		t.Fatal("Mounted() true on blank flash")
	}

	// Format is still allowed, and a remount sees the new filesystem.
	if err := f.Format(); err != nil {
		t.Fatalf("Format() error: %v", err)
	}
	if err := f.Mount(); err != nil {
		t.Fatalf("Mount() after format = %v", err)
	}
}

func TestFormatPublishesGeometry(t *testing.T) {
	f := newTestFS(t)

	if got, want := f.DataSectors(), uint32(62); got != want {
		t.Fatalf("DataSectors() = %d, want %d", got, want)
	}
	if got, want := f.FreeBytes(), uint32(62*SectorSize); got != want {
		t.Fatalf("FreeBytes() = %d, want %d", got, want)
	}
	if got := f.FileCount(); got != 0 {
		t.Fatalf("FileCount() = %d, want 0", got)
	}
}

// Full write/read lifecycle of a single file.
func TestCreateStatReadDeleteCycle(t *testing.T) {
	f := newTestFS(t)
	payload := []byte("Hello, world!\n")

	if err := f.Create("hello.txt", payload); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if got, err := f.Stat("hello.txt"); err != nil || got != 14 {
		t.Fatalf("Stat() = (%d, %v), want (14, nil)", got, err)
	}

	buf := make([]byte, 32)
	n, err := f.Read("hello.txt", buf)
	if err != nil || n != 14 {
		t.Fatalf("Read() = (%d, %v), want (14, nil)", n, err)
	}
	if !bytes.Equal(buf[:14], payload) {
		t.Fatalf("Read() content = %q, want %q", buf[:14], payload)
	}

	if got, want := f.FreeBytes(), uint32(61*SectorSize); got != want {
		t.Fatalf("FreeBytes() = %d, want %d", got, want)
	}

	if err := f.Delete("hello.txt"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if got, err := f.Stat("hello.txt"); err != ErrNotFound || got != -1 {
		t.Fatalf("Stat() after delete = (%d, %v), want (-1, ErrNotFound)", got, err)
	}
	if got, want := f.FreeBytes(), uint32(62*SectorSize); got != want {
		t.Fatalf("FreeBytes() after delete = %d, want %d", got, want)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newTestFS(t)

	if err := f.Create("", []byte("x")); err != ErrInvalid {
		t.Fatalf("empty name: %v, want ErrInvalid", err)
	}
	if err := f.Create("empty", nil); err != ErrInvalid {
		t.Fatalf("zero size: %v, want ErrInvalid", err)
	}

	if err := f.Create("dup", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := f.Create("dup", []byte("b")); err != ErrExists {
		t.Fatalf("duplicate: %v, want ErrExists", err)
	}
}

func TestCreateSurvivesUnrelatedChurn(t *testing.T) {
	f := newTestFS(t)
	keep := pattern(3000, 1)

	if err := f.Create("keep", keep); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		if err := f.Create("churn", pattern(SectorSize+100, byte(i))); err != nil {
			t.Fatal(err)
		}
		if err := f.Rename("churn", "churn2"); err != nil {
			t.Fatal(err)
		}
		if err := f.Delete("churn2"); err != nil {
			t.Fatal(err)
		}
	}

	buf := make([]byte, 4096)
	n, err := f.Read("keep", buf)
	if err != nil || n != len(keep) {
		t.Fatalf("Read() = (%d, %v)", n, err)
	}
	if !bytes.Equal(buf[:n], keep) {
		t.Fatal("content changed across unrelated create/rename/delete churn")
	}
}

func TestNameLengthBoundary(t *testing.T) {
	f := newTestFS(t)

	name := string(bytes.Repeat([]byte("n"), NameLen-1))
	if err := f.Create(name, []byte("data")); err != nil {
		t.Fatalf("Create(%d-char name) error: %v", NameLen-1, err)
	}
	if got, err := f.Stat(name); err != nil || got != 4 {
		t.Fatalf("Stat() = (%d, %v)", got, err)
	}

	files, err := f.List()
	if err != nil || len(files) != 1 {
		t.Fatalf("List() = (%v, %v)", files, err)
	}
	if files[0].Name != name {
		t.Fatalf("listed name %q, want %q", files[0].Name, name)
	}
}

func TestUnalignedSizeRoundTrips(t *testing.T) {
	f := newTestFS(t)
	payload := pattern(4097+2, 9) // size mod 4 != 0, spans two sectors

	if err := f.Create("odd", payload); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2*SectorSize)
	n, err := f.Read("odd", buf)
	if err != nil || n != len(payload) {
		t.Fatalf("Read() = (%d, %v), want (%d, nil)", n, err, len(payload))
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatal("unaligned payload mangled")
	}
}

func TestReadClampsToBuffer(t *testing.T) {
	f := newTestFS(t)
	if err := f.Create("big", pattern(300, 3)); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 100)
	n, err := f.Read("big", buf)
	if err != nil || n != 100 {
		t.Fatalf("Read() = (%d, %v), want (100, nil)", n, err)
	}
	if !bytes.Equal(buf, pattern(300, 3)[:100]) {
		t.Fatal("clamped read returned wrong prefix")
	}
}

// Overwrite stays in place while it fits and relocates when
// it grows.
func TestOverwriteInPlaceVsReallocate(t *testing.T) {
	f := newTestFS(t)

	one := pattern(SectorSize, 1)
	if err := f.Create("a", one); err != nil {
		t.Fatal(err)
	}
	files, _ := f.List()
	s0 := files[0].StartSector

	oneB := pattern(SectorSize-17, 2)
	if err := f.Overwrite("a", oneB); err != nil {
		t.Fatal(err)
	}
	files, _ = f.List()
	if files[0].StartSector != s0 {
		t.Fatalf("in-place overwrite moved file: %d -> %d", s0, files[0].StartSector)
	}
	buf := make([]byte, SectorSize)
	n, _ := f.Read("a", buf)
	if !bytes.Equal(buf[:n], oneB) {
		t.Fatal("in-place overwrite content wrong")
	}

	three := pattern(3*SectorSize-5, 3)
	if err := f.Overwrite("a", three); err != nil {
		t.Fatal(err)
	}
	files, _ = f.List()
	if files[0].StartSector == s0 {
		t.Fatal("grown overwrite did not relocate")
	}
	if files[0].SectorCount != 3 {
		t.Fatalf("sector count = %d, want 3", files[0].SectorCount)
	}
	buf = make([]byte, 3*SectorSize)
	n, _ = f.Read("a", buf)
	if !bytes.Equal(buf[:n], three) {
		t.Fatal("relocated overwrite content wrong")
	}
}

func TestOverwriteCreatesMissingFile(t *testing.T) {
	f := newTestFS(t)
	if err := f.Overwrite("new", []byte("fresh")); err != nil {
		t.Fatal(err)
	}
	if got, err := f.Stat("new"); err != nil || got != 5 {
		t.Fatalf("Stat() = (%d, %v)", got, err)
	}
}

func TestAppendWithinAllocation(t *testing.T) {
	f := newTestFS(t)

	head := pattern(100, 1)
	if err := f.Create("log", head); err != nil {
		t.Fatal(err)
	}

	// Partial-last-sector path.
	tail := pattern(200, 2)
	if err := f.Append("log", tail); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	want := append(append([]byte(nil), head...), tail...)
	buf := make([]byte, SectorSize)
	n, err := f.Read("log", buf)
	if err != nil || n != len(want) {
		t.Fatalf("Read() = (%d, %v), want (%d, nil)", n, err, len(want))
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatal("appended content wrong")
	}

	// Growth past the sector run is refused, content untouched.
	if err := f.Append("log", pattern(SectorSize, 5)); err != ErrTooLong {
		t.Fatalf("oversized Append() = %v, want ErrTooLong", err)
	}
	n, _ = f.Read("log", buf)
	if !bytes.Equal(buf[:n], want) {
		t.Fatal("refused append modified the file")
	}

	if err := f.Append("nothere", []byte("x")); err != ErrNotFound {
		t.Fatalf("Append() to missing file = %v, want ErrNotFound", err)
	}
}

func TestAppendSpansIntoFullSectors(t *testing.T) {
	f := newTestFS(t)

	head := pattern(SectorSize+10, 1) // two sectors allocated
	if err := f.Create("big", head); err != nil {
		t.Fatal(err)
	}
	// Fill the rest of sector two exactly.
	tail := pattern(SectorSize-10, 2)
	if err := f.Append("big", tail); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	want := append(append([]byte(nil), head...), tail...)
	buf := make([]byte, 2*SectorSize)
	n, err := f.Read("big", buf)
	if err != nil || n != len(want) {
		t.Fatalf("Read() = (%d, %v), want (%d, nil)", n, err, len(want))
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatal("sector-spanning append content wrong")
	}
}

// Rename: the old name is gone, the new one carries size and contents.
func TestRenamePreservesContents(t *testing.T) {
	f := newTestFS(t)
	payload := pattern(500, 7)

	if err := f.Create("a", payload); err != nil {
		t.Fatal(err)
	}
	if err := f.Rename("a", "b"); err != nil {
		t.Fatalf("Rename() error: %v", err)
	}

	if got, err := f.Stat("a"); err != ErrNotFound || got != -1 {
		t.Fatalf("Stat(a) = (%d, %v), want (-1, ErrNotFound)", got, err)
	}
	if got, err := f.Stat("b"); err != nil || got != len(payload) {
		t.Fatalf("Stat(b) = (%d, %v), want (%d, nil)", got, err, len(payload))
	}
	buf := make([]byte, 1024)
	n, _ := f.Read("b", buf)
	if !bytes.Equal(buf[:n], payload) {
		t.Fatal("rename lost contents")
	}

	if err := f.Create("c", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := f.Rename("b", "c"); err != ErrExists {
		t.Fatalf("Rename onto existing = %v, want ErrExists", err)
	}
	if err := f.Rename("ghost", "d"); err != ErrNotFound {
		t.Fatalf("Rename missing = %v, want ErrNotFound", err)
	}
}

func TestSectorExhaustion(t *testing.T) {
	f := newTestFS(t) // 62 data sectors, fewer than the table holds

	var err error
	for i := 0; i <= 62; i++ {
		err = f.Create(seqName(i), []byte{1, 2, 3})
		if err != nil {
			break
		}
	}
	if err != ErrNoSpace {
		t.Fatalf("exhaustion error = %v, want ErrNoSpace", err)
	}
}

func TestFileTableFull(t *testing.T) {
	// Enough sectors that the 128-slot table fills first.
	f := New(hal.NewMemFlash(200*SectorSize), Config{})
	if err := f.Format(); err != nil {
		t.Fatal(err)
	}

	var err error
	for i := 0; i <= MaxFiles; i++ {
		err = f.Create(seqName(i), []byte{1, 2, 3})
		if err != nil {
			break
		}
	}
	if err != ErrTableFull {
		t.Fatalf("exhaustion error = %v, want ErrTableFull", err)
	}
}

func seqName(i int) string {
	return string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestNoContiguousRun(t *testing.T) {
	// Tiny device: 3 data sectors.
	f := New(hal.NewMemFlash(5*SectorSize), Config{})
	if err := f.Format(); err != nil {
		t.Fatal(err)
	}

	if err := f.Create("a", pattern(10, 1)); err != nil { // sector 0
		t.Fatal(err)
	}
	if err := f.Create("b", pattern(10, 2)); err != nil { // sector 1
		t.Fatal(err)
	}
	if err := f.Create("c", pattern(10, 3)); err != nil { // sector 2
		t.Fatal(err)
	}
	if err := f.Delete("b"); err != nil { // free the middle
		t.Fatal(err)
	}

	// Only the middle sector is free, so no two contiguous sectors
	// exist. A two-sector file must fail.
	if err := f.Create("big", pattern(SectorSize+1, 4)); err != ErrNoSpace {
		t.Fatalf("fragmented create = %v, want ErrNoSpace", err)
	}
	// A one-sector file lands in the hole.
	if err := f.Create("small", pattern(20, 5)); err != nil {
		t.Fatalf("hole-filling create failed: %v", err)
	}
	files, _ := f.List()
	for _, fi := range files {
		if fi.Name == "small" && fi.StartSector != 1 {
			t.Fatalf("small landed at sector %d, want the hole at 1", fi.StartSector)
		}
	}
}

func TestFileCountTracksSuperblock(t *testing.T) {
	f := newTestFS(t)

	for i, name := range []string{"x", "y", "z"} {
		if err := f.Create(name, []byte("d")); err != nil {
			t.Fatal(err)
		}
		if got := f.FileCount(); got != uint32(i+1) {
			t.Fatalf("FileCount() = %d, want %d", got, i+1)
		}
	}
	if err := f.Delete("y"); err != nil {
		t.Fatal(err)
	}
	if got := f.FileCount(); got != 2 {
		t.Fatalf("FileCount() after delete = %d, want 2", got)
	}

	// A fresh instance over the same device sees the same state.
	f2 := New(f.dev, Config{})
	if err := f2.Mount(); err != nil {
		t.Fatalf("remount error: %v", err)
	}
	if got := f2.FileCount(); got != 2 {
		t.Fatalf("remounted FileCount() = %d, want 2", got)
	}
}

func TestCRC16KnownVectors(t *testing.T) {
	cases := []struct {
		in   string
		want uint16
	}{
		{"", 0xFFFF},
		{"123456789", 0x29B1}, // CRC-16/CCITT-FALSE check value
		{"A", 0xB915},
	}
	for _, tc := range cases {
		if got := CRC16([]byte(tc.in)); got != tc.want {
			t.Errorf("CRC16(%q) = %#04x, want %#04x", tc.in, got, tc.want)
		}
	}
}
