package fs

import (
	"bytes"
	"fmt"
	"testing"
)

// scriptUplink feeds a canned payload to Upload and records everything
// the device transmits. The tick clock advances a little on every yield
// so timeout arithmetic is exercised without waiting.
type scriptUplink struct {
	payload []byte
	pos     int

	out   bytes.Buffer
	ticks uint32
}

func (u *scriptUplink) ReadByte() int {
	if u.pos >= len(u.payload) {
		return -1
	}
	b := u.payload[u.pos]
	u.pos++
	return int(b)
}

func (u *scriptUplink) WriteByte(b byte)     { u.out.WriteByte(b) }
func (u *scriptUplink) WriteString(s string) { u.out.WriteString(s) }
func (u *scriptUplink) Ticks() uint32        { return u.ticks }
func (u *scriptUplink) Yield()               { u.ticks += 100 }

func TestUploadProtocol(t *testing.T) {
	f := newTestFS(t)

	// 5000 bytes: two sectors, the second partial.
	payload := pattern(5000, 21)
	up := &scriptUplink{payload: payload}

	crc, err := f.Upload("blob.bin", uint32(len(payload)), up)
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if want := CRC16(payload); crc != want {
		t.Fatalf("Upload() crc = %#04x, want %#04x", crc, want)
	}

	wire := up.out.String()
	if !bytes.HasPrefix(up.out.Bytes(), []byte("READY\n")) {
		t.Fatalf("wire output %q does not start with READY", wire)
	}
	if got := bytes.Count(up.out.Bytes(), []byte{'#'}); got != 2 {
		t.Fatalf("acked %d sectors, want 2", got)
	}
	if want := fmt.Sprintf("\nOK 0x%08x\n", crc); !bytes.HasSuffix(up.out.Bytes(), []byte(want)) {
		t.Fatalf("wire output %q does not end with %q", wire, want)
	}

	// The file reads back byte for byte.
	buf := make([]byte, 2*SectorSize)
	n, err := f.Read("blob.bin", buf)
	if err != nil || n != len(payload) {
		t.Fatalf("Read() = (%d, %v), want (%d, nil)", n, err, len(payload))
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatal("uploaded content mangled")
	}
}

func TestUploadReservesBeforeReceiving(t *testing.T) {
	f := newTestFS(t)
	free := f.FreeBytes()

	up := &scriptUplink{payload: pattern(100, 1)}
	if _, err := f.Upload("tiny", 100, up); err != nil {
		t.Fatal(err)
	}
	if got := f.FreeBytes(); got != free-SectorSize {
		t.Fatalf("free = %d after upload, want %d", got, free-SectorSize)
	}
	if got := f.FileCount(); got != 1 {
		t.Fatalf("FileCount() = %d, want 1", got)
	}
}

func TestUploadReplacesExisting(t *testing.T) {
	f := newTestFS(t)

	if err := f.Create("app", pattern(3000, 1)); err != nil {
		t.Fatal(err)
	}

	payload := pattern(600, 9)
	up := &scriptUplink{payload: payload}
	if _, err := f.Upload("app", uint32(len(payload)), up); err != nil {
		t.Fatal(err)
	}

	if got, err := f.Stat("app"); err != nil || got != len(payload) {
		t.Fatalf("Stat() = (%d, %v), want (%d, nil)", got, err, len(payload))
	}
	if got := f.FileCount(); got != 1 {
		t.Fatalf("FileCount() = %d, want 1 (replacement, not a twin)", got)
	}
	buf := make([]byte, SectorSize)
	n, _ := f.Read("app", buf)
	if !bytes.Equal(buf[:n], payload) {
		t.Fatal("replacement content wrong")
	}
}

func TestUploadTimeoutDeletesPartialFile(t *testing.T) {
	f := newTestFS(t)

	// The first sector arrives, then the line goes dead.
	up := &starvingUplink{
		scriptUplink: scriptUplink{payload: pattern(SectorSize, 4)},
		after:        SectorSize,
	}
	_, err := f.Upload("partial", SectorSize+500, up)
	if err != ErrTimeout {
		t.Fatalf("Upload() = %v, want ErrTimeout", err)
	}
	if !bytes.Contains(up.out.Bytes(), []byte("ERR timeout\n")) {
		t.Fatalf("wire output %q lacks the timeout error", up.out.String())
	}

	// The partial file was deleted and its sectors reclaimed.
	if _, err := f.Stat("partial"); err != ErrNotFound {
		t.Fatalf("Stat() after timeout = %v, want ErrNotFound", err)
	}
	if got, want := f.FreeBytes(), uint32(62*SectorSize); got != want {
		t.Fatalf("free = %d after aborted upload, want %d", got, want)
	}
}

// starvingUplink delivers `after` bytes, then goes silent forever.
type starvingUplink struct {
	scriptUplink
	after int
}

func (u *starvingUplink) ReadByte() int {
	if u.pos >= u.after {
		return -1
	}
	return u.scriptUplink.ReadByte()
}

func TestUploadValidation(t *testing.T) {
	f := newTestFS(t)
	up := &scriptUplink{}

	if _, err := f.Upload("", 10, up); err != ErrInvalid {
		t.Fatalf("empty name: %v, want ErrInvalid", err)
	}
	if _, err := f.Upload("x", 0, up); err != ErrInvalid {
		t.Fatalf("zero size: %v, want ErrInvalid", err)
	}
	if _, err := f.Upload("huge", 63*SectorSize, up); err != ErrNoSpace {
		t.Fatalf("oversized: %v, want ErrNoSpace", err)
	}
}
