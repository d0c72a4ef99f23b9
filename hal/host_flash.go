//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"sync"
)

const hostFlashDefaultPath = "osito.flash"

// fileFlash is a file-backed NOR flash emulation. Erase fills a block with
// 0xFF; writes may only clear bits, like the real part.
type fileFlash struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	scratch [hostFlashEraseBlockBytes]byte
}

// NewFileFlash opens (or creates) a flash image file of the given size.
func NewFileFlash(path string, size int64) (Flash, error) {
	if size <= 0 {
		size = hostFlashDefaultSizeBytes
	}
	if size%hostFlashEraseBlockBytes != 0 {
		return nil, fmt.Errorf("flash size %d not a multiple of erase block %d", size, hostFlashEraseBlockBytes)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flash image %q: %w", path, err)
	}

	fresh := false
	if st, err := f.Stat(); err == nil && st.Size() > 0 {
		size = st.Size()
	} else {
		if err := f.Truncate(size); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("truncate flash image %q to %d: %w", path, size, err)
		}
		fresh = true
	}

	ff := &fileFlash{f: f, size: size}
	for i := range ff.scratch {
		ff.scratch[i] = 0xFF
	}
	if fresh {
		if err := ff.EraseBlocks(0, size/hostFlashEraseBlockBytes); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return ff, nil
}

func newHostFlash() Flash {
	path := os.Getenv("OSITO_FLASH_PATH")
	if path == "" {
		path = hostFlashDefaultPath
	}
	ff, err := NewFileFlash(path, hostFlashDefaultSizeBytes)
	if err != nil {
		return NewMemFlash(hostFlashDefaultSizeBytes)
	}
	return ff
}

func (f *fileFlash) Size() int64           { return f.size }
func (f *fileFlash) WriteBlockSize() int64 { return hostFlashWriteBlockBytes }
func (f *fileFlash) EraseBlockSize() int64 { return hostFlashEraseBlockBytes }

func (f *fileFlash) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= f.size {
		return 0, fmt.Errorf("flash read at %d: %w", off, os.ErrInvalid)
	}
	if max := f.size - off; int64(len(p)) > max {
		p = p[:max]
	}
	return f.f.ReadAt(p, off)
}

func (f *fileFlash) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off < 0 || off >= f.size {
		return 0, fmt.Errorf("flash write at %d: %w", off, os.ErrInvalid)
	}
	if max := f.size - off; int64(len(p)) > max {
		p = p[:max]
	}

	old := make([]byte, len(p))
	if _, err := f.f.ReadAt(old, off); err != nil {
		return 0, fmt.Errorf("flash read before write at %d: %w", off, err)
	}
	for i := range p {
		if old[i]&p[i] != p[i] {
			return 0, ErrFlashWriteRequiresErase
		}
	}
	return f.f.WriteAt(p, off)
}

func (f *fileFlash) EraseBlocks(start, count int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if count == 0 {
		return nil
	}
	off := start * hostFlashEraseBlockBytes
	end := off + count*hostFlashEraseBlockBytes
	if start < 0 || count < 0 || end > f.size {
		return fmt.Errorf("flash erase blocks %d+%d: %w", start, count, os.ErrInvalid)
	}
	for ; off < end; off += hostFlashEraseBlockBytes {
		if _, err := f.f.WriteAt(f.scratch[:], off); err != nil {
			return fmt.Errorf("flash erase block at %d: %w", off, err)
		}
	}
	return nil
}
