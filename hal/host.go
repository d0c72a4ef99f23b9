//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"sync"
)

type hostHAL struct {
	logger *hostLogger
	flash  Flash
	serial Serial
	t      *hostTime
}

// Config tunes the host HAL.
type Config struct {
	TickHz int

	// Headless detaches the UART from the process stdio. The OS still
	// runs; a console can attach through the OSITO_SERIAL TCP backend.
	Headless bool
}

// New returns a host HAL implementation.
func New(cfg Config) HAL {
	return &hostHAL{
		logger: &hostLogger{w: os.Stderr},
		flash:  newHostFlash(),
		serial: newHostSerial(cfg.Headless),
		t:      newHostTime(cfg.TickHz),
	}
}

func (h *hostHAL) Logger() Logger { return h.logger }
func (h *hostHAL) Flash() Flash   { return h.flash }
func (h *hostHAL) Serial() Serial { return h.serial }
func (h *hostHAL) Time() Time     { return h.t }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}
