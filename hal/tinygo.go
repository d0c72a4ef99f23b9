//go:build tinygo

package hal

import (
	"machine"
	"time"
)

type deviceHAL struct {
	logger *deviceLogger
	flash  Flash
	serial Serial
	t      *deviceTime
}

// Config tunes the device HAL. Headless has no meaning on hardware: the
// UART is whatever the board wires up.
type Config struct {
	TickHz   int
	Headless bool
}

// New returns the on-device HAL implementation.
func New(cfg Config) HAL {
	if cfg.TickHz <= 0 {
		cfg.TickHz = 100
	}
	return &deviceHAL{
		logger: &deviceLogger{},
		flash:  newDeviceFlash(),
		serial: machine.Serial,
		t:      newDeviceTime(cfg.TickHz),
	}
}

func (h *deviceHAL) Logger() Logger { return h.logger }
func (h *deviceHAL) Flash() Flash   { return h.flash }
func (h *deviceHAL) Serial() Serial { return h.serial }
func (h *deviceHAL) Time() Time     { return h.t }

type deviceLogger struct{}

func (deviceLogger) WriteLineString(s string) {
	println(s)
}

func (deviceLogger) WriteLineBytes(b []byte) {
	print(string(b), "\n")
}

type deviceTime struct {
	ch chan uint64
}

func newDeviceTime(hz int) *deviceTime {
	t := &deviceTime{ch: make(chan uint64, 16)}
	go func() {
		period := time.Second / time.Duration(hz)
		var seq uint64
		for {
			time.Sleep(period)
			seq++
			select {
			case t.ch <- seq:
			default:
			}
		}
	}()
	return t
}

func (t *deviceTime) Ticks() <-chan uint64 { return t.ch }
