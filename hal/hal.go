package hal

import (
	"errors"
	"io"

	"tinygo.org/x/tinyfs"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

// Flash provides raw access to non-volatile memory.
//
// It is the tinyfs block-device contract: byte-addressed reads and writes
// plus erase at erase-block granularity. Erased flash reads 0xFF and a
// write may only clear bits.
type Flash interface {
	tinyfs.BlockDevice
}

// Serial is the byte pipe the kernel's UART sits on.
//
// Reads block until at least one byte arrives. Writes are atomic per call.
type Serial interface {
	io.Reader
	io.Writer
}

// Time provides the base tick stream that drives the kernel's timer
// interrupt. The tick period is platform-defined.
type Time interface {
	Ticks() <-chan uint64
}

// HAL is the only contact point between the kernel and the outside world.
type HAL interface {
	Logger() Logger
	Flash() Flash
	Serial() Serial
	Time() Time
}
