//go:build !tinygo

package hal

import "time"

// hostTime generates the kernel tick stream from the wall clock.
type hostTime struct {
	ch  chan uint64
	seq uint64
}

func newHostTime(hz int) *hostTime {
	if hz <= 0 {
		hz = 100
	}
	t := &hostTime{ch: make(chan uint64, 64)}
	go t.run(time.Second / time.Duration(hz))
	return t
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

func (t *hostTime) run(period time.Duration) {
	tk := time.NewTicker(period)
	defer tk.Stop()
	for range tk.C {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
			// Consumer stalled: the tick is lost, same as a masked
			// timer interrupt on hardware.
		}
	}
}
