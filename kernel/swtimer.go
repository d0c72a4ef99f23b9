package kernel

// Software timers: a fixed-capacity registry scanned on every tick.
// Callbacks run in ISR context: they must not block, must not take
// mutexes held by tasks, and must keep work short. Posting a semaphore is
// allowed.

// TimerMode selects one-shot or periodic behaviour.
type TimerMode uint8

const (
	OneShot TimerMode = iota
	Periodic
)

// SWTimerMax bounds the registry.
const SWTimerMax = 16

// Timer is a user-owned software timer record.
type Timer struct {
	callback func(arg any)
	arg      any
	interval uint32
	expire   uint32
	mode     TimerMode
	active   bool
}

// NewTimer initialises a timer with its callback. The timer is inactive
// until TimerStart.
func NewTimer(cb func(arg any), arg any) *Timer {
	return &Timer{callback: cb, arg: arg}
}

// Active reports whether the timer is armed.
func (t *Timer) Active() bool { return t.active }

// timerRegister appends t unless it is already present or the registry is
// full. Interrupts must be masked.
func (k *Kernel) timerRegister(t *Timer) {
	for _, r := range k.timers {
		if r == t {
			return
		}
	}
	if len(k.timers) < SWTimerMax {
		k.timers = append(k.timers, t)
	}
}

// timerUnregister removes t by compaction. Interrupts must be masked.
func (k *Kernel) timerUnregister(t *Timer) {
	for i, r := range k.timers {
		if r == t {
			k.timers = append(k.timers[:i], k.timers[i+1:]...)
			return
		}
	}
}

// TimerStart arms t to fire after ticks ticks, reloading every interval
// in Periodic mode.
func (k *Kernel) TimerStart(t *Timer, ticks uint32, mode TimerMode) {
	ps := k.irq.Save()
	t.interval = ticks
	t.mode = mode
	t.expire = k.tickCount + ticks
	t.active = true
	k.timerRegister(t)
	k.irq.Restore(ps)
}

// TimerStop disarms and unregisters t.
func (k *Kernel) TimerStop(t *Timer) {
	ps := k.irq.Save()
	t.active = false
	k.timerUnregister(t)
	k.irq.Restore(ps)
}

// TimerCount returns the number of registered timers.
func (k *Kernel) TimerCount() int {
	ps := k.irq.Save()
	n := len(k.timers)
	k.irq.Restore(ps)
	return n
}

// timerTick collects the timers due at the current tick. Periodic entries
// reload in place; one-shot entries are deactivated and unregistered, and
// the iterator compensates for the compaction by not advancing. Interrupts
// must be masked; callbacks fire after the mask drops.
func (k *Kernel) timerTick() []*Timer {
	var expired []*Timer
	for i := 0; i < len(k.timers); {
		t := k.timers[i]
		if !t.active {
			i++
			continue
		}
		if int32(k.tickCount-t.expire) >= 0 {
			expired = append(expired, t)
			if t.mode == Periodic {
				t.expire = k.tickCount + t.interval
				i++
			} else {
				t.active = false
				k.timerUnregister(t)
				// List shifted down: do not advance.
			}
		} else {
			i++
		}
	}
	return expired
}
