package kernel

import (
	"errors"
	"fmt"
	"sync"

	"ositok/hal"
)

// Interrupt numbers, matching the level-1 sources the dispatcher serves.
const (
	IntUART  = 5 // level-triggered, cleared at the peripheral
	IntSoft  = 7 // software yield
	IntTimer = 9 // periodic tick
)

// ExcCauseLevel1Interrupt is the only exception cause the dispatcher acts
// on. Every other cause makes the dispatcher return without action and the
// task resumes at the faulting instruction.
const ExcCauseLevel1Interrupt = 4

const idleTaskID = 0

var (
	ErrNoFreeTask = errors.New("kernel: no free task slots")
	ErrStarted    = errors.New("kernel: scheduler already started")
)

// Config tunes a kernel instance. Zero values select the reference
// configuration: 8 tasks, 1536-byte stacks, 100 Hz tick.
type Config struct {
	MaxTasks  int
	StackSize uint32
	TickHz    int
	Log       hal.Logger

	// WatchdogFeed, when set, is called by the idle task on every pass.
	WatchdogFeed func()
}

// Kernel owns the task arena, the tick, and the interrupt fabric. All
// process-wide mutable state lives here; it is constructed once at boot.
type Kernel struct {
	maskMu sync.Mutex // the interrupt mask: held = interrupts disabled

	cfg Config
	irq IRQ

	stacks []byte // one slab, MaxTasks contiguous stack regions
	tasks  []TCB

	// Handle tables read back out of initial context frames by the
	// trampoline. Append-only; a2/a3 carry indices into them.
	entryTab []TaskFunc
	argTab   []any

	current       *TCB
	lastScheduled int
	tickCount     uint32
	switchSeq     uint32

	pending   uint32 // interrupt-pending register
	intEnable uint32
	uartISR   func()

	timers     []*Timer
	wfi        chan struct{}
	started    bool
	badExcSeen uint32
}

// New constructs the kernel and its idle task (id 0).
func New(cfg Config) *Kernel {
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = 8
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = 1536
	}
	if cfg.TickHz <= 0 {
		cfg.TickHz = 100
	}

	k := &Kernel{
		cfg:       cfg,
		stacks:    make([]byte, cfg.MaxTasks*int(cfg.StackSize)),
		tasks:     make([]TCB, cfg.MaxTasks),
		intEnable: (1 << IntTimer) | (1 << IntUART) | (1 << IntSoft),
		wfi:       make(chan struct{}, 1),
	}
	k.irq = IRQ{k: k}

	idle := &k.tasks[idleTaskID]
	idle.ID = idleTaskID
	idle.State = StateReady
	idle.Name = "idle"
	idle.StackBase = 0
	idle.StackSize = cfg.StackSize
	idle.gate = make(chan struct{}, 1)

	k.entryTab = append(k.entryTab, k.idleTask)
	k.argTab = append(k.argTab, nil)
	idle.SP = makeInitialFrame(k.stacks, idle.StackBase, idle.StackSize, 0, 0)
	idle.resumePC = trampolinePC

	k.current = idle
	k.lastScheduled = idleTaskID

	k.logf("sched: initialized, idle task created")
	return k
}

// IRQ returns the interrupt controller; Save masks interrupts, Restore
// unmasks them. It is the lock for every short kernel critical section.
func (k *Kernel) IRQ() IRQ { return k.irq }

// IRQ is the interrupt mask handle handed to the allocators, the UART and
// the filesystem. Save/Restore follow the save-restore idiom of the
// hardware PS register; sections do not nest.
type IRQ struct {
	k *Kernel
}

func (i IRQ) Save() uint32 {
	i.k.mu().Lock()
	return psInitial
}

func (i IRQ) Restore(ps uint32) {
	_ = ps
	i.k.mu().Unlock()
}

func (k *Kernel) mu() *sync.Mutex { return &k.maskMu }

func (k *Kernel) logf(s string) {
	if k.cfg.Log != nil {
		k.cfg.Log.WriteLineString(s)
	}
}

// CreateTask allocates a TCB slot (never the idle slot), synthesises the
// initial context frame, and marks the task ready. Returns the task id.
func (k *Kernel) CreateTask(name string, fn TaskFunc, arg any, priority uint8) (int, error) {
	ps := k.irq.Save()

	slot := -1
	for i := 1; i < len(k.tasks); i++ {
		if k.tasks[i].State == StateFree {
			slot = i
			break
		}
	}
	if slot < 0 {
		k.irq.Restore(ps)
		k.logf("sched: no free task slots!")
		return -1, ErrNoFreeTask
	}

	t := &k.tasks[slot]
	*t = TCB{
		ID:        uint8(slot),
		State:     StateReady,
		Priority:  priority,
		Name:      name,
		StackBase: uint32(slot) * k.cfg.StackSize,
		StackSize: k.cfg.StackSize,
		gate:      make(chan struct{}, 1),
	}

	k.entryTab = append(k.entryTab, fn)
	k.argTab = append(k.argTab, arg)
	entry := uint32(len(k.entryTab) - 1)
	argIdx := uint32(len(k.argTab) - 1)

	t.SP = makeInitialFrame(k.stacks, t.StackBase, t.StackSize, entry, argIdx)
	t.resumePC = trampolinePC

	k.irq.Restore(ps)

	k.logf(fmt.Sprintf("sched: created task '%s' (id=%d)", name, slot))
	return slot, nil
}

// Start marks the idle task running and dispatches it. The scheduler is
// live from here on; ticks are delivered via TickISR.
func (k *Kernel) Start() error {
	ps := k.irq.Save()
	if k.started {
		k.irq.Restore(ps)
		return ErrStarted
	}
	k.started = true
	idle := &k.tasks[idleTaskID]
	k.current = idle
	idle.State = StateRunning
	k.resume(idle)
	k.irq.Restore(ps)

	k.logf("sched: starting scheduler")
	return nil
}

// schedule picks the next task to run. Round-robin from the slot after the
// last scheduled one, skipping idle; idle runs only when nothing else is
// ready. Priorities are recorded but never consulted.
//
// Interrupts must be masked.
func (k *Kernel) schedule() {
	if k.current.State == StateRunning {
		k.current.State = StateReady
	}

	next := k.lastScheduled
	found := -1
	for i := 0; i < len(k.tasks); i++ {
		next = (next + 1) % len(k.tasks)
		if k.tasks[next].State == StateReady && next != idleTaskID {
			found = next
			break
		}
	}
	if found < 0 {
		found = idleTaskID
	}

	k.lastScheduled = found
	k.current = &k.tasks[found]
	k.current.State = StateRunning
}

// exception is the C-level dispatcher: it multiplexes the pending timer,
// software and UART sources onto the saved context. Interrupts are masked.
// Expired software timers are returned so their callbacks can run after
// the mask drops.
func (k *Kernel) exception(cause uint32) []*Timer {
	if cause != ExcCauseLevel1Interrupt {
		// Non-interrupt exception (illegal instruction, load error...).
		// Return and let the task resume at the faulting instruction.
		k.badExcSeen++
		return nil
	}

	intr := k.pending & k.intEnable
	needSchedule := false
	var expired []*Timer

	if intr&(1<<IntTimer) != 0 {
		k.tickCount++
		k.current.TicksRun++

		for i := range k.tasks {
			t := &k.tasks[i]
			if t.State == StateBlocked && t.WakeTick != 0 &&
				int32(k.tickCount-t.WakeTick) >= 0 {
				t.WakeTick = 0
				t.State = StateReady
			}
		}

		expired = k.timerTick()
		needSchedule = true
	}

	if intr&(1<<IntSoft) != 0 {
		needSchedule = true
	}

	if intr&(1<<IntUART) != 0 {
		if k.uartISR != nil {
			k.uartISR()
		}
		// Level source: draining the FIFO deasserts it.
		k.pending &^= 1 << IntUART
	}

	if needSchedule {
		k.schedule()
	}

	// Clear edge-triggered and software sources.
	k.pending &^= intr & ((1 << IntTimer) | (1 << IntSoft))
	return expired
}

// InterruptSet latches a pending interrupt source and runs the dispatcher,
// the software equivalent of writing the INTSET register. Call from ISR
// context (the tick pump, the serial pump); never from a task that wants
// to be switched out, which is what Yield is for.
func (k *Kernel) InterruptSet(num uint) {
	ps := k.irq.Save()
	k.pending |= 1 << num
	expired := k.exception(ExcCauseLevel1Interrupt)
	k.irq.Restore(ps)

	k.pulseInterrupt()
	fireTimers(expired)
}

// TickISR delivers one timer tick.
func (k *Kernel) TickISR() { k.InterruptSet(IntTimer) }

// RaiseException routes a non-interrupt exception cause through the
// dispatcher.
func (k *Kernel) RaiseException(cause uint32) {
	ps := k.irq.Save()
	k.exception(cause)
	k.irq.Restore(ps)
}

// SetUARTISR installs the handler the dispatcher calls while the UART
// source is pending. The handler runs with interrupts masked.
func (k *Kernel) SetUARTISR(fn func()) {
	ps := k.irq.Save()
	k.uartISR = fn
	k.irq.Restore(ps)
}

// TickCount returns the monotonic tick counter.
func (k *Kernel) TickCount() uint32 {
	ps := k.irq.Save()
	t := k.tickCount
	k.irq.Restore(ps)
	return t
}

// TickHz returns the configured tick rate.
func (k *Kernel) TickHz() int { return k.cfg.TickHz }

// CurrentTask returns the id of the task the scheduler considers running.
func (k *Kernel) CurrentTask() uint8 {
	ps := k.irq.Save()
	id := k.current.ID
	k.irq.Restore(ps)
	return id
}

// Tasks returns a snapshot of every non-free TCB, for ps-style listings.
func (k *Kernel) Tasks() []TaskInfo {
	ps := k.irq.Save()
	out := make([]TaskInfo, 0, len(k.tasks))
	for i := range k.tasks {
		t := &k.tasks[i]
		if t.State == StateFree {
			continue
		}
		out = append(out, TaskInfo{
			ID:       t.ID,
			Name:     t.Name,
			State:    t.State,
			Priority: t.Priority,
			TicksRun: t.TicksRun,
			WakeTick: t.WakeTick,
			SP:       t.SP,
			StackSz:  t.StackSize,
		})
	}
	k.irq.Restore(ps)
	return out
}

// BadExceptions returns how many non-interrupt exceptions the dispatcher
// has swallowed.
func (k *Kernel) BadExceptions() uint32 {
	ps := k.irq.Save()
	n := k.badExcSeen
	k.irq.Restore(ps)
	return n
}

// pulseInterrupt wakes the idle task out of its wait-for-interrupt.
func (k *Kernel) pulseInterrupt() {
	select {
	case k.wfi <- struct{}{}:
	default:
	}
}

// waitInterrupt blocks until any interrupt has been serviced; the software
// rendition of the waiti instruction.
func (k *Kernel) waitInterrupt() {
	<-k.wfi
}

// idleTask feeds the watchdog and halts until an interrupt arrives. It is
// always ready and never exits.
func (k *Kernel) idleTask(tc *TaskContext, _ any) {
	for {
		if k.cfg.WatchdogFeed != nil {
			k.cfg.WatchdogFeed()
		}
		k.waitInterrupt()
		tc.Yield()
	}
}
