package kernel

// Context-switch fabric for the hosted port.
//
// Every task runs on its own goroutine gated by a one-slot channel. A
// switch has the same shape as the exception path on the real part: the
// outgoing task serialises its register frame onto its own stack and
// stores the resulting SP at TCB offset 0, the dispatcher reassigns
// current, and the restore side decodes the frame of whatever task
// current now points at. The difference is where preemption lands: a
// decision made by the tick ISR takes effect at the interrupted task's
// next kernel entry, because a goroutine cannot be seized between
// instructions.

// yield triggers the software interrupt and, if the dispatcher moved
// current elsewhere, performs the handoff: resume the new current task,
// then park until this task is scheduled again.
func (k *Kernel) yield(self *TCB) {
	ps := k.irq.Save()
	k.saveFrame(self)
	var expired []*Timer
	if k.current == self {
		k.pending |= 1 << IntSoft
		expired = k.exception(ExcCauseLevel1Interrupt)
	}
	// If current moved elsewhere before we got here, the tick ISR already
	// made the decision; complete that switch instead of re-scheduling.
	next := k.current
	if next != self {
		k.resume(next)
	}
	k.irq.Restore(ps)

	fireTimers(expired)
	if next != self {
		k.park(self)
	}
}

// resume makes t runnable on the host: first dispatch spawns its
// goroutine (the trampoline), later dispatches hand it the gate token.
// Interrupts must be masked.
func (k *Kernel) resume(t *TCB) {
	if !t.started {
		t.started = true
		go k.taskMain(t)
		return
	}
	select {
	case t.gate <- struct{}{}:
	default:
		// Token already queued from a dispatch the task absorbed
		// without parking; it will observe current on wake.
	}
}

// park blocks until this task is current again, then validates the frame
// it was suspended with. A token that arrives after the dispatcher has
// already moved current elsewhere (a tick landed mid-handoff) is not
// discarded: the baton is passed on to whoever is current now, so the
// CPU never goes quiet with ready tasks parked.
func (k *Kernel) park(self *TCB) {
	for {
		<-self.gate
		ps := k.irq.Save()
		if k.current == self {
			k.restoreFrame(self)
			k.irq.Restore(ps)
			return
		}
		k.resume(k.current)
		k.irq.Restore(ps)
	}
}

// taskMain is the entry trampoline: it decodes the initial frame, moves
// the stashed entry pointer and argument into place, calls the entry
// function, and routes the fall-through into the exit handler.
func (k *Kernel) taskMain(t *TCB) {
	ps := k.irq.Save()
	entry, argIdx, ok := k.trampolineLoad(t)
	if !ok || int(entry) >= len(k.entryTab) || int(argIdx) >= len(k.argTab) {
		k.irq.Restore(ps)
		k.logf("sched: task '" + t.Name + "' has a corrupt initial frame")
		k.exitTask(t)
		return
	}
	fn := k.entryTab[entry]
	arg := k.argTab[argIdx]
	k.irq.Restore(ps)

	tc := &TaskContext{k: k, tcb: t}
	fn(tc, arg)

	k.exitTask(t)
}

// exitTask is the terminal handler for a task whose entry function
// returned: mark it dead and hand the CPU to whoever is next. The slot is
// never reclaimed.
func (k *Kernel) exitTask(t *TCB) {
	ps := k.irq.Save()
	t.State = StateDead
	var expired []*Timer
	if k.current == t {
		k.pending |= 1 << IntSoft
		expired = k.exception(ExcCauseLevel1Interrupt)
	}
	next := k.current
	if next != t {
		k.resume(next)
	}
	k.irq.Restore(ps)
	fireTimers(expired)
}

func fireTimers(expired []*Timer) {
	for _, t := range expired {
		t.callback(t.arg)
	}
}
