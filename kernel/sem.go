package kernel

// Semaphore is a counting semaphore with a FIFO wait queue. The queue is a
// plain array of task ids bounded by the task count, so no list nodes are
// needed. Wait must be called from task context; Post is ISR-safe.
type Semaphore struct {
	k          *Kernel
	count      int32
	waiters    []uint8
	numWaiters int
}

// NewSemaphore returns a semaphore with the given initial count (0 for
// pure synchronisation, N for N-resource counting).
func (k *Kernel) NewSemaphore(initial int32) *Semaphore {
	return &Semaphore{
		k:       k,
		count:   initial,
		waiters: make([]uint8, len(k.tasks)),
	}
}

// Wait decrements the count, blocking while it is zero.
func (s *Semaphore) Wait(tc *TaskContext) {
	k := s.k
	ps := k.irq.Save()

	if s.count > 0 {
		s.count--
		k.irq.Restore(ps)
		return
	}

	s.waiters[s.numWaiters] = tc.tcb.ID
	s.numWaiters++
	tc.tcb.State = StateBlocked
	k.irq.Restore(ps)

	// The scheduler skips blocked tasks; we resume here when a post
	// hands us the resource.
	tc.Yield()
}

// TryWait is the non-blocking form. Reports whether the count was taken.
func (s *Semaphore) TryWait() bool {
	k := s.k
	ps := k.irq.Save()
	if s.count > 0 {
		s.count--
		k.irq.Restore(ps)
		return true
	}
	k.irq.Restore(ps)
	return false
}

// Post releases the semaphore. With waiters queued the resource is handed
// directly to the head waiter; the count stays at zero, which keeps the
// wakeup order strictly FIFO. Safe from ISR context and timer callbacks.
func (s *Semaphore) Post() {
	k := s.k
	ps := k.irq.Save()

	if s.numWaiters > 0 {
		tid := s.waiters[0]
		for i := 1; i < s.numWaiters; i++ {
			s.waiters[i-1] = s.waiters[i]
		}
		s.numWaiters--
		k.tasks[tid].State = StateReady
	} else {
		s.count++
	}

	k.irq.Restore(ps)
}

// Count reads the current count. Informational; it can change immediately.
func (s *Semaphore) Count() int32 {
	ps := s.k.irq.Save()
	c := s.count
	s.k.irq.Restore(ps)
	return c
}

// Waiters reports how many tasks are queued on the semaphore.
func (s *Semaphore) Waiters() int {
	ps := s.k.irq.Save()
	n := s.numWaiters
	s.k.irq.Restore(ps)
	return n
}

// Mutex is a binary mutex: a semaphore initialised to one. There is no
// ownership tracking; unlocking from a task that never locked is not
// prevented.
type Mutex struct {
	sem *Semaphore
}

// NewMutex returns an unlocked mutex.
func (k *Kernel) NewMutex() *Mutex {
	return &Mutex{sem: k.NewSemaphore(1)}
}

// Lock acquires the mutex, blocking while another task holds it.
func (m *Mutex) Lock(tc *TaskContext) { m.sem.Wait(tc) }

// TryLock is the non-blocking form.
func (m *Mutex) TryLock() bool { return m.sem.TryWait() }

// Unlock releases the mutex, waking one waiter if any.
func (m *Mutex) Unlock() { m.sem.Post() }
