package kernel

// Queue is a bounded message queue: a circular byte buffer of fixed-size
// slots gated by two semaphores, notFull (initially the capacity) for
// senders and notEmpty (initially zero) for receivers. The construction
// gives correct producer-consumer behaviour with any number of tasks on
// either side.
type Queue struct {
	k        *Kernel
	buf      []byte
	msgSize  int
	capacity int
	head     int
	tail     int
	notFull  *Semaphore
	notEmpty *Semaphore
}

// NewQueue returns a queue of capacity messages of msgSize bytes each.
func (k *Kernel) NewQueue(msgSize, capacity int) *Queue {
	return &Queue{
		k:        k,
		buf:      make([]byte, msgSize*capacity),
		msgSize:  msgSize,
		capacity: capacity,
		notFull:  k.NewSemaphore(int32(capacity)),
		notEmpty: k.NewSemaphore(0),
	}
}

func (q *Queue) copyIn(msg []byte) {
	slot := q.buf[q.head*q.msgSize : (q.head+1)*q.msgSize]
	n := copy(slot, msg)
	for i := n; i < q.msgSize; i++ {
		slot[i] = 0
	}
	q.head = (q.head + 1) % q.capacity
}

func (q *Queue) copyOut(msg []byte) {
	copy(msg, q.buf[q.tail*q.msgSize:(q.tail+1)*q.msgSize])
	q.tail = (q.tail + 1) % q.capacity
}

// Send enqueues a message, blocking while the queue is full.
func (q *Queue) Send(tc *TaskContext, msg []byte) {
	q.notFull.Wait(tc)

	ps := q.k.irq.Save()
	q.copyIn(msg)
	q.k.irq.Restore(ps)

	q.notEmpty.Post()
}

// Recv dequeues a message into msg, blocking while the queue is empty.
func (q *Queue) Recv(tc *TaskContext, msg []byte) {
	q.notEmpty.Wait(tc)

	ps := q.k.irq.Save()
	q.copyOut(msg)
	q.k.irq.Restore(ps)

	q.notFull.Post()
}

// TrySend enqueues without blocking. Reports whether there was room.
func (q *Queue) TrySend(msg []byte) bool {
	if !q.notFull.TryWait() {
		return false
	}
	ps := q.k.irq.Save()
	q.copyIn(msg)
	q.k.irq.Restore(ps)
	q.notEmpty.Post()
	return true
}

// TryRecv dequeues without blocking. Reports whether a message was there.
func (q *Queue) TryRecv(msg []byte) bool {
	if !q.notEmpty.TryWait() {
		return false
	}
	ps := q.k.irq.Save()
	q.copyOut(msg)
	q.k.irq.Restore(ps)
	q.notFull.Post()
	return true
}

// Count returns the number of queued messages: the notEmpty count.
func (q *Queue) Count() int {
	c := q.notEmpty.Count()
	if c < 0 {
		return 0
	}
	return int(c)
}

// Capacity returns the queue capacity in messages.
func (q *Queue) Capacity() int { return q.capacity }

// MsgSize returns the fixed per-message size in bytes.
func (q *Queue) MsgSize() int { return q.msgSize }
