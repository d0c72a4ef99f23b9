package kernel

import (
	"encoding/binary"
	"testing"
)

func TestQueueTrySendTryRecv(t *testing.T) {
	k := New(Config{})
	q := k.NewQueue(4, 2)

	msg := make([]byte, 4)
	if q.TryRecv(msg) {
		t.Fatal("TryRecv succeeded on an empty queue")
	}

	binary.LittleEndian.PutUint32(msg, 11)
	if !q.TrySend(msg) {
		t.Fatal("TrySend failed with room available")
	}
	binary.LittleEndian.PutUint32(msg, 22)
	if !q.TrySend(msg) {
		t.Fatal("TrySend failed with room available")
	}
	if q.TrySend(msg) {
		t.Fatal("TrySend succeeded on a full queue")
	}
	if got := q.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}

	var out [4]byte
	if !q.TryRecv(out[:]) || binary.LittleEndian.Uint32(out[:]) != 11 {
		t.Fatalf("first recv = %d, want 11", binary.LittleEndian.Uint32(out[:]))
	}
	if !q.TryRecv(out[:]) || binary.LittleEndian.Uint32(out[:]) != 22 {
		t.Fatalf("second recv = %d, want 22", binary.LittleEndian.Uint32(out[:]))
	}
	if got := q.Count(); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}
}

// TestQueuePingPong is the two-task exchange over a pair of capacity-1
// queues: A sends 0..9 on Q and awaits replies on R; B echoes each value
// plus one. A must observe 1..10 in order.
func TestQueuePingPong(t *testing.T) {
	const rounds = 10

	k := New(Config{})
	q := k.NewQueue(4, 1)
	r := k.NewQueue(4, 1)

	var got []uint32
	done := k.NewSemaphore(0)

	if _, err := k.CreateTask("A", func(tc *TaskContext, _ any) {
		var msg [4]byte
		for i := uint32(0); i < rounds; i++ {
			binary.LittleEndian.PutUint32(msg[:], i)
			q.Send(tc, msg[:])
			r.Recv(tc, msg[:])
			got = append(got, binary.LittleEndian.Uint32(msg[:]))
		}
		done.Post()
	}, nil, 1); err != nil {
		t.Fatal(err)
	}

	if _, err := k.CreateTask("B", func(tc *TaskContext, _ any) {
		var msg [4]byte
		for i := 0; i < rounds; i++ {
			q.Recv(tc, msg[:])
			v := binary.LittleEndian.Uint32(msg[:])
			binary.LittleEndian.PutUint32(msg[:], v+1)
			r.Send(tc, msg[:])
		}
	}, nil, 2); err != nil {
		t.Fatal(err)
	}

	if err := k.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, k, func() bool { return done.Count() == 1 })

	if len(got) != rounds {
		t.Fatalf("received %d replies, want %d", len(got), rounds)
	}
	for i, v := range got {
		if v != uint32(i+1) {
			t.Fatalf("reply %d = %d, want %d", i, v, i+1)
		}
	}
}

// The queue count never leaves [0, capacity] and a single receiver sees a
// single sender's messages in exactly the order sent.
func TestQueueOrderAndBounds(t *testing.T) {
	const n = 40

	k := New(Config{})
	q := k.NewQueue(4, 3)

	var got []uint32
	done := k.NewSemaphore(0)

	if _, err := k.CreateTask("producer", func(tc *TaskContext, _ any) {
		var msg [4]byte
		for i := uint32(0); i < n; i++ {
			binary.LittleEndian.PutUint32(msg[:], i)
			q.Send(tc, msg[:])
			if c := q.Count(); c < 0 || c > q.Capacity() {
				t.Errorf("count %d outside [0,%d]", c, q.Capacity())
			}
		}
	}, nil, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := k.CreateTask("consumer", func(tc *TaskContext, _ any) {
		var msg [4]byte
		for i := 0; i < n; i++ {
			q.Recv(tc, msg[:])
			got = append(got, binary.LittleEndian.Uint32(msg[:]))
		}
		done.Post()
	}, nil, 0); err != nil {
		t.Fatal(err)
	}

	if err := k.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, k, func() bool { return done.Count() == 1 })

	for i, v := range got {
		if v != uint32(i) {
			t.Fatalf("message %d = %d, want %d (FIFO per producer)", i, v, i)
		}
	}
}
