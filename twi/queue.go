package twi

import "sync/atomic"

// queue is a fixed ring of request slots with one producer side and one
// consumer side. rd is advanced only by the consumer (state machine), wr
// only by the producer. Both are monotonic; slot index is idx & mask.
type queue struct {
	slots []txn
	mask  uint32
	rd    atomic.Uint32 // consumer index
	wr    atomic.Uint32 // producer index

	writable chan struct{} // a slot was released
}

func newQueue(size int) *queue {
	if size < 1 || (size&(size-1)) != 0 {
		panic("twi: queue size must be a power of two >= 1")
	}
	return &queue{
		slots:    make([]txn, size),
		mask:     uint32(size - 1),
		writable: make(chan struct{}, 1),
	}
}

func (q *queue) size() uint32 { return uint32(len(q.slots)) }

// Len is the number of published slots, including the one in flight.
func (q *queue) Len() int {
	rd := q.rd.Load()
	wr := q.wr.Load()
	return int(wr - rd)
}

// Full reports whether no slot is free.
func (q *queue) Full() bool { return uint32(q.Len()) >= q.size() }

// Producer side

// reserve returns the next free slot, waiting for the consumer to
// release one while the ring is full. A nil done channel waits forever.
// ok is false if done fired first. The slot is not visible to the
// consumer until publish.
func (q *queue) reserve(done <-chan struct{}) (t *txn, ok bool) {
	for q.Full() {
		select {
		case <-q.writable:
		case <-done:
			return nil, false
		}
	}
	t = &q.slots[q.wr.Load()&q.mask]
	t.reset()
	return t, true
}

// publish makes the reserved slot visible to the consumer.
func (q *queue) publish() {
	q.wr.Store(q.wr.Load() + 1) // release
}

// Consumer side

// head returns the oldest published slot, or nil if the ring is empty.
func (q *queue) head() *txn {
	rd := q.rd.Load()
	if q.wr.Load() == rd { // acquire
		return nil
	}
	return &q.slots[rd&q.mask]
}

// release frees the head slot. The consumer must not touch the slot
// afterwards: the producer may refill it at once.
func (q *queue) release() {
	q.rd.Store(q.rd.Load() + 1)
	select {
	case q.writable <- struct{}{}:
	default:
	}
}
