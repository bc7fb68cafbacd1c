// Package ring provides a fixed-capacity, lock-free single-producer
// single-consumer packet queue between the driver notification context and a
// consumer goroutine.
package ring

import (
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midi2/sdk/ump"
)

// DefaultCapacity is the slot count used when a runtime option does not say
// otherwise.
const DefaultCapacity = 256

// Ring is a bounded queue of packets. Exactly one goroutine may push and
// exactly one may pop; fan-out to several consumers happens above the ring,
// never by sharing its consumer side.
//
// All slots are allocated at construction. TryPush never blocks, never
// allocates and takes no locks, so it is safe from the real-time context.
type Ring struct {
	buf  []ump.Packet
	mask uint64

	head    atomic.Uint64 // next slot to pop
	tail    atomic.Uint64 // next slot to push
	dropped atomic.Uint64

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a ring. The capacity is rounded up to a power of two so the
// slot index is a cheap wrap mask; values below 2 become 2.
func New(capacity int) *Ring {
	n := uint64(2)
	for n < uint64(capacity) {
		n <<= 1
	}
	return &Ring{
		buf:  make([]ump.Packet, n),
		mask: n - 1,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Cap returns the fixed slot count.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of packets currently queued.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Dropped returns how many packets were rejected because the ring was full.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// TryPush enqueues a packet from the producer side. When the ring is full
// the packet is dropped, the drop counter advances and false comes back:
// under saturation the oldest backlog is delivered and the newest arrivals
// are the ones lost.
func (r *Ring) TryPush(p ump.Packet) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() > r.mask {
		r.dropped.Add(1)
		return false
	}
	r.buf[tail&r.mask] = p
	r.tail.Store(tail + 1)
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// TryPop dequeues the oldest packet from the consumer side. It never blocks;
// ok is false when the ring is empty.
func (r *Ring) TryPop() (ump.Packet, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return ump.Packet{}, false
	}
	p := r.buf[head&r.mask]
	r.head.Store(head + 1)
	return p, true
}

// Drain pops every packet currently available, oldest first. It never blocks
// and may be called again for newly arrived data; an empty ring yields nil.
func (r *Ring) Drain() []ump.Packet {
	n := r.Len()
	if n == 0 {
		return nil
	}
	out := make([]ump.Packet, 0, n)
	for i := 0; i < n; i++ {
		p, ok := r.TryPop()
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}

// Wake returns a channel that receives a signal after a push. A consumer
// blocks on Wake together with Done instead of polling an empty ring.
func (r *Ring) Wake() <-chan struct{} { return r.wake }

// Done returns a channel closed when the ring is shut down, signaling
// end-of-stream to a draining consumer.
func (r *Ring) Done() <-chan struct{} { return r.done }

// Close signals end-of-stream. Packets already queued remain poppable.
// Close is idempotent.
func (r *Ring) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Closed reports whether Close has been called.
func (r *Ring) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}
