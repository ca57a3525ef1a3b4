// Package delivery hands payloads a receiver has reassembled in order to
// the output sink through a bounded queue, so a slow sink cannot make the
// receiver's ARQ state machine (and therefore its ACKs) block on I/O.
//
// Adapted from the teacher's internal/hub.Hub: the many-clients broadcast
// fan-out has no home here — spec.md's Non-goals rule out multi-peer
// multiplexing, so a receiver session has exactly one sink, not many
// subscribers — but the bounded-channel-plus-backpressure-policy shape
// (drop silently, or kick the session) is reused verbatim for that single
// sink.
package delivery

import (
	"sync"

	"github.com/kstaniek/linkarq/internal/logging"
	"github.com/kstaniek/linkarq/internal/metrics"
)

// Policy selects what happens when the sink falls behind and the queue fills.
type Policy int

const (
	// PolicyDrop silently discards the newest payload.
	PolicyDrop Policy = iota
	// PolicyKick closes the queue, which propagates as a session-ending error.
	PolicyKick
)

// Payload is a single in-order delivered unit, tagged with its sequence
// counter for logging (spec.md §4.6: "deliver payload tagged with the counter").
type Payload struct {
	Seq  int
	Bits string
}

// Queue is a bounded single-consumer delivery channel.
type Queue struct {
	mu        sync.Mutex
	out       chan Payload
	closed    chan struct{}
	closeOnce sync.Once
	policy    Policy
}

// New creates a Queue with the given buffer size and backpressure policy.
func New(bufSize int, policy Policy) *Queue {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Queue{
		out:    make(chan Payload, bufSize),
		closed: make(chan struct{}),
		policy: policy,
	}
}

// Out returns the channel the sink should range over.
func (q *Queue) Out() <-chan Payload { return q.out }

// Closed returns a channel that is closed when the queue has been kicked.
func (q *Queue) Closed() <-chan struct{} { return q.closed }

// Deliver enqueues p, honoring the configured backpressure policy when full.
// Returns false if the queue has been kicked and no longer accepts payloads.
func (q *Queue) Deliver(p Payload) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	metrics.SetReorderBufferOccupancy(len(q.out))
	select {
	case q.out <- p:
		metrics.IncFramesDelivered()
		return true
	default:
		if q.policy == PolicyKick {
			logging.L().Warn("delivery_kick", "seq", p.Seq)
			q.Close()
			return false
		}
		logging.L().Warn("delivery_drop", "seq", p.Seq)
		metrics.IncFramesDroppedChannel()
		return true
	}
}

// Close stops further delivery and closes Out(), so a consumer ranging
// over it terminates once any buffered payloads are drained. Idempotent.
// Safe to call from the single producer once it knows no more payloads
// will be delivered: Deliver checks closed before ever sending on out,
// so no send races a concurrent close.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		close(q.out)
	})
}
