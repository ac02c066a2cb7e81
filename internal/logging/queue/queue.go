// Package queue provides the bounded hand-off between producers and the
// dispatch worker.
package queue

import (
	"github.com/esobolev/ddshipper/internal/logging"
)

// Queue is a fixed-capacity FIFO of pending log events. Push never blocks:
// when the queue is at capacity the incoming item is rejected. Safe for
// many concurrent producers and one draining consumer.
type Queue struct {
	items chan logging.LogEvent
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		items: make(chan logging.LogEvent, capacity),
	}
}

// Push enqueues ev, reporting false when the queue is full and the event
// was dropped.
func (q *Queue) Push(ev logging.LogEvent) bool {
	select {
	case q.items <- ev:
		return true
	default:
		return false
	}
}

// Drain removes and returns up to max currently-queued events without
// blocking. Single consumer only.
func (q *Queue) Drain(max int) []logging.LogEvent {
	if max <= 0 {
		return nil
	}
	var drained []logging.LogEvent
	for len(drained) < max {
		select {
		case ev := <-q.items:
			drained = append(drained, ev)
		default:
			return drained
		}
	}
	return drained
}

// Size is the instantaneous queue depth.
func (q *Queue) Size() int {
	return len(q.items)
}

// Cap is the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
