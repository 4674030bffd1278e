package agent

import (
	"sync"
	"time"
)

// eventQueue is the unbounded hand-off between the capture path and
// the flush loop. Push never blocks, so a slow flush can never stall
// key capture; memory growth is the accepted cost.
type eventQueue struct {
	mu     sync.Mutex
	items  []CapturedEvent
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// Push appends an event and wakes the consumer if it is waiting.
func (q *eventQueue) Push(ev CapturedEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns all queued events. When the queue is
// empty it waits up to wait for an arrival, then gives up and returns
// nil so the caller can check its shutdown flag.
func (q *eventQueue) Drain(wait time.Duration) []CapturedEvent {
	if items := q.take(); items != nil {
		return items
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			// The token may be stale, left behind by a push that an
			// earlier take already collected. Keep waiting out the
			// budget until events actually arrive.
			if items := q.take(); items != nil {
				return items
			}
		case <-timer.C:
			return q.take()
		}
	}
}

func (q *eventQueue) take() []CapturedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	return items
}

// Len reports the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
