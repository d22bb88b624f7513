package automation

import "sync"

// queuedEvent is one deferred dispatch waiting in the execution queue.
type queuedEvent struct {
	eventType string
	eventData map[string]any
	context   map[string]any
}

// eventQueue is a thread-safe FIFO buffering deferred events. Producers may
// enqueue regardless of engine run state; the engine's drain loop pops one
// item at a time and processes it fully before taking the next.
//
// The buffered signal channel coalesces wakeups so the drain loop can wait
// without polling and still honor context cancellation.
type eventQueue struct {
	mu     sync.Mutex
	items  []queuedEvent
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]queuedEvent, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// enqueue appends an event to the back of the queue.
func (q *eventQueue) enqueue(e queuedEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// tryDequeue pops the front event without blocking.
func (q *eventQueue) tryDequeue() (queuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return queuedEvent{}, false
	}

	e := q.items[0]
	// Release the payload references held by the vacated slot.
	q.items[0] = queuedEvent{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return e, true
}

// wait returns the channel signaled when events may be available. Use in a
// select alongside context cancellation, then retry tryDequeue.
func (q *eventQueue) wait() <-chan struct{} {
	return q.signal
}

// length returns the current queue depth.
func (q *eventQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
