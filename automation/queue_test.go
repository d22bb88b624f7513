package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueFIFO(t *testing.T) {
	q := newEventQueue()

	q.enqueue(queuedEvent{eventType: "first"})
	q.enqueue(queuedEvent{eventType: "second"})
	q.enqueue(queuedEvent{eventType: "third"})
	assert.Equal(t, 3, q.length())

	for _, want := range []string{"first", "second", "third"} {
		e, ok := q.tryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.eventType)
	}

	_, ok := q.tryDequeue()
	assert.False(t, ok, "empty queue should not dequeue")
	assert.Equal(t, 0, q.length())
}

func TestEventQueueCarriesPayload(t *testing.T) {
	q := newEventQueue()
	q.enqueue(queuedEvent{
		eventType: "order.created",
		eventData: map[string]any{"orderId": "ORD-1"},
		context:   map[string]any{"tenantId": "t-1"},
	})

	e, ok := q.tryDequeue()
	require.True(t, ok)
	assert.Equal(t, "ORD-1", e.eventData["orderId"])
	assert.Equal(t, "t-1", e.context["tenantId"])
}

func TestEventQueueSignalsOnEnqueue(t *testing.T) {
	q := newEventQueue()

	select {
	case <-q.wait():
		t.Fatal("signal should not fire before enqueue")
	default:
	}

	q.enqueue(queuedEvent{eventType: "evt"})

	select {
	case <-q.wait():
	case <-time.After(time.Second):
		t.Fatal("enqueue should signal a waiter")
	}
}

func TestEventQueueSignalCoalesces(t *testing.T) {
	q := newEventQueue()

	// Many enqueues with no waiter must not block the producer.
	for i := 0; i < 10; i++ {
		q.enqueue(queuedEvent{eventType: "evt"})
	}
	assert.Equal(t, 10, q.length())

	// A coalesced signal wakes the consumer once; it then drains by retrying
	// tryDequeue rather than counting signals.
	<-q.wait()
	drained := 0
	for {
		if _, ok := q.tryDequeue(); !ok {
			break
		}
		drained++
	}
	assert.Equal(t, 10, drained)
}
