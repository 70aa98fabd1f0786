package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(Event{Name: "frame", Fn: func() {}})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "frame", got.Name)
	assert.NotNil(t, got.Fn)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, name := range []string{"A", "B", "C"} {
		q.Enqueue(Event{Name: name, Fn: func() {}})
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Name)
	}
}

func TestEventQueue_TryDequeue_Empty(t *testing.T) {
	q := newEventQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()

	ok := q.Enqueue(Event{Name: "late", Fn: func() {}})
	assert.False(t, ok, "enqueue after close should return false")
}

func TestEventQueue_Close_KeepsQueued(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Name: "queued", Fn: func() {}})
	q.Close()
	q.Close() // idempotent

	// The wakeup buffered by Enqueue is still delivered; after it the
	// channel reads as closed.
	<-q.Wait()
	_, open := <-q.Wait()
	assert.False(t, open, "signal channel should be closed")

	assert.False(t, q.closedAndEmpty())
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "queued", e.Name)
	assert.True(t, q.closedAndEmpty())
}

func TestEventQueue_SignalCoalesces(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Name: "1", Fn: func() {}})
	q.Enqueue(Event{Name: "2", Fn: func() {}})

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("signal should coalesce to a single pending wakeup")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(Event{Name: "e", Fn: func() {}})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}
