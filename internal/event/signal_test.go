package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignal_EmitInConnectionOrder(t *testing.T) {
	var s Signal[int]
	var got []string

	s.Connect(func(v int) { got = append(got, "a") })
	s.Connect(func(v int) { got = append(got, "b") })

	s.Emit(1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSubscription_CloseStopsDelivery(t *testing.T) {
	var s Signal[string]
	count := 0
	sub := s.Connect(func(string) { count++ })

	s.Emit("x")
	sub.Close()
	sub.Close()
	s.Emit("y")

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, s.Len())
}

func TestSignal_HandlerClosedDuringEmitIsSkipped(t *testing.T) {
	var s Signal[int]
	var second *Subscription
	calls := 0

	s.Connect(func(int) { second.Close() })
	second = s.Connect(func(int) { calls++ })

	s.Emit(1)
	assert.Equal(t, 0, calls)
}

func TestScope_CloseTearsDownAll(t *testing.T) {
	var a Signal[int]
	var b Signal[bool]
	var sc Scope

	sc.Add(a.Connect(func(int) {}))
	sc.Add(b.Connect(func(bool) {}))
	assert.Equal(t, 2, sc.Len())

	sc.Close()
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, b.Len())

	// Subscriptions added after close are closed immediately.
	sc.Add(a.Connect(func(int) {}))
	assert.Equal(t, 0, a.Len())
}

func TestGate_CoalescesReentrantRuns(t *testing.T) {
	var g Gate
	inner := false

	ran := g.Run(func() {
		inner = g.Run(func() { t.Fatal("nested run must not execute") })
	})

	assert.True(t, ran)
	assert.False(t, inner)
	assert.True(t, g.Run(func() {}))
}
