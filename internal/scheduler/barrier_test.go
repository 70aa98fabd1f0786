package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isDone(b *Barrier) bool {
	select {
	case <-b.Done():
		return true
	default:
		return false
	}
}

func TestBarrier_ResolvesOnlyWhenSealedAndEmpty(t *testing.T) {
	var hooked []error
	b := NewBarrier(func(err error) { hooked = append(hooked, err) })

	b.Add("a")
	b.MarkDone("a")
	assert.False(t, isDone(b), "not sealed yet")

	b.Add("b")
	b.Seal()
	assert.False(t, isDone(b))
	assert.Equal(t, 1, b.Pending())

	b.MarkDone("b")
	assert.True(t, isDone(b))
	assert.NoError(t, b.Err())
	assert.Equal(t, []error{nil}, hooked)

	// Late signals are ignored.
	b.Add("c")
	b.MarkDone("c")
	assert.Len(t, hooked, 1)
}

func TestBarrier_SealEmptyResolvesImmediately(t *testing.T) {
	b := NewBarrier(nil)
	b.Seal()
	assert.True(t, isDone(b))
}

func TestBarrier_EarlyCompletionCancelsLaterAdd(t *testing.T) {
	b := NewBarrier(nil)
	b.MarkDone("x")
	b.Seal()
	assert.True(t, isDone(b), "an unmatched completion does not hold the barrier")
}

func TestBarrier_Forget(t *testing.T) {
	b := NewBarrier(nil)
	b.Add("a")
	b.Seal()
	b.Forget("a")
	assert.True(t, isDone(b))
}

func TestBarrier_FailAndWait(t *testing.T) {
	b := NewBarrier(nil)
	b.Add("a")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)

	boom := errors.New("boom")
	b.Fail(boom)
	require.True(t, isDone(b))
	assert.ErrorIs(t, b.Wait(context.Background()), boom)
}
