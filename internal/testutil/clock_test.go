package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock_Advances(t *testing.T) {
	c := NewStepClock()
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("msg")
	assert.Equal(t, "msg-1", g.Next())
	assert.Equal(t, "msg-2", g.Next())
	assert.Equal(t, "id-1", NewSequentialIDs("").Next())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	g := NewSequentialIDs("x")
	const workers, each = 20, 50

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				_, dup := seen.LoadOrStore(g.Next(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
}
