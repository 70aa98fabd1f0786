package scheduler

import (
	"context"
	"sync"
)

// Barrier resolves once it is sealed and every added id has been marked
// done. It replaces polling a pending set: the last Done (or Seal, when
// nothing is outstanding) resolves it.
type Barrier struct {
	mu        sync.Mutex
	pending   map[string]int
	sealed    bool
	resolved  bool
	err       error
	onResolve func(error)
	done      chan struct{}
}

// NewBarrier returns an open barrier. onResolve, if non-nil, runs once
// with the final error before Done is closed.
func NewBarrier(onResolve func(error)) *Barrier {
	return &Barrier{
		pending:   make(map[string]int),
		onResolve: onResolve,
		done:      make(chan struct{}),
	}
}

// resolvedBarrier returns a barrier that has already finished with err.
func resolvedBarrier(err error) *Barrier {
	b := NewBarrier(nil)
	b.resolve(err)
	return b
}

// Add marks id as scheduled.
func (b *Barrier) Add(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return
	}
	b.bumpLocked(id, 1)
}

// MarkDone marks id as executed. A completion that arrives before its
// Add cancels the Add when it comes.
func (b *Barrier) MarkDone(id string) {
	b.mu.Lock()
	if b.resolved {
		b.mu.Unlock()
		return
	}
	b.bumpLocked(id, -1)
	ready := b.sealed && b.outstandingLocked() == 0
	b.mu.Unlock()

	if ready {
		b.resolve(nil)
	}
}

// Forget drops id entirely, for a submission the executor rejected.
func (b *Barrier) Forget(id string) {
	b.mu.Lock()
	if b.resolved {
		b.mu.Unlock()
		return
	}
	delete(b.pending, id)
	ready := b.sealed && b.outstandingLocked() == 0
	b.mu.Unlock()

	if ready {
		b.resolve(nil)
	}
}

// Seal declares that every id has been added.
func (b *Barrier) Seal() {
	b.mu.Lock()
	if b.resolved {
		b.mu.Unlock()
		return
	}
	b.sealed = true
	ready := b.outstandingLocked() == 0
	b.mu.Unlock()

	if ready {
		b.resolve(nil)
	}
}

// Fail resolves the barrier with err regardless of what is pending.
func (b *Barrier) Fail(err error) {
	b.resolve(err)
}

// Pending returns how many ids are still outstanding.
func (b *Barrier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstandingLocked()
}

func (b *Barrier) outstandingLocked() int {
	n := 0
	for _, c := range b.pending {
		if c > 0 {
			n++
		}
	}
	return n
}

// Done is closed once the barrier resolves.
func (b *Barrier) Done() <-chan struct{} { return b.done }

// Err returns the resolution error. It is nil until Done is closed.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Wait blocks until the barrier resolves or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Barrier) bumpLocked(id string, delta int) {
	n := b.pending[id] + delta
	if n == 0 {
		delete(b.pending, id)
		return
	}
	b.pending[id] = n
}

func (b *Barrier) resolve(err error) {
	b.mu.Lock()
	if b.resolved {
		b.mu.Unlock()
		return
	}
	b.resolved = true
	b.err = err
	hook := b.onResolve
	b.mu.Unlock()

	if hook != nil {
		hook(err)
	}
	close(b.done)
}
